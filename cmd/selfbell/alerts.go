package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"backend-selfbell/internal/api"

	"github.com/spf13/cobra"
)

func newSOSCmd(a *app) *cobra.Command {
	var (
		req       api.RaiseAlertRequest
		sessionID int64
		lat, lon  float64
	)

	cmd := &cobra.Command{
		Use:   "sos",
		Short: "Alert all your guardians immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID > 0 {
				req.SessionID = &sessionID
			}
			latSet, lonSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")
			if latSet != lonSet {
				return errors.New("--lat and --lon go together")
			}
			if latSet {
				req.Lat, req.Lon = &lat, &lon
			}
			resp, err := a.env(cmd).api.RaiseAlert(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert sent to %d guardian(s)\n", resp.Notified)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Message, "message", "m", "", "message for your guardians")
	cmd.Flags().Int64Var(&sessionID, "session", 0, "attach the alert to this safe walk")
	cmd.Flags().Float64Var(&lat, "lat", 0, "your latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "your longitude")
	return cmd
}

func newAlertsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Guardian alert inbox",
	}
	cmd.AddCommand(newAlertsListCmd(a))
	cmd.AddCommand(newAlertsAckCmd(a))
	return cmd
}

func newAlertsListCmd(a *app) *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts raised by your wards",
		RunE: func(cmd *cobra.Command, args []string) error {
			alerts, err := a.env(cmd).api.Alerts(cmd.Context(), pending)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(alerts) == 0 {
				fmt.Fprintln(out, "No alerts")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tWARD\tAT\tSEEN\tMESSAGE")
			for _, al := range alerts {
				seen := "no"
				if al.DeliveredAt != nil {
					seen = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", al.ID, al.Kind, al.WardName, formatTime(al.CreatedAt), seen, al.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "only unacknowledged alerts")
	return cmd
}

func newAlertsAckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Mark an alert as seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.env(cmd).api.AckAlert(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged %s\n", args[0])
			return nil
		},
	}
}
