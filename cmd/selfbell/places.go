package main

import (
	"fmt"
	"text/tabwriter"

	"backend-selfbell/internal/api"

	"github.com/spf13/cobra"
)

func newNearbyCmd(a *app) *cobra.Command {
	var (
		lat, lon, radius float64
		kind             string
	)

	cmd := &cobra.Command{
		Use:   "nearby",
		Short: "List emergency bells and offender locations near a point",
		RunE: func(cmd *cobra.Command, args []string) error {
			places, err := a.env(cmd).api.Nearby(cmd.Context(), lat, lon, radius, api.PlaceKind(kind))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(places) == 0 {
				fmt.Fprintln(out, "Nothing within range")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tNAME\tDISTANCE\tADDRESS")
			for _, p := range places {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Kind, p.Name, formatDistance(p.DistanceM), p.Address)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude (required)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude (required)")
	cmd.Flags().Float64Var(&radius, "radius", 1000, "search radius in meters")
	cmd.Flags().StringVar(&kind, "kind", "", "EMERGENCY_BELL or OFFENDER")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lon")
	return cmd
}
