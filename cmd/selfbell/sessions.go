package main

import (
	"fmt"
	"time"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/transport"

	"github.com/spf13/cobra"
)

func newCurrentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show your walk that has not ended yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := a.env(cmd)
			state, err := e.api.Current(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if state == nil {
				fmt.Fprintln(out, "No active safe walk")
				return nil
			}
			fmt.Fprintf(out, "Safe walk %d  %s  started %s\n", state.ID, state.Status, formatTime(state.StartedAt))
			if state.LastUpdate != nil {
				fmt.Fprintf(out, "Last location %.6f, %.6f at %s\n",
					state.LastUpdate.Lat, state.LastUpdate.Lon, formatTime(state.LastUpdate.CapturedAt))
			}
			return nil
		},
	}
}

func newDetailCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detail <session-id>",
		Short: "Show a safe walk you own or guard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			detail, err := a.env(cmd).api.Detail(cmd.Context(), id)
			if err != nil {
				return err
			}
			printDetail(cmd.OutOrStdout(), detail)
			return nil
		},
	}
}

func newTracksCmd(a *app) *cobra.Command {
	var (
		size  int
		order string
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "tracks <session-id>",
		Short: "List uploaded locations of a safe walk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			e := a.env(cmd)
			var (
				items []api.TrackItem
				next  *string
			)
			if all {
				items, err = e.api.AllTracks(cmd.Context(), id, size, api.SortOrder(order))
			} else {
				var page api.TrackPage
				page, err = e.api.Tracks(cmd.Context(), id, transport.TrackQuery{Size: size, Order: api.SortOrder(order)})
				items, next = page.Items, page.NextCursor
			}
			if err != nil {
				return err
			}
			printTracks(cmd.OutOrStdout(), items)
			if next != nil && *next != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "More available, use --all")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "size", 50, "page size")
	cmd.Flags().StringVar(&order, "order", "asc", "asc or desc")
	cmd.Flags().BoolVar(&all, "all", false, "follow cursors until every track is listed")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var target, from, to, order string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past safe walks, yours or your wards'",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := transport.HistoryFilter{Target: api.HistoryTarget(target), Order: api.SortOrder(order)}
			var err error
			if f.From, err = parseOptionalTime(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if f.To, err = parseOptionalTime(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			items, err := a.env(cmd).api.History(cmd.Context(), f)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), items)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "me", "me or ward")
	cmd.Flags().StringVar(&from, "from", "", "earliest start time, RFC3339")
	cmd.Flags().StringVar(&to, "to", "", "latest start time, RFC3339")
	cmd.Flags().StringVar(&order, "order", "desc", "asc or desc")
	return cmd
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
