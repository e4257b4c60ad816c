package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/realtime"

	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow a ward's safe walk live as a guardian",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			e := a.env(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			detail, err := e.api.Detail(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printDetail(out, detail)
			if detail.Status == api.StatusEnded {
				return nil
			}

			token, err := e.store.AccessToken(ctx)
			if err != nil {
				return err
			}
			rt := realtime.New(e.cfg.RealtimeURL, realtime.WithLogger(e.log))
			if err := rt.Connect(ctx, token, id); err != nil {
				return err
			}
			defer rt.Disconnect()
			return follow(ctx, out, rt.Events())
		},
	}
}

// follow prints topic events until the walk ends, the channel closes or ctx
// is cancelled.
func follow(ctx context.Context, out io.Writer, events <-chan api.RealtimeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintln(out, "Connection closed")
				return nil
			}
			switch ev.Type {
			case api.EventTrack:
				at := "-"
				if ev.CapturedAt != nil {
					at = ev.CapturedAt.Local().Format(time.TimeOnly)
				}
				fmt.Fprintf(out, "%s  %.6f, %.6f\n", at, ev.Lat, ev.Lon)
			case api.EventEnd:
				fmt.Fprintf(out, "Walk ended: %s\n", ev.Reason)
				return nil
			}
		}
	}
}
