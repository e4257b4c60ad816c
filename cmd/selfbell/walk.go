package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/location"
	"backend-selfbell/internal/realtime"
	"backend-selfbell/internal/walk"

	"github.com/spf13/cobra"
)

const (
	endTimeout      = 15 * time.Second
	firstFixTimeout = 2 * time.Minute
)

type walkOptions struct {
	fromLat, fromLon float64
	fromAddress      string
	toLat, toLon     float64
	toAddress        string
	guardians        []int64
	eta              string
	timerMinutes     int
	nmeaPath         string
	nmeaSpeed        float64
}

func newWalkCmd(a *app) *cobra.Command {
	var opts walkOptions

	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Start a safe walk and share your location until it ends",
		Long: "Creates a safe walk, samples the GPS and reports every Nth fix to the server and " +
			"to watching guardians. The walk ends on Ctrl-C (MANUAL), on arrival when " +
			"--arrival-radius is set, or at the deadline when --enforce-deadline is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWalk(cmd, a, opts)
		},
	}

	f := cmd.Flags()
	f.Float64Var(&opts.fromLat, "from-lat", 0, "origin latitude (default: first GPS fix)")
	f.Float64Var(&opts.fromLon, "from-lon", 0, "origin longitude (default: first GPS fix)")
	f.StringVar(&opts.fromAddress, "from-address", "", "origin address")
	f.Float64Var(&opts.toLat, "to-lat", 0, "destination latitude (required)")
	f.Float64Var(&opts.toLon, "to-lon", 0, "destination longitude (required)")
	f.StringVar(&opts.toAddress, "to-address", "", "destination address")
	f.Int64SliceVar(&opts.guardians, "guardian", nil, "guardian user id to notify (repeatable)")
	f.StringVar(&opts.eta, "eta", "", "expected arrival as RFC3339 or a duration from now, e.g. 25m")
	f.IntVar(&opts.timerMinutes, "timer", 0, "walk timer in minutes")
	f.StringVar(&opts.nmeaPath, "nmea", "", "replay fixes from an NMEA log instead of gpsd")
	f.Float64Var(&opts.nmeaSpeed, "nmea-speed", 1, "NMEA replay speed multiplier, 0 for no pacing")

	f.Int("report-interval", 0, "report every Nth sample")
	f.Duration("sample-interval", 0, "GPS sampling interval")
	f.Float64("min-displacement", 0, "minimum movement in meters between samples")
	f.Duration("dispatch-timeout", 0, "per-report network timeout")
	f.String("gpsd", "", "gpsd address")
	f.String("permission", "", "location permission: fine, coarse or none")
	f.Float64("arrival-radius", 0, "end with ARRIVED within this many meters of the destination")
	f.Bool("enforce-deadline", false, "end with TIMEOUT when the deadline passes")
	for key, name := range map[string]string{
		"REPORT_INTERVAL":    "report-interval",
		"SAMPLE_INTERVAL":    "sample-interval",
		"MIN_DISPLACEMENT_M": "min-displacement",
		"DISPATCH_TIMEOUT":   "dispatch-timeout",
		"GPSD_ADDR":          "gpsd",
		"PERMISSION":         "permission",
		"ARRIVAL_RADIUS_M":   "arrival-radius",
		"ENFORCE_DEADLINE":   "enforce-deadline",
	} {
		_ = a.v.BindPFlag(key, f.Lookup(name))
	}

	cmd.MarkFlagRequired("to-lat")
	cmd.MarkFlagRequired("to-lon")
	return cmd
}

func runWalk(cmd *cobra.Command, a *app, opts walkOptions) error {
	e := a.env(cmd)
	cfg := e.cfg

	arrival, err := parseArrival(opts.eta, opts.timerMinutes, time.Now())
	if err != nil {
		return err
	}
	grant, err := location.ParseGrant(cfg.Permission)
	if err != nil {
		return err
	}

	var provider location.Provider = location.NewGPSD(cfg.GPSDAddr)
	if opts.nmeaPath != "" {
		provider = location.NewReplay(opts.nmeaPath, opts.nmeaSpeed)
	}
	source := location.NewSource(provider, grant,
		location.WithRequest(location.Request{Interval: cfg.SampleInterval, MinDisplacementM: cfg.MinDisplacementM}),
		location.WithLogger(e.log),
	)
	rt := realtime.New(cfg.RealtimeURL, realtime.WithLogger(e.log))
	ctrl := walk.NewController(e.api, rt, source, e.store,
		walk.WithLogger(e.log),
		walk.WithConfig(walk.Config{
			ReportInterval:  cfg.ReportInterval,
			DispatchTimeout: cfg.DispatchTimeout,
			ArrivalRadiusM:  cfg.ArrivalRadiusM,
			EnforceDeadline: cfg.EnforceDeadline,
		}),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := walk.StartRequest{
		Origin:             api.Coordinate{Lat: opts.fromLat, Lon: opts.fromLon},
		OriginAddress:      opts.fromAddress,
		Destination:        api.Coordinate{Lat: opts.toLat, Lon: opts.toLon},
		DestinationAddress: opts.toAddress,
		GuardianIDs:        opts.guardians,
		Arrival:            arrival,
	}
	if !cmd.Flags().Changed("from-lat") || !cmd.Flags().Changed("from-lon") {
		fmt.Fprintln(cmd.OutOrStdout(), "Waiting for a GPS fix...")
		fix, err := firstFix(ctx, source, firstFixTimeout)
		if err != nil {
			return err
		}
		req.Origin = api.Coordinate{Lat: fix.Lat, Lon: fix.Lon}
	}

	return hostWalk(ctx, cmd.OutOrStdout(), ctrl, req)
}

// hostWalk keeps the controller running until the walk ends on its own or
// ctx is cancelled, which ends it as MANUAL.
func hostWalk(ctx context.Context, out io.Writer, ctrl *walk.Controller, req walk.StartRequest) error {
	session, err := ctrl.Start(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Safe walk %d started (topic %s)\n", session.ID, session.Topic)
	if deadline, ok := session.Deadline(); ok {
		fmt.Fprintf(out, "Deadline %s\n", deadline.Local().Format(time.Kitchen))
	}

	var endErr error
	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		endCtx, cancel := context.WithTimeout(context.Background(), endTimeout)
		endErr = ctrl.End(endCtx, api.EndManual)
		cancel()
		if errors.Is(endErr, walk.ErrAlreadyEnded) {
			endErr = nil
		}
	}

	stats := ctrl.Stats()
	fmt.Fprintf(out, "Safe walk %d ended: %s\n", session.ID, ctrl.EndReason())
	fmt.Fprintf(out, "samples=%d uploaded=%d/%d published=%d/%d dropped=%d\n",
		stats.Samples, stats.Uploaded, stats.Reports, stats.Published, stats.Reports, stats.Dropped)
	return endErr
}

// firstFix subscribes long enough to read one sample.
func firstFix(ctx context.Context, source walk.LocationSource, timeout time.Duration) (location.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := source.Subscribe(ctx)
	if err != nil {
		return location.Sample{}, err
	}
	defer stream.Stop()

	select {
	case s, ok := <-stream.C():
		if !ok {
			if err := stream.Err(); err != nil {
				return location.Sample{}, err
			}
			if ctx.Err() != nil {
				return location.Sample{}, fmt.Errorf("waiting for gps fix: %w", ctx.Err())
			}
			return location.Sample{}, errors.New("location stream closed before a fix")
		}
		return s, nil
	case <-ctx.Done():
		return location.Sample{}, fmt.Errorf("waiting for gps fix: %w", ctx.Err())
	}
}

// parseArrival accepts --eta as RFC3339 or a duration from now.
func parseArrival(eta string, timerMinutes int, now time.Time) (walk.ArrivalMode, error) {
	mode := walk.ArrivalMode{TimerMinutes: timerMinutes}
	if eta == "" {
		return mode, nil
	}
	if d, err := time.ParseDuration(eta); err == nil {
		if d <= 0 {
			return mode, errors.New("--eta must be in the future")
		}
		mode.ExpectedArrival = now.Add(d)
		return mode, nil
	}
	at, err := time.Parse(time.RFC3339, eta)
	if err != nil {
		return mode, fmt.Errorf("--eta: want RFC3339 or a duration: %w", err)
	}
	mode.ExpectedArrival = at
	return mode, nil
}
