package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"backend-selfbell/internal/api"
)

const timeLayout = "2006-01-02 15:04"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// formatDistance renders meters below 1km and kilometers above.
func formatDistance(m float64) string {
	if m < 1000 {
		return fmt.Sprintf("%.0fm", m)
	}
	return fmt.Sprintf("%.1fkm", m/1000)
}

func printDetail(out io.Writer, d api.SessionDetail) {
	fmt.Fprintf(out, "Safe walk %d  %s\n", d.ID, d.Status)
	fmt.Fprintf(out, "Ward         %s (%d)\n", d.WardName, d.WardID)
	fmt.Fprintf(out, "From         %s (%.6f, %.6f)\n", d.OriginAddress, d.Origin.Lat, d.Origin.Lon)
	fmt.Fprintf(out, "To           %s (%.6f, %.6f)\n", d.DestinationAddress, d.Destination.Lat, d.Destination.Lon)
	fmt.Fprintf(out, "Started      %s\n", formatTime(d.StartedAt))
	if d.ExpectedArrival != nil {
		fmt.Fprintf(out, "Expected     %s\n", formatTime(*d.ExpectedArrival))
	}
	if d.TimerEnd != nil {
		fmt.Fprintf(out, "Timer ends   %s\n", formatTime(*d.TimerEnd))
	}
	fmt.Fprintf(out, "Distance     %s\n", formatDistance(d.DistanceM))
	if d.LastLocation != nil {
		fmt.Fprintf(out, "Last seen    %.6f, %.6f at %s\n", d.LastLocation.Lat, d.LastLocation.Lon, formatTime(d.LastLocation.CapturedAt))
	}
	if d.EndedAt != nil {
		reason := api.EndReason("")
		if d.EndReason != nil {
			reason = *d.EndReason
		}
		fmt.Fprintf(out, "Ended        %s (%s)\n", formatTime(*d.EndedAt), reason)
	}
	for _, g := range d.Guardians {
		fmt.Fprintf(out, "Guardian     %s (%d)\n", g.Name, g.ID)
	}
}

func printTracks(out io.Writer, items []api.TrackItem) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No tracks")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAPTURED\tLAT\tLON\tACCURACY")
	for _, t := range items {
		fmt.Fprintf(w, "%d\t%s\t%.6f\t%.6f\t%s\n", t.TrackID, formatTime(t.CapturedAt), t.Lat, t.Lon, formatDistance(t.AccuracyM))
	}
	w.Flush()
}

func printHistory(out io.Writer, items []api.HistoryItem) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No safe walks")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWARD\tSTATUS\tSTARTED\tTO\tDISTANCE\tREASON")
	for _, h := range items {
		reason := "-"
		if h.EndReason != nil {
			reason = string(*h.EndReason)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			h.ID, h.WardName, h.Status, formatTime(h.StartedAt), h.DestinationAddress, formatDistance(h.DistanceM), reason)
	}
	w.Flush()
}
