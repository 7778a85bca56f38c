package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	plog "github.com/secure-coap/edhoc-go/pkg/log"
)

type viewOptions struct {
	layer     string
	direction string
	category  string
	connID    string
	peerKID   string
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect protocol log files",
	}
	cmd.AddCommand(logViewCmd(), logStatsCmd())
	return cmd
}

func logViewCmd() *cobra.Command {
	var o viewOptions
	cmd := &cobra.Command{
		Use:   "view <file.plog>",
		Short: "Print events in human-readable form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := o.filter()
			if err != nil {
				return fail(cmd, err)
			}
			if err := runView(args[0], filter, cmd.OutOrStdout()); err != nil {
				return fail(cmd, err)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.layer, "layer", "", "transport, handshake, security or application")
	f.StringVar(&o.direction, "direction", "", "in or out")
	f.StringVar(&o.category, "category", "", "message, state or error")
	f.StringVar(&o.connID, "conn-id", "", "connection ID")
	f.StringVar(&o.peerKID, "peer-kid", "", "peer kid (hex)")
	return cmd
}

func logStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.plog>",
		Short: "Summarize a log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runStats(args[0], cmd.OutOrStdout()); err != nil {
				return fail(cmd, err)
			}
			return nil
		},
	}
}

func (o viewOptions) filter() (plog.Filter, error) {
	f := plog.Filter{ConnectionID: o.connID, PeerKID: strings.ToLower(o.peerKID)}
	if o.layer != "" {
		l, err := parseLayer(o.layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if o.direction != "" {
		d, err := parseDirection(o.direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if o.category != "" {
		c, err := parseCategory(o.category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	return f, nil
}

func parseLayer(s string) (plog.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return plog.LayerTransport, nil
	case "handshake":
		return plog.LayerHandshake, nil
	case "security":
		return plog.LayerSecurity, nil
	case "application":
		return plog.LayerApplication, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, handshake, security or application)", s)
	}
}

func parseDirection(s string) (plog.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return plog.DirectionIn, nil
	case "out":
		return plog.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

func parseCategory(s string) (plog.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return plog.CategoryMessage, nil
	case "state":
		return plog.CategoryState, nil
	case "error":
		return plog.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state or error)", s)
	}
}

func runView(path string, filter plog.Filter, w io.Writer) error {
	events, err := plog.ReadAll(path, filter)
	if err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}
	for _, e := range events {
		formatEvent(w, e)
	}
	return nil
}

// formatEvent writes a header line and the type-specific details.
func formatEvent(w io.Writer, event plog.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var label string
	switch {
	case event.Frame != nil:
		label = "Frame"
	case event.Handshake != nil:
		label = handshakeLabel(event.Handshake.Number)
	case event.Message != nil:
		label = event.Message.Type.String()
	case event.StateChange != nil:
		label = "State"
	case event.Error != nil:
		label = "Error"
	default:
		label = "Unknown"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, shortenConnID(event.ConnectionID),
		event.Direction, event.Layer, label)

	switch {
	case event.Frame != nil:
		fmt.Fprintf(w, "  Size: %d bytes\n", event.Frame.Size)
		if len(event.Frame.Data) > 0 {
			fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(event.Frame.Data))
			if event.Frame.Truncated {
				fmt.Fprint(w, " (truncated)")
			}
			fmt.Fprintln(w)
		}
	case event.Handshake != nil:
		h := event.Handshake
		fmt.Fprintf(w, "  Suite: %d  Size: %d bytes\n", h.Suite, h.Size)
		if h.ConnID != "" {
			fmt.Fprintf(w, "  ConnID: %s\n", h.ConnID)
		}
		if h.ByValue {
			fmt.Fprintln(w, "  Credential: by value")
		}
	case event.Message != nil:
		formatMessage(w, event.Message)
	case event.StateChange != nil:
		sc := event.StateChange
		fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
		if sc.OldState != "" {
			fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
		} else {
			fmt.Fprintf(w, "  -> %s\n", sc.NewState)
		}
		if sc.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
		}
	case event.Error != nil:
		fmt.Fprintf(w, "  Layer: %s\n", event.Error.Layer)
		fmt.Fprintf(w, "  Message: %s\n", event.Error.Message)
		if event.Error.Code != nil {
			fmt.Fprintf(w, "  Code: %d\n", *event.Error.Code)
		}
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}
	fmt.Fprintln(w)
}

func handshakeLabel(n int) string {
	if n == 0 {
		return "EDHOC error"
	}
	return fmt.Sprintf("message_%d", n)
}

func formatMessage(w io.Writer, m *plog.MessageEvent) {
	fmt.Fprintf(w, "  Code: %s", m.Code)
	if m.Path != "" {
		fmt.Fprintf(w, "  Path: %s", m.Path)
	}
	fmt.Fprintln(w)
	if len(m.Token) > 0 {
		fmt.Fprintf(w, "  Token: %x\n", m.Token)
	}
	if m.Sequence != nil {
		fmt.Fprintf(w, "  Sequence: %d\n", *m.Sequence)
	}
	if m.EDHOC {
		fmt.Fprintln(w, "  Carries message_3")
	}
	if m.Block != nil {
		fmt.Fprintf(w, "  Block: %d\n", *m.Block)
	}
	fmt.Fprintf(w, "  Payload: %d bytes\n", m.PayloadSize)
	if m.ProcessingTime != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*m.ProcessingTime))
	}
}

func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

func runStats(path string, w io.Writer) error {
	events, err := plog.ReadAll(path, plog.Filter{})
	if err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}
	printStats(w, events, plog.Summarize(events))
	return nil
}

func printStats(w io.Writer, events []plog.Event, stats plog.Stats) {
	fmt.Fprintln(w, "=== Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if len(events) > 0 {
		start, end := events[0].Timestamp, events[0].Timestamp
		for _, e := range events[1:] {
			if e.Timestamp.Before(start) {
				start = e.Timestamp
			}
			if e.Timestamp.After(end) {
				end = e.Timestamp
			}
		}
		fmt.Fprintf(w, "Time Range: %s to %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", end.Sub(start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.Total)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, l := range []plog.Layer{plog.LayerTransport, plog.LayerHandshake, plog.LayerSecurity, plog.LayerApplication} {
		if n := stats.ByLayer[l]; n > 0 {
			fmt.Fprintf(w, "  %-13s %d\n", l.String()+":", n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, c := range []plog.Category{plog.CategoryMessage, plog.CategoryState, plog.CategoryError} {
		if n := stats.ByCategory[c]; n > 0 {
			fmt.Fprintf(w, "  %-13s %d\n", c.String()+":", n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Connections: %d\n", stats.Connections)
	peers := peerKIDs(events)
	if len(peers) > 0 {
		fmt.Fprintf(w, "Peers:       %s\n", strings.Join(peers, ", "))
	}
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}

func peerKIDs(events []plog.Event) []string {
	seen := make(map[string]struct{})
	for _, e := range events {
		if e.PeerKID != "" {
			seen[e.PeerKID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
