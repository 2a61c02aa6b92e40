package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagesync/protocol"
	"github.com/hazyhaar/pagesync/record"
	"github.com/hazyhaar/pagesync/transport"
)

type replayFlags struct {
	db        string
	recording string
	to        string
	speed     float64
	maxGap    time.Duration
	list      bool
}

func newReplayCmd(a *app) *cobra.Command {
	var f replayFlags
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded session to a relay or stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.db == "" {
				f.db = a.cfg.Relay.RecordPath
			}
			if f.db == "" {
				return errors.New("replay: no recording database (use --db or relay.record_path)")
			}
			store, err := record.Open(f.db, record.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer store.Close()

			if f.list {
				return listRecordings(cmd.Context(), store, cmd.OutOrStdout())
			}
			return a.runReplay(cmd.Context(), store, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.db, "db", "", "recording database (default relay.record_path)")
	cmd.Flags().StringVar(&f.recording, "recording", "", "recording id")
	cmd.Flags().StringVar(&f.to, "to", "", "relay endpoint; empty writes JSON lines to stdout")
	cmd.Flags().Float64Var(&f.speed, "speed", 1, "playback speed factor; 0 replays without pauses")
	cmd.Flags().DurationVar(&f.maxGap, "max-gap", 0, "cap on the pause between two batches")
	cmd.Flags().BoolVar(&f.list, "list", false, "list recordings and exit")
	return cmd
}

func (a *app) runReplay(ctx context.Context, store *record.Store, f replayFlags, out io.Writer) error {
	if f.recording == "" {
		return errors.New("replay: --recording is required")
	}
	rec, err := store.Get(ctx, f.recording)
	if err != nil {
		return err
	}

	var tr transport.Transport = transport.NewStdout(out)
	if f.to != "" {
		endpoint, err := relayURL(f.to, rec.SessionID, "replay-"+rec.ID)
		if err != nil {
			return err
		}
		ws, err := transport.DialWebSocket(ctx, endpoint, nil, transport.WithWebSocketLogger(a.logger))
		if err != nil {
			return err
		}
		tr = ws
	}
	defer tr.Close()

	sent := 0
	err = store.Replay(ctx, rec.ID, record.ReplayOptions{Speed: f.speed, MaxGap: f.maxGap}, func(msg protocol.Message) error {
		sent++
		return tr.Send(ctx, msg)
	})
	a.logger.Info("pagesync: replay finished", "recording", rec.ID, "session", rec.SessionID, "messages", sent)
	if err != nil {
		return fmt.Errorf("replay %s: %w", rec.ID, err)
	}
	return nil
}

func listRecordings(ctx context.Context, store *record.Store, out io.Writer) error {
	recs, err := store.Recordings(ctx, "")
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSESSION\tSTARTED\tSTOPPED\tBATCHES")
	for _, r := range recs {
		stopped := "-"
		if r.StoppedAt != nil {
			stopped = r.StoppedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.SessionID, r.StartedAt.Format(time.RFC3339), stopped, r.Batches)
	}
	return tw.Flush()
}
