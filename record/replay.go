package record

import (
	"context"
	"time"

	"github.com/hazyhaar/pagesync/protocol"
)

// ReplayOptions controls pacing.
type ReplayOptions struct {
	// Speed scales the recorded gaps between batches: 1 is real time, 2
	// twice as fast. 0 replays without waiting.
	Speed float64
	// MaxGap caps a single wait. 0 means no cap.
	MaxGap time.Duration
}

// Replay calls fn with every message of a recording in sequence order,
// waiting between batches according to opts. It stops at the first error
// from fn or when ctx is done.
func (s *Store) Replay(ctx context.Context, recordingID string, opts ReplayOptions, fn func(protocol.Message) error) error {
	if _, err := s.Get(ctx, recordingID); err != nil {
		return err
	}
	batches, err := s.Batches(ctx, recordingID)
	if err != nil {
		return err
	}
	var prev time.Time
	for i, b := range batches {
		if i > 0 && opts.Speed > 0 {
			gap := time.Duration(float64(b.At.Sub(prev)) / opts.Speed)
			if opts.MaxGap > 0 && gap > opts.MaxGap {
				gap = opts.MaxGap
			}
			if err := sleep(ctx, gap); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(b.Message); err != nil {
			return err
		}
		prev = b.At
	}
	s.logger.Debug("record: replay done", "recording", recordingID, "batches", len(batches))
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
