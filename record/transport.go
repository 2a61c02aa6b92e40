package record

import (
	"context"

	"github.com/hazyhaar/pagesync/protocol"
)

// Sink is a transport appending every message to one recording.
type Sink struct {
	store       *Store
	recordingID string
	names       map[string]bool
}

// Sink returns a transport recording into recordingID. When names is
// non-empty only those message names are kept.
func (s *Store) Sink(recordingID string, names ...string) *Sink {
	k := &Sink{store: s, recordingID: recordingID}
	if len(names) > 0 {
		k.names = make(map[string]bool, len(names))
		for _, n := range names {
			k.names[n] = true
		}
	}
	return k
}

func (k *Sink) Send(ctx context.Context, msg protocol.Message) error {
	if k.names != nil && !k.names[msg.Name] {
		return nil
	}
	_, err := k.store.Append(ctx, k.recordingID, msg)
	return err
}

func (k *Sink) Close() error { return nil }
