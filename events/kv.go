package events

import (
	"context"
	"encoding/json"

	"github.com/rustyeddy/tradeguard/store"
)

// KVPublisher publishes events on the KV store's pub/sub channel named by
// the topic.
type KVPublisher struct {
	KV store.KV
}

func (p KVPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.KV.Publish(ctx, e.Topic, string(b))
}
