package downstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Notifier publishes the per-chunk and end-of-run progress events spec §4.7
// step 8/10 and §7 describe: a chunk_applied event after each chunk commits,
// and one downstream_complete event once a run applies at least one row.
type Notifier interface {
	PublishChunkApplied(ctx context.Context, tenant string, applied int) error
	PublishDownstreamComplete(ctx context.Context, tenant string, applied int) error
}

// NopNotifier discards every event, for tests and offline-only callers.
type NopNotifier struct{}

func (NopNotifier) PublishChunkApplied(context.Context, string, int) error       { return nil }
func (NopNotifier) PublishDownstreamComplete(context.Context, string, int) error { return nil }

// NatsNotifier fire-and-forget publishes progress events to NATS, mirroring
// internal/eventbus.Bus.SetJetStream's publish shape (the same grounding
// internal/realtime's subscriber side uses).
type NatsNotifier struct {
	nc *nats.Conn
}

func NewNatsNotifier(nc *nats.Conn) NatsNotifier {
	return NatsNotifier{nc: nc}
}

type progressEvent struct {
	Tenant  string `json:"tenant"`
	Applied int    `json:"applied"`
}

func (n NatsNotifier) PublishChunkApplied(_ context.Context, tenant string, applied int) error {
	return n.publish("synccore.downstream.chunk_applied", tenant, applied)
}

func (n NatsNotifier) PublishDownstreamComplete(_ context.Context, tenant string, applied int) error {
	return n.publish("synccore.downstream.complete", tenant, applied)
}

func (n NatsNotifier) publish(subject, tenant string, applied int) error {
	body, err := json.Marshal(progressEvent{Tenant: tenant, Applied: applied})
	if err != nil {
		return fmt.Errorf("downstream: marshal %s event: %w", subject, err)
	}
	return n.nc.Publish(subject, body)
}
