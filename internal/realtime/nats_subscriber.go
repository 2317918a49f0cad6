package realtime

import (
	"context"

	"github.com/nats-io/nats.go"
)

// Subject is the NATS subject prefix peer devices broadcast entity changes
// on, mirroring internal/eventbus.Bus.SetJetStream's fire-and-forget
// publish/subscribe shape but for entity mutations instead of hook events.
const Subject = "synccore.entities.>"

// Subscription wraps a NATS subscription that feeds Handler.Handle.
type Subscription struct {
	sub *nats.Subscription
}

// Subscribe attaches h to every message published under Subject. Decode
// failures and handler drops are handled entirely inside Handle; Subscribe
// itself only needs to hand off the raw message.
func Subscribe(ctx context.Context, nc *nats.Conn, h *Handler) (*Subscription, error) {
	sub, err := nc.Subscribe(Subject, func(msg *nats.Msg) {
		h.Handle(ctx, RawEvent{
			Subject: subjectWithoutPrefix(msg.Subject),
			Payload: msg.Data,
		})
	})
	if err != nil {
		return nil, err
	}
	return &Subscription{sub: sub}, nil
}

// Unsubscribe stops delivery.
func (s *Subscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func subjectWithoutPrefix(natsSubject string) string {
	const prefix = "synccore.entities."
	if len(natsSubject) > len(prefix) && natsSubject[:len(prefix)] == prefix {
		return natsSubject[len(prefix):]
	}
	return natsSubject
}
