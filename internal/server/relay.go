package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"signalwars/internal/engine"
)

// natsRelay publishes every new event to <prefix>.<event type>.
type natsRelay struct {
	engine   engine.Engine
	conn     *nats.Conn
	prefix   string
	interval time.Duration
	cursor   int64
}

// newNATSRelay connects to the configured server and positions the cursor
// at the end of the log. It returns nil when no relay is configured.
func newNATSRelay(ctx context.Context, e engine.Engine) (*natsRelay, error) {
	if e.Config == nil || e.Config.Relay.NATSURL == "" {
		return nil, nil
	}
	conn, err := nats.Connect(e.Config.Relay.NATSURL, nats.Name("signalwars-arena"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	cursor, err := e.Repo.LatestEventID(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay cursor: %w", err)
	}
	return &natsRelay{
		engine:   e,
		conn:     conn,
		prefix:   e.Config.Relay.SubjectPrefix,
		interval: defaultPollInterval,
		cursor:   cursor,
	}, nil
}

func startNATSRelay(ctx context.Context, e engine.Engine) error {
	r, err := newNATSRelay(ctx, e)
	if err != nil || r == nil {
		return err
	}
	go r.run(ctx)
	return nil
}

func (r *natsRelay) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.conn.Drain()
	for {
		if err := r.publishPending(ctx); err != nil {
			log.Printf("relay: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// publishPending sends events after the cursor in order, stopping at the
// first failure so it is retried on the next tick.
func (r *natsRelay) publishPending(ctx context.Context) error {
	events, err := r.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, r.cursor)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	for _, evt := range events {
		data, err := json.Marshal(newOutboundEvent(evt))
		if err != nil {
			return err
		}
		msg := nats.NewMsg(r.prefix + "." + evt.Type)
		msg.Data = data
		msg.Header.Set("Nats-Msg-Id", strconv.FormatInt(evt.ID, 10))
		msg.Header.Set("X-Arena-Event", evt.Type)
		if err := r.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish %d: %w", evt.ID, err)
		}
		r.cursor = evt.ID
	}
	if len(events) > 0 {
		return r.conn.FlushTimeout(defaultWebhookTimeout)
	}
	return nil
}
