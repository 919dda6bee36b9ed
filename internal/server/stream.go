package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"signalwars/internal/engine"
)

const (
	streamPollInterval = 500 * time.Millisecond
	streamWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventStreamHandler upgrades to a websocket and pushes events as JSON
// text frames. Query parameters: after (event id to resume from, default
// the current end of the log) and types (comma separated filter).
func eventStreamHandler(e engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := identityFromContext(r.Context()); err != nil {
			respondStatusError(w, err)
			return
		}
		var cursor int64
		if after := r.URL.Query().Get("after"); after != "" {
			v, err := strconv.ParseInt(after, 10, 64)
			if err != nil || v < 0 {
				respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid after cursor", map[string]any{"after": after}))
				return
			}
			cursor = v
		} else {
			latest, err := e.Repo.LatestEventID(r.Context())
			if err != nil {
				respondStatusError(w, handleError(err))
				return
			}
			cursor = latest
		}
		var types []string
		if raw := r.URL.Query().Get("types"); raw != "" {
			types = strings.Split(raw, ",")
		}
		filter := newEventFilter(types)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("stream: upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Upgrade hijacks the connection, so the request context no longer
		// tracks the client. A reader goroutine notices the close instead.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()
		for {
			events, err := e.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("stream: fetch events failed: %v", err)
				}
				return
			}
			for _, evt := range events {
				cursor = evt.ID
				if !filter.match(evt.Type) {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := conn.WriteJSON(newOutboundEvent(evt)); err != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}
