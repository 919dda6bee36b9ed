package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"

	"signalwars/internal/config"
	"signalwars/internal/domain"
	"signalwars/internal/repo"
)

func TestEventStream(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	if _, err := srv.Engine.InitializeArena(ctx, "root"); err != nil {
		t.Fatalf("init: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/events/stream?types=agent.registered"
	if _, res, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil || res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-Actor-Id": []string{"watcher"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := srv.Engine.RegisterAgent(ctx, "bob", "beta", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var evt outboundEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.Type != "agent.registered" || evt.ActorID != "bob" {
		t.Fatalf("expected bob's registration, got %+v", evt)
	}
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
}

func TestEventStreamRejectsBadCursor(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events/stream?after=x", nil, as("root"))
	expectStatus(t, res, body, http.StatusBadRequest)
}

func runNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatalf("nats server not ready")
	}
	return ns
}

func TestNATSRelay(t *testing.T) {
	ns := runNATS(t)
	defer ns.Shutdown()

	cfg := config.Default()
	cfg.Relay.NATSURL = ns.ClientURL()
	cfg.Relay.SubjectPrefix = "arena"
	srv, cleanup := newTestServer(t, cfg)
	defer cleanup()
	ctx := context.Background()
	if _, err := srv.Engine.InitializeArena(ctx, "root"); err != nil {
		t.Fatalf("init: %v", err)
	}

	relay, err := newNATSRelay(ctx, srv.Engine)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	defer relay.conn.Close()

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sub.Close()
	msgs, err := sub.SubscribeSync("arena.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if _, err := srv.Engine.RegisterAgent(ctx, "carol", "gamma", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := relay.publishPending(ctx); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := msgs.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if msg.Subject != "arena.agent.registered" {
		t.Fatalf("unexpected subject %s", msg.Subject)
	}
	var evt outboundEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.ActorID != "carol" || msg.Header.Get("Nats-Msg-Id") == "" {
		t.Fatalf("unexpected message %+v headers %v", evt, msg.Header)
	}
	if _, err := msgs.NextMsg(200 * time.Millisecond); err == nil {
		t.Fatalf("arena.initialized predates the relay and must not be published")
	}

	if err := relay.publishPending(ctx); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if _, err := msgs.NextMsg(200 * time.Millisecond); err == nil {
		t.Fatalf("events must be published once")
	}
}

func TestAPIKeyCache(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()

	a := newAPIKeyAuthenticator(srv.Engine.Repo, time.Minute)
	secret := "sw_" + uuid.NewString()
	if _, err := a.authenticate(ctx, secret); err == nil {
		t.Fatalf("unknown key must fail")
	}
	key := domain.APIKey{ID: uuid.NewString(), Identity: "root", KeyHash: repo.HashAPIKey(secret)}
	if err := srv.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	p, err := a.authenticate(ctx, secret)
	if err != nil || p.Identity != "root" {
		t.Fatalf("expected root, got %+v %v", p, err)
	}
	if err := srv.Engine.Repo.DeleteAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if p, err := a.authenticate(ctx, secret); err != nil || p.Identity != "root" {
		t.Fatalf("cached key should still authenticate within ttl: %v", err)
	}
	if _, err := newAPIKeyAuthenticator(srv.Engine.Repo, time.Minute).authenticate(ctx, secret); err == nil {
		t.Fatalf("deleted key must fail on a fresh cache")
	}
}
