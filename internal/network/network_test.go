package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quic-go/quic-go"

	"PrivMesh/internal/crypto"
	"PrivMesh/internal/events"
	"PrivMesh/internal/privacy"
)

// startTestManager starts a manager listening on an ephemeral localhost port.
func startTestManager(t *testing.T, bus *events.Bus, priv *privacy.Manager, maxConns int) *Manager {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	m, err := NewManager(Config{
		PrivateKey:        key,
		ListenAddr:        "127.0.0.1:0",
		MaxConnections:    maxConns,
		HeartbeatInterval: 200 * time.Millisecond,
	}, bus, priv)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("start manager: %v", err)
	}

	t.Cleanup(func() { _ = m.Close() })

	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}

	return cond()
}

func TestStartAndClose(t *testing.T) {
	bus := events.NewBus()
	m := startTestManager(t, bus, nil, 10)

	if m.Addr() == "" {
		t.Fatal("listener has no address")
	}

	var closed atomic.Bool
	bus.Subscribe(events.ServerClosed, func(events.Type, any) { closed.Store(true) })

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed.Load() {
		t.Error("serverClosed event not emitted")
	}
}

func TestConnectAndSendMessage(t *testing.T) {
	serverBus := events.NewBus()
	server := startTestManager(t, serverBus, nil, 10)

	var received atomic.Int32
	var typed atomic.Int32
	serverBus.Subscribe(events.MessageReceived, func(_ events.Type, payload any) {
		evt := payload.(MessageEvent)
		if evt.Message.Type == TypeResourceRequest {
			received.Add(1)
		}
	})
	serverBus.Subscribe(events.ResourceRequest, func(events.Type, any) { typed.Add(1) })

	clientBus := events.NewBus()
	client := startTestManager(t, clientBus, nil, 10)

	conn, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return server.Stats().ConnectedNodes == 1 }) {
		t.Fatal("server never registered the connection")
	}

	var sent atomic.Int32
	clientBus.Subscribe(events.MessageSent, func(events.Type, any) { sent.Add(1) })

	ok := client.SendMessage(&Message{
		ID:        NewMessageID(),
		Type:      TypeResourceRequest,
		Sender:    "client",
		Recipient: conn.ID(),
		Timestamp: time.Now().UnixMilli(),
	})
	if !ok {
		t.Fatal("sendMessage returned false for an open connection")
	}
	if sent.Load() != 1 {
		t.Errorf("messageSent events = %d, want 1", sent.Load())
	}

	if !waitFor(t, 2*time.Second, func() bool { return received.Load() == 1 }) {
		t.Fatal("server never received the message")
	}
	if typed.Load() != 1 {
		t.Errorf("resourceRequest events = %d, want 1", typed.Load())
	}
}

func TestSendMessageToUnknownPeer(t *testing.T) {
	bus := events.NewBus()
	m := startTestManager(t, bus, nil, 10)

	var sent atomic.Int32
	bus.Subscribe(events.MessageSent, func(events.Type, any) { sent.Add(1) })

	ok := m.SendMessage(&Message{
		ID:        NewMessageID(),
		Type:      TypeResourceRequest,
		Sender:    "local",
		Recipient: "peer-nonexistent",
		Timestamp: time.Now().UnixMilli(),
	})
	if ok {
		t.Error("sendMessage to unknown peer returned true")
	}
	if sent.Load() != 0 {
		t.Error("messageSent emitted for a failed send")
	}
}

func TestBroadcastSkipsClosedConnections(t *testing.T) {
	serverBus := events.NewBus()
	server := startTestManager(t, serverBus, nil, 10)

	var delivered atomic.Int32
	clients := make([]*Manager, 4)
	for i := range clients {
		bus := events.NewBus()
		bus.Subscribe(events.MessageReceived, func(events.Type, any) { delivered.Add(1) })
		clients[i] = startTestManager(t, bus, nil, 10)

		if _, err := clients[i].Connect(server.Addr()); err != nil {
			t.Fatalf("connect client %d: %v", i, err)
		}
	}

	if !waitFor(t, 2*time.Second, func() bool { return server.Stats().ConnectedNodes == 4 }) {
		t.Fatal("server never registered all connections")
	}

	// Drop one client; the remaining three receive the broadcast.
	_ = clients[3].Close()
	if !waitFor(t, 2*time.Second, func() bool { return server.Stats().ConnectedNodes == 3 }) {
		t.Fatal("server never noticed the closed connection")
	}

	var broadcasts atomic.Int32
	serverBus.Subscribe(events.MessageBroadcast, func(events.Type, any) { broadcasts.Add(1) })

	server.Broadcast(&Message{
		ID:        NewMessageID(),
		Type:      TypePatternUpdate,
		Sender:    "server",
		Timestamp: time.Now().UnixMilli(),
	})

	if !waitFor(t, 2*time.Second, func() bool { return delivered.Load() == 3 }) {
		t.Fatalf("deliveries = %d, want 3", delivered.Load())
	}
	if broadcasts.Load() != 1 {
		t.Errorf("messageBroadcast events = %d, want 1", broadcasts.Load())
	}
}

func TestCapacityRejection(t *testing.T) {
	serverBus := events.NewBus()
	server := startTestManager(t, serverBus, nil, 1)

	first := startTestManager(t, events.NewBus(), nil, 10)
	if _, err := first.Connect(server.Addr()); err != nil {
		t.Fatalf("connect first client: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return server.Stats().ConnectedNodes == 1 }) {
		t.Fatal("server never registered the first connection")
	}

	// A second connection must not enter the table.
	second := startTestManager(t, events.NewBus(), nil, 10)
	_, _ = second.Connect(server.Addr())

	time.Sleep(300 * time.Millisecond)

	if got := server.Stats().ConnectedNodes; got != 1 {
		t.Errorf("connected nodes = %d, want 1 (at capacity)", got)
	}
}

func TestHeartbeatProbeFailureDisconnects(t *testing.T) {
	server := startTestManager(t, events.NewBus(), nil, 10)

	clientBus := events.NewBus()
	client := startTestManager(t, clientBus, nil, 10)

	qc, err := quic.DialAddr(client.ctx, server.Addr(), client.tlsConfig, client.quicConfig)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var dropped atomic.Bool
	clientBus.Subscribe(events.NodeDisconnected, func(_ events.Type, payload any) {
		if payload.(string) == "peer-hb" {
			dropped.Store(true)
		}
	})

	// Insert the connection by hand, with no receive loop running, so only
	// the heartbeat can observe the severed transport.
	c := newConn("peer-hb", qc, client)
	client.connsMu.Lock()
	client.conns[c.id] = c
	client.connsMu.Unlock()

	_ = qc.CloseWithError(0, "severed")

	go c.heartbeatLoop(20 * time.Millisecond)

	if !waitFor(t, 2*time.Second, func() bool { return dropped.Load() }) {
		t.Fatal("nodeDisconnected never fired after probe failure")
	}

	client.connsMu.RLock()
	_, stillThere := client.conns["peer-hb"]
	client.connsMu.RUnlock()
	if stillThere {
		t.Error("connection left in the table after heartbeat failure")
	}
	if c.Open() {
		t.Error("connection still reports open after heartbeat failure")
	}
}

func TestConnectAfterCloseFails(t *testing.T) {
	server := startTestManager(t, events.NewBus(), nil, 10)

	client := startTestManager(t, events.NewBus(), nil, 10)
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := client.Connect(server.Addr()); err == nil {
		t.Error("connect on a closed manager succeeded")
	}

	if got := client.Stats().ConnectedNodes; got != 0 {
		t.Errorf("connected nodes = %d, want 0 after close", got)
	}
}

func TestReplayedMessageDroppedOnce(t *testing.T) {
	serverBus := events.NewBus()
	server := startTestManager(t, serverBus, nil, 10)

	var received atomic.Int32
	serverBus.Subscribe(events.MessageReceived, func(events.Type, any) { received.Add(1) })

	client := startTestManager(t, events.NewBus(), nil, 10)
	conn, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return server.Stats().ConnectedNodes == 1 }) {
		t.Fatal("server never registered the connection")
	}

	msg := &Message{
		ID:        NewMessageID(),
		Type:      TypePatternUpdate,
		Sender:    "client",
		Recipient: conn.ID(),
		Timestamp: time.Now().UnixMilli(),
	}

	client.SendMessage(msg)
	client.SendMessage(msg)

	if !waitFor(t, 2*time.Second, func() bool { return received.Load() >= 1 }) {
		t.Fatal("server never received the message")
	}

	time.Sleep(300 * time.Millisecond)

	if got := received.Load(); got != 1 {
		t.Errorf("messageReceived events = %d, want 1 (duplicate dropped)", got)
	}
}

func TestDataShareDecryption(t *testing.T) {
	gate, err := crypto.NewGate()
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	serverBus := events.NewBus()
	serverPriv := privacy.NewManager(gate, serverBus)
	if err := serverPriv.SetPolicy(privacy.Policy{
		DataType:          "telemetry",
		AllowedOperations: []string{"read"},
		RetentionPeriod:   3600,
	}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	server := startTestManager(t, serverBus, serverPriv, 10)

	type share struct {
		peer string
		data any
	}
	shares := make(chan share, 1)
	serverBus.Subscribe(events.DataShare, func(_ events.Type, payload any) {
		evt := payload.(DataShareEvent)
		shares <- share{peer: evt.Peer, data: evt.Data}
	})

	// The sending node holds the same process key in this test, so the
	// receiving side can open its envelopes.
	clientBus := events.NewBus()
	clientPriv := privacy.NewManager(gate, clientBus)
	if err := clientPriv.SetPolicy(privacy.Policy{
		DataType:          "telemetry",
		AllowedOperations: []string{"read"},
		RetentionPeriod:   3600,
	}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	client := startTestManager(t, clientBus, clientPriv, 10)

	conn, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	env, err := clientPriv.EncryptData(map[string]any{"cpu": 0.42}, "telemetry")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return server.Stats().ConnectedNodes == 1 }) {
		t.Fatal("server never registered the connection")
	}

	ok := client.SendMessage(&Message{
		ID:        NewMessageID(),
		Type:      TypeDataShare,
		Sender:    "client",
		Recipient: conn.ID(),
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if !ok {
		t.Fatal("sendMessage returned false")
	}

	select {
	case got := <-shares:
		m, ok := got.data.(map[string]any)
		if !ok {
			t.Fatalf("decrypted data has type %T, want map", got.data)
		}
		if m["cpu"] != 0.42 {
			t.Errorf("decrypted cpu = %v, want 0.42", m["cpu"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dataShare event never arrived")
	}
}

func TestOpaqueDataSharePassesThrough(t *testing.T) {
	serverBus := events.NewBus()
	server := startTestManager(t, serverBus, nil, 10)

	shares := make(chan DataShareEvent, 1)
	serverBus.Subscribe(events.DataShare, func(_ events.Type, payload any) {
		shares <- payload.(DataShareEvent)
	})

	client := startTestManager(t, events.NewBus(), nil, 10)
	conn, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return server.Stats().ConnectedNodes == 1 }) {
		t.Fatal("server never registered the connection")
	}

	client.SendMessage(&Message{
		ID:        NewMessageID(),
		Type:      TypeDataShare,
		Sender:    "client",
		Recipient: conn.ID(),
		Payload:   []byte(`{"plain":"value"}`),
		Timestamp: time.Now().UnixMilli(),
	})

	select {
	case evt := <-shares:
		if evt.Data != nil {
			t.Errorf("opaque payload produced decrypted data %v", evt.Data)
		}
		if len(evt.Message.Payload) == 0 {
			t.Error("opaque payload not carried through")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dataShare event never arrived")
	}
}

func TestUnknownMessageType(t *testing.T) {
	serverBus := events.NewBus()
	server := startTestManager(t, serverBus, nil, 10)

	var unknown atomic.Int32
	serverBus.Subscribe(events.UnknownMessageType, func(events.Type, any) { unknown.Add(1) })

	client := startTestManager(t, events.NewBus(), nil, 10)
	conn, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return server.Stats().ConnectedNodes == 1 }) {
		t.Fatal("server never registered the connection")
	}

	client.SendMessage(&Message{
		ID:        NewMessageID(),
		Type:      "SOMETHING_ELSE",
		Sender:    "client",
		Recipient: conn.ID(),
		Timestamp: time.Now().UnixMilli(),
	})

	if !waitFor(t, 2*time.Second, func() bool { return unknown.Load() == 1 }) {
		t.Fatal("unknownMessageType event never arrived")
	}
}
