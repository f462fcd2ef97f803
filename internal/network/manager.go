// Package network manages the lifecycle of peer connections and routes
// typed messages between them and the surrounding application.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"PrivMesh/internal/crypto"
	"PrivMesh/internal/events"
	"PrivMesh/internal/logger"
	"PrivMesh/internal/privacy"
)

const (
	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "privmesh/1"

	// codeCapacity is the application close code for capacity rejections.
	codeCapacity = quic.ApplicationErrorCode(1)

	// defaultMaxConnections bounds the connection table when unconfigured.
	defaultMaxConnections = 50

	// defaultHeartbeatInterval is the probe period when unconfigured.
	defaultHeartbeatInterval = 30 * time.Second
)

// Config holds the configuration for a Manager.
type Config struct {
	PrivateKey        ed25519.PrivateKey // PrivateKey signs the transport certificate
	ListenAddr        string             // ListenAddr is the address to listen on (e.g. ":9000")
	MaxConnections    int                // MaxConnections caps the connection table
	HeartbeatInterval time.Duration      // HeartbeatInterval is the liveness probe period
	DiscoveryInterval time.Duration      // DiscoveryInterval is reserved for the discovery handler
}

// MessageEvent is the payload of messageReceived and the per-type events.
type MessageEvent struct {
	Peer    string   // Peer is the locally assigned id of the sending connection
	Message *Message // Message is the validated envelope
}

// DataShareEvent is the payload of dataShare events. Data holds the
// decrypted payload when the share carried an encrypted envelope; it is nil
// when the payload was opaque.
type DataShareEvent struct {
	Peer    string
	Message *Message
	Data    any
}

// Stats is a read-only snapshot of the connection table.
type Stats struct {
	ConnectedNodes int      `json:"connectedNodes"`
	MaxConnections int      `json:"maxConnections"`
	Peers          []string `json:"peers"`
}

// Manager accepts peer connections, assigns their identifiers, dispatches
// inbound messages by type and sends or broadcasts outbound ones. It owns
// the connection table exclusively.
type Manager struct {
	cfg        Config
	tlsConfig  *tls.Config  // tlsConfig is the transport TLS configuration
	quicConfig *quic.Config // quicConfig is the QUIC configuration

	listener *quic.Listener // listener is the QUIC listener

	conns   map[string]*Conn // conns maps peer id to connection
	connsMu sync.RWMutex     // connsMu protects conns

	bus   *events.Bus      // bus publishes lifecycle and message events
	priv  *privacy.Manager // priv decrypts inbound data shares; may be nil
	guard *ReplayGuard     // guard rejects replayed message ids

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager creates a network manager. The privacy manager is optional;
// without it DATA_SHARE payloads are handed through opaque.
func NewManager(cfg Config, bus *events.Bus, priv *privacy.Manager) (*Manager, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}

	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}

	cert, err := selfSignedCert(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // peer identity is assigned locally, not taken from the cert
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout: 60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:        cfg,
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		conns:      make(map[string]*Conn),
		bus:        bus,
		priv:       priv,
		guard:      NewReplayGuard(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins accepting inbound connections.
func (m *Manager) Start() error {
	listener, err := quic.ListenAddr(m.cfg.ListenAddr, m.tlsConfig, m.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	m.listener = listener

	m.wg.Add(1)
	go m.acceptLoop()

	logger.Info("network listening", "addr", listener.Addr().String(), "max", m.cfg.MaxConnections)

	return nil
}

// Addr returns the listener's address. Returns empty string if not started.
func (m *Manager) Addr() string {
	if m.listener == nil {
		return ""
	}

	return m.listener.Addr().String()
}

// Connect dials a remote node. The resulting connection gets a locally
// assigned peer id, exactly like an accepted one.
func (m *Manager) Connect(addr string) (*Conn, error) {
	qc, err := quic.DialAddr(m.ctx, addr, m.tlsConfig, m.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c, err := m.register(qc)
	if err != nil {
		_ = qc.CloseWithError(codeCapacity, "capacity")
		return nil, err
	}

	return c, nil
}

// SendMessage transmits a message to its recipient. It returns false, never
// an error, when the recipient is unknown or the connection is not open;
// transport faults are emitted as error events and also reported as false.
func (m *Manager) SendMessage(msg *Message) bool {
	m.connsMu.RLock()
	c, ok := m.conns[msg.Recipient]
	m.connsMu.RUnlock()

	if !ok || !c.Open() {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		m.emitError("sendMessage", err)
		return false
	}

	if err := c.send(kindMessage, data); err != nil {
		m.emitError("sendMessage", err)
		return false
	}

	m.bus.Emit(events.MessageSent, msg)

	return true
}

// Broadcast sends a per-recipient copy of the template message to every
// open connection. Connections that are not open are silently skipped.
// Exactly one messageBroadcast event is emitted, for the template.
func (m *Manager) Broadcast(msg *Message) {
	m.connsMu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.connsMu.RUnlock()

	for _, c := range conns {
		if !c.Open() {
			continue
		}

		out := *msg
		out.Recipient = c.id

		data, err := json.Marshal(&out)
		if err != nil {
			m.emitError("broadcast", err)
			continue
		}

		if err := c.send(kindMessage, data); err != nil {
			m.emitError("broadcast", err)
		}
	}

	m.bus.Emit(events.MessageBroadcast, msg)
}

// Stats returns a read-only snapshot of the connection table.
func (m *Manager) Stats() Stats {
	m.connsMu.RLock()
	defer m.connsMu.RUnlock()

	peers := make([]string, 0, len(m.conns))
	for id := range m.conns {
		peers = append(peers, id)
	}

	return Stats{
		ConnectedNodes: len(m.conns),
		MaxConnections: m.cfg.MaxConnections,
		Peers:          peers,
	}
}

// Close disconnects every live peer, stops the accept loop and emits
// serverClosed once fully stopped. Safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.connsMu.RLock()
		conns := make([]*Conn, 0, len(m.conns))
		for _, c := range m.conns {
			conns = append(conns, c)
		}
		m.connsMu.RUnlock()

		for _, c := range conns {
			c.disconnect()
		}

		if m.listener != nil {
			_ = m.listener.Close()
		}

		m.cancel()
		m.wg.Wait()
		m.guard.Close()

		logger.Info("network stopped")
		m.bus.Emit(events.ServerClosed, nil)
	})

	return nil
}

// acceptLoop accepts incoming connections until the listener closes.
func (m *Manager) acceptLoop() {
	defer m.wg.Done()

	for {
		qc, err := m.listener.Accept(m.ctx)
		if err != nil {
			// Listener closed during shutdown is the normal exit path; any
			// other accept fault is surfaced for the host to escalate.
			if m.ctx.Err() == nil {
				m.emitError("accept", err)
			}
			return
		}

		m.handleIncoming(qc)
	}
}

// handleIncoming registers an accepted connection, or rejects it at
// capacity with a dedicated close code and no table entry.
func (m *Manager) handleIncoming(qc *quic.Conn) {
	if _, err := m.register(qc); err != nil {
		logger.Warn("connection rejected", "remote", qc.RemoteAddr().String(), "reason", "capacity")
		_ = qc.CloseWithError(codeCapacity, "capacity")
	}
}

// register assigns a fresh peer id, adds the connection to the table and
// starts its receive loop and heartbeat.
func (m *Manager) register(qc *quic.Conn) (*Conn, error) {
	// A dial racing shutdown must not start goroutines after Close has
	// begun waiting for them.
	if m.ctx.Err() != nil {
		return nil, fmt.Errorf("manager closed")
	}

	m.connsMu.Lock()

	if len(m.conns) >= m.cfg.MaxConnections {
		m.connsMu.Unlock()
		return nil, fmt.Errorf("connection table full (%d)", m.cfg.MaxConnections)
	}

	id := newPeerID()
	c := newConn(id, qc, m)
	m.conns[id] = c

	m.connsMu.Unlock()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		c.receiveLoop()
	}()
	go func() {
		defer m.wg.Done()
		c.heartbeatLoop(m.cfg.HeartbeatInterval)
	}()

	logger.Debug("peer connected", "peer", id, "remote", qc.RemoteAddr().String())
	m.bus.Emit(events.NodeConnected, id)

	return c, nil
}

// dropConn removes a disconnected connection from the table.
func (m *Manager) dropConn(c *Conn) {
	m.connsMu.Lock()
	delete(m.conns, c.id)
	m.connsMu.Unlock()

	logger.Debug("peer disconnected", "peer", c.id)
	m.bus.Emit(events.NodeDisconnected, c.id)
}

// handleInbound parses, validates and dispatches one inbound message.
// Failures are reported without affecting the connection.
func (m *Manager) handleInbound(peerID string, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.emitError("parse message", fmt.Errorf("from %s: %w", peerID, err))
		return
	}

	if err := msg.Validate(time.Now()); err != nil {
		m.emitError("validate message", fmt.Errorf("from %s: %w", peerID, err))
		return
	}

	if !m.guard.Check(msg.ID) {
		m.emitError("validate message", fmt.Errorf("duplicate message id %s from %s", msg.ID, peerID))
		return
	}

	// The generic event fires for every valid message, before and regardless
	// of type-specific handling.
	m.bus.Emit(events.MessageReceived, MessageEvent{Peer: peerID, Message: &msg})

	m.dispatch(peerID, &msg)
}

// dispatch routes a validated message to its type-specific event.
func (m *Manager) dispatch(peerID string, msg *Message) {
	evt := MessageEvent{Peer: peerID, Message: msg}

	switch msg.Type {
	case TypeResourceRequest:
		m.bus.Emit(events.ResourceRequest, evt)
	case TypeResourceResponse:
		// Responses have no dedicated event category; observers correlate
		// them via messageReceived and the message id.
	case TypeDataShare:
		m.handleDataShare(peerID, msg)
	case TypePatternUpdate:
		m.bus.Emit(events.PatternUpdate, evt)
	case TypeConsensusRequest:
		// Routed but not adjudicated here.
		m.bus.Emit(events.ConsensusRequest, evt)
	case TypeNodeDiscovery:
		m.bus.Emit(events.NodeDiscovery, evt)
	default:
		logger.Debug("unknown message type", "peer", peerID, "type", string(msg.Type))
		m.bus.Emit(events.UnknownMessageType, evt)
	}
}

// handleDataShare decrypts an inbound share before handing it to observers.
// Envelope-shaped payloads that fail to open are dropped (error event, no
// dataShare); payloads that are not envelopes pass through opaque.
func (m *Manager) handleDataShare(peerID string, msg *Message) {
	if m.priv == nil || len(msg.Payload) == 0 {
		m.bus.Emit(events.DataShare, DataShareEvent{Peer: peerID, Message: msg})
		return
	}

	var env crypto.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil || env.Data == "" || env.IV == "" || env.Tag == "" {
		m.bus.Emit(events.DataShare, DataShareEvent{Peer: peerID, Message: msg})
		return
	}

	data, err := m.priv.DecryptData(&env)
	if err != nil {
		// The privacy manager already emitted the error event.
		return
	}

	m.bus.Emit(events.DataShare, DataShareEvent{Peer: peerID, Message: msg, Data: data})
}

// emitError logs and publishes a recovered network failure.
func (m *Manager) emitError(context string, err error) {
	logger.Warn("network error", "op", context, "error", err)
	m.bus.Emit(events.Error, events.ErrorEvent{Scope: "network", Context: context, Err: err})
}
