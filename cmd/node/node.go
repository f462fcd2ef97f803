package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"PrivMesh/internal/api"
	"PrivMesh/internal/config"
	"PrivMesh/internal/events"
	"PrivMesh/internal/ledger"
	"PrivMesh/internal/logger"
	"PrivMesh/internal/network"
	"PrivMesh/internal/privacy"
)

// Node represents a running PrivMesh node.
type Node struct {
	cfg     *config.Config
	bus     *events.Bus
	ledger  *ledger.Ledger
	privacy *privacy.Manager
	network *network.Manager
	api     *api.Server
}

// NewNode creates and initializes a new node.
func NewNode(cfg *config.Config) (*Node, error) {
	n := &Node{
		cfg: cfg,
		bus: events.NewBus(),
	}

	if err := n.initLedger(); err != nil {
		return nil, err
	}

	if err := n.initPrivacy(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// initLedger opens the on-disk event ledger and attaches it to the bus so
// lifecycle and privacy events are persisted as they happen.
func (n *Node) initLedger() error {
	if err := os.MkdirAll(n.cfg.Data.Path, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	l, err := ledger.Open(filepath.Join(n.cfg.Data.Path, "ledger"))
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	l.Attach(n.bus,
		events.NodeConnected,
		events.NodeDisconnected,
		events.PolicyUpdated,
		events.ConsentGranted,
		events.ConsentRevoked,
		events.TrustScoreUpdated,
		events.ServerClosed,
		events.Error,
	)

	n.ledger = l

	return nil
}

// initPrivacy builds the encryption gate and the privacy manager.
func (n *Node) initPrivacy() error {
	gate, err := loadOrGenerateGate(n.cfg.Privacy.KeyPath)
	if err != nil {
		return fmt.Errorf("init crypto gate: %w", err)
	}

	n.privacy = privacy.NewManager(gate, n.bus)

	return nil
}

// initNetwork builds the QUIC overlay manager.
func (n *Node) initNetwork() error {
	key, err := loadOrGenerateIdentity(n.cfg.Data.KeyPath)
	if err != nil {
		return fmt.Errorf("load identity key: %w", err)
	}

	mgr, err := network.NewManager(network.Config{
		PrivateKey:        key,
		ListenAddr:        n.cfg.Network.ListenAddr,
		MaxConnections:    n.cfg.Network.MaxConnections,
		HeartbeatInterval: n.cfg.Network.HeartbeatInterval,
		DiscoveryInterval: n.cfg.Network.DiscoveryInterval,
	}, n.bus, n.privacy)
	if err != nil {
		return fmt.Errorf("init network: %w", err)
	}

	n.network = mgr

	logger.Info("node identity", "fingerprint", nodeFingerprint(key))

	return nil
}

// Run starts all components and blocks until a shutdown signal arrives.
func (n *Node) Run() error {
	if err := n.network.Start(); err != nil {
		n.Close()
		return fmt.Errorf("start network: %w", err)
	}

	for _, addr := range n.cfg.Network.Bootstrap {
		if _, err := n.network.Connect(addr); err != nil {
			logger.Warn("bootstrap dial failed", "addr", addr, "error", err)
		}
	}

	if n.cfg.HTTP.Enabled {
		n.api = api.New(n.cfg.HTTP.Addr, n.network, n.privacy, n.ledger)
		if err := n.api.Start(); err != nil {
			n.Close()
			return fmt.Errorf("start api: %w", err)
		}
	}

	logger.Info("node started",
		"quic", n.network.Addr(),
		"http", n.cfg.HTTP.Addr,
		"data", n.cfg.Data.Path,
	)

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components gracefully, newest first.
func (n *Node) Close() error {
	if n.api != nil {
		_ = n.api.Stop()
	}

	if n.network != nil {
		_ = n.network.Close()
	}

	if n.ledger != nil {
		_ = n.ledger.Close()
	}

	return nil
}
