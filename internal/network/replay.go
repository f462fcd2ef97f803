package network

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultReplayTTL is how long a message id stays in the seen window.
	defaultReplayTTL = 2 * time.Minute

	// replayCleanupInterval is the interval between cleanup runs.
	replayCleanupInterval = 10 * time.Second
)

// ReplayGuard rejects messages whose id was already accepted inside a TTL
// window. Ids are stored as blake3 hashes; entries expire automatically.
type ReplayGuard struct {
	seen map[[32]byte]int64 // seen maps id hash to timestamp (unix nano)
	mu   sync.Mutex         // mu protects the seen map
	ttl  int64              // ttl in nanoseconds
	stop chan struct{}      // stop signals the cleanup goroutine to stop
	wg   sync.WaitGroup     // wg waits for the cleanup goroutine
}

// NewReplayGuard creates a replay guard with the default TTL window.
func NewReplayGuard() *ReplayGuard {
	g := &ReplayGuard{
		seen: make(map[[32]byte]int64),
		ttl:  int64(defaultReplayTTL),
		stop: make(chan struct{}),
	}

	g.startCleanup()

	return g
}

// Check returns true if the message id is new inside the current window.
// New ids are recorded for future checks.
func (g *ReplayGuard) Check(id string) bool {
	hash := blake3.Sum256([]byte(id))
	now := time.Now().UnixNano()

	g.mu.Lock()
	defer g.mu.Unlock()

	if ts, ok := g.seen[hash]; ok && now-ts < g.ttl {
		return false
	}

	g.seen[hash] = now

	return true
}

// Close stops the cleanup goroutine and releases resources.
func (g *ReplayGuard) Close() {
	close(g.stop)
	g.wg.Wait()
}

// startCleanup starts the background cleanup goroutine.
func (g *ReplayGuard) startCleanup() {
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()

		ticker := time.NewTicker(replayCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				g.cleanup()
			case <-g.stop:
				return
			}
		}
	}()
}

// cleanup removes expired entries from the seen map.
func (g *ReplayGuard) cleanup() {
	now := time.Now().UnixNano()

	g.mu.Lock()

	for hash, ts := range g.seen {
		if now-ts >= g.ttl {
			delete(g.seen, hash)
		}
	}

	g.mu.Unlock()
}
