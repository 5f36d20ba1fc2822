package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/roach88/blitter/internal/blit"
	"github.com/roach88/blitter/internal/engine"
)

// Node is an opened blit device. It is safe for concurrent use.
type Node struct {
	eng *engine.Engine

	cacheRate  int64
	cacheBurst int64
	limitStore store.Store
	cacheLimit *limiter.TokenBucket // nil when cache requests are unlimited

	mu       sync.Mutex
	sessions map[blit.ContextID]*Session
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithCacheRate limits cache-maintenance requests to rate per second per
// session, with bursts of up to burst. A zero rate disables the limit.
func WithCacheRate(rate, burst int64) NodeOption {
	return func(n *Node) {
		n.cacheRate = rate
		n.cacheBurst = burst
	}
}

// NewNode wraps an engine.
func NewNode(eng *engine.Engine, opts ...NodeOption) (*Node, error) {
	n := &Node{
		eng:      eng,
		sessions: make(map[blit.ContextID]*Session),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.cacheRate > 0 {
		n.limitStore = store.NewMemoryStore(time.Minute)
		bucket, err := limiter.NewTokenBucket(
			limiter.Config{
				Rate:     n.cacheRate,
				Duration: time.Second,
				Burst:    n.cacheBurst,
			},
			n.limitStore,
		)
		if err != nil {
			return nil, fmt.Errorf("cache rate limiter: %w", err)
		}
		n.cacheLimit = bucket
	}
	return n, nil
}

// Engine returns the engine behind the node.
func (n *Node) Engine() *engine.Engine {
	return n.eng
}

// Open admits a new context and returns its session.
func (n *Node) Open() (*Session, error) {
	id, err := n.eng.Admit()
	if err != nil {
		return nil, err
	}

	s := &Session{id: id, node: n}
	n.mu.Lock()
	n.sessions[id] = s
	n.mu.Unlock()

	slog.Debug("session opened", "context", id)
	return s, nil
}

// Sessions returns the number of open sessions.
func (n *Node) Sessions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sessions)
}

// CloseAll closes every open session, then closes the engine.
func (n *Node) CloseAll(ctx context.Context) error {
	n.mu.Lock()
	open := make([]*Session, 0, len(n.sessions))
	for _, s := range n.sessions {
		open = append(open, s)
	}
	n.mu.Unlock()

	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			return err
		}
	}
	return n.eng.Close()
}

func (n *Node) forget(id blit.ContextID) {
	n.mu.Lock()
	delete(n.sessions, id)
	n.mu.Unlock()
}

func (n *Node) allowCache(id blit.ContextID) bool {
	if n.cacheLimit == nil {
		return true
	}
	return n.cacheLimit.Allow(string(id))
}
