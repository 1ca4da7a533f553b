package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/pkg/sshutil"
)

// DialFunc opens a connection to host.
type DialFunc func(ctx context.Context, host string) (sshutil.Executor, error)

// SSHDialer returns a DialFunc backed by sshutil.Dial.
func SSHDialer(opts sshutil.DialOptions) DialFunc {
	return func(ctx context.Context, host string) (sshutil.Executor, error) {
		client, err := sshutil.Dial(ctx, host, opts)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Pool keeps SSH connections open between poll cycles so each cluster
// is dialed once rather than twice per cycle.
type Pool struct {
	mu          sync.Mutex
	connections map[string]*poolEntry
	dial        DialFunc
	idleTimeout time.Duration
	now         func() time.Time
}

type poolEntry struct {
	client   sshutil.Executor
	lastUsed time.Time
}

// NewPool creates a pool. Connections unused for idleTimeout are closed
// on the next Get; zero keeps them forever.
func NewPool(dial DialFunc, idleTimeout time.Duration) *Pool {
	return &Pool{
		connections: make(map[string]*poolEntry),
		dial:        dial,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Get returns a live connection for host, redialing if the cached one
// is dead.
func (p *Pool) Get(ctx context.Context, host string) (sshutil.Executor, error) {
	p.evictIdle()

	p.mu.Lock()
	entry, exists := p.connections[host]
	p.mu.Unlock()

	if exists {
		if entry.client.Alive(ctx) {
			p.mu.Lock()
			entry.lastUsed = p.now()
			p.mu.Unlock()
			return entry.client, nil
		}
		p.Discard(host, entry.client)
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Connection to %s stopped answering", host),
				"The login node may be overloaded; the next poll redials")
		}
	}

	client, err := p.dial(ctx, host)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another caller may have dialed the same host meanwhile.
	if existing, ok := p.connections[host]; ok {
		_ = client.Close()
		existing.lastUsed = p.now()
		return existing.client, nil
	}
	p.connections[host] = &poolEntry{client: client, lastUsed: p.now()}
	return client, nil
}

// Discard closes client and forgets it if it is still the pooled
// connection for host. A connection another caller dialed in the
// meantime stays open.
func (p *Pool) Discard(host string, client sshutil.Executor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = client.Close()
	if entry, ok := p.connections[host]; ok && entry.client == client {
		delete(p.connections, host)
	}
}

// Close closes every connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for host, entry := range p.connections {
		_ = entry.client.Close()
		delete(p.connections, host)
	}
}

// Size returns the number of open connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

func (p *Pool) evictIdle() {
	if p.idleTimeout <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-p.idleTimeout)
	for host, entry := range p.connections {
		if entry.lastUsed.Before(cutoff) {
			_ = entry.client.Close()
			delete(p.connections, host)
		}
	}
}
