package producer

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/tlvlink/internal/protocol/session"
)

var (
	ErrDuplicateConnection = errors.New("producer: connection already registered")
	ErrUnknownConnection   = errors.New("producer: unknown connection")
	ErrUnknownTarget       = errors.New("producer: unknown target")
)

// peer is a registered connection plus its mailbox.
type peer struct {
	conn  *session.Connection
	inbox chan []byte
	stop  chan struct{}
	once  sync.Once
}

func (p *peer) close() {
	p.once.Do(func() { close(p.stop) })
}

func (p *peer) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Registry owns every live connection, keyed by connection id, and the
// address keys bound to them.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*peer
	keys  map[string]string
	byID  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[string]*peer),
		keys:  make(map[string]string),
		byID:  make(map[string]string),
	}
}

func (r *Registry) add(p *peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.conn.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, p.conn.ID)
	}
	r.peers[p.conn.ID] = p
	return nil
}

// remove drops id and releases its key.
func (r *Registry) remove(id string) (*peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	delete(r.peers, id)
	if key, bound := r.byID[id]; bound {
		delete(r.keys, key)
		delete(r.byID, id)
	}
	return p, true
}

func (r *Registry) peer(id string) (*peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *Registry) all() []*peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (*session.Connection, bool) {
	p, ok := r.peer(id)
	if !ok {
		return nil, false
	}
	return p.conn, true
}

// Claim binds key to connectionID, releasing any key the connection held.
// It fails when another connection already holds key.
func (r *Registry) Claim(connectionID, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.keys[key]; ok && owner != connectionID {
		return false
	}
	if prev, ok := r.byID[connectionID]; ok && prev != key {
		delete(r.keys, prev)
	}
	r.keys[key] = connectionID
	r.byID[connectionID] = key
	return true
}

// Resolve finds a live connection by assigned key first, then by
// connection id. Discredited connections never resolve.
func (r *Registry) Resolve(target string) (*session.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id := target
	if owner, ok := r.keys[target]; ok {
		id = owner
	}
	p, ok := r.peers[id]
	if !ok || p.conn.Discredited() {
		return nil, false
	}
	return p.conn, true
}

// Assigned returns every live connection that has an assigned key, ordered
// by key.
func (r *Registry) Assigned() []*session.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Connection, 0, len(r.keys))
	for _, key := range r.sortedKeys() {
		p, ok := r.peers[r.keys[key]]
		if !ok || p.conn.Discredited() || p.conn.Key() != key {
			continue
		}
		out = append(out, p.conn)
	}
	return out
}

// Keys lists bound address keys in ascending order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedKeys()
}

func (r *Registry) sortedKeys() []string {
	keys := make([]string, 0, len(r.keys))
	for k := range r.keys {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// ConnectionInfo is a point-in-time view of one connection.
type ConnectionInfo struct {
	ID           string `json:"id"`
	Key          string `json:"key,omitempty"`
	SelfKey      string `json:"self_key,omitempty"`
	HashAccepted bool   `json:"hash_accepted"`
	Assigned     bool   `json:"assigned"`
	Discredited  bool   `json:"discredited"`
}

// Snapshot describes every registered connection ordered by id.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	conns := make([]*session.Connection, 0, len(r.peers))
	for _, p := range r.peers {
		conns = append(conns, p.conn)
	}
	r.mu.RUnlock()

	out := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		ident := c.Identification()
		out = append(out, ConnectionInfo{
			ID:           c.ID,
			Key:          c.Key(),
			SelfKey:      ident.SelfKey,
			HashAccepted: c.HashAccepted(),
			Assigned:     ident.Assigned,
			Discredited:  ident.Discredited,
		})
	}
	slices.SortFunc(out, func(a, b ConnectionInfo) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}
