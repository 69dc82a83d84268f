// Package push maintains the in-process registry of live client
// sessions and delivers directed and broadcast messages over them.
// Delivery is best-effort and at-most-once: a message to an absent or
// dead peer is dropped and reported, never queued.
package push

import (
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Conn is the write half of a registered duplex session.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// peer pairs a connection with the mutex serializing writes to it.
// Websocket connections support one concurrent writer only.
type peer struct {
	conn Conn
	mu   sync.Mutex
}

func (p *peer) write(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// Registry maps client identifiers to live sessions. It is mutated by
// connection accept and teardown, and read by sends and broadcasts.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*peer
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*peer)}
}

// Register binds id to conn. A previous session under the same id is
// closed and replaced; its read loop's eventual Unregister is a no-op.
func (r *Registry) Register(id string, conn Conn) {
	r.mu.Lock()
	var prev, replaced = r.peers[id]
	r.peers[id] = &peer{conn: conn}
	activeSessions.Set(float64(len(r.peers)))
	r.mu.Unlock()

	if replaced {
		if err := prev.conn.Close(); err != nil {
			log.WithFields(log.Fields{"client": id, "err": err}).
				Debug("failed to close replaced session")
		}
	}
	log.WithField("client", id).Info("session registered")
}

// Unregister removes id's entry if it still holds conn. The read loop
// of a session replaced by a newer Register must not tear down its
// successor, so removal is conditioned on connection identity.
func (r *Registry) Unregister(id string, conn Conn) {
	r.mu.Lock()
	if p, ok := r.peers[id]; ok && p.conn == conn {
		delete(r.peers, id)
		activeSessions.Set(float64(len(r.peers)))
		log.WithField("client", id).Info("session unregistered")
	}
	r.mu.Unlock()
}

// SendTo writes payload to the session registered under id, returning
// false when no such session exists or the write fails. Failed peers
// are not removed here; teardown is driven by their read loop.
func (r *Registry) SendTo(id string, payload []byte) bool {
	r.mu.RLock()
	var p, ok = r.peers[id]
	r.mu.RUnlock()

	if !ok {
		directedSends.WithLabelValues("absent").Inc()
		return false
	}
	if err := p.write(payload); err != nil {
		log.WithFields(log.Fields{"client": id, "err": err}).
			Warn("failed to send to session")
		directedSends.WithLabelValues("error").Inc()
		return false
	}
	directedSends.WithLabelValues("delivered").Inc()
	return true
}

// Broadcast writes payload to every live session. Erroring peers are
// skipped, not removed.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.RLock()
	var snapshot = make(map[string]*peer, len(r.peers))
	for id, p := range r.peers {
		snapshot[id] = p
	}
	r.mu.RUnlock()

	for id, p := range snapshot {
		if err := p.write(payload); err != nil {
			log.WithFields(log.Fields{"client": id, "err": err}).
				Warn("skipping session during broadcast")
			broadcastSkips.Inc()
			continue
		}
		broadcastSends.Inc()
	}
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
