// Package membership maintains the live peer set: heartbeat bookkeeping,
// registry-refresh discovery, and the liveness-window eviction that the RA
// state machine's gate and arbitration both depend on. A peer entry is
// {response, last_heartbeat} — the per-request reply status lives in the
// very same entry a heartbeat would update, because both describe "what do
// we currently believe about peer X" and there is no reason to keep two
// maps in sync instead of one.
package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ReplyStatus is the local view of a peer's standing in the current
// request round. Pending has no wire representation; it only ever lives
// in memory between "we sent a REQUEST" and "we got a REPLY or timed out."
type ReplyStatus int

const (
	Pending ReplyStatus = iota
	Accepted
	Denied
)

func (s ReplyStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Accepted:
		return "ACCEPT"
	case Denied:
		return "DENY"
	default:
		return "UNKNOWN"
	}
}

// Entry is one known remote peer.
type Entry struct {
	Response      ReplyStatus
	LastHeartbeat time.Time
}

// Registry is the narrow registry-client surface the tracker needs: list
// peers under a prefix, and best-effort remove a stale one.
type Registry interface {
	List(ctx context.Context, prefix string) (map[string]string, error)
	Remove(ctx context.Context, name string) error
}

// Tracker owns the live peer map. All of its methods are safe for
// concurrent use; every mutation runs under a single mutex.
type Tracker struct {
	selfID     string
	namePrefix string
	registry   Registry

	mu    sync.Mutex
	peers map[string]*Entry

	// onChange is invoked (without the tracker's lock held) after any
	// mutation that could affect a caller's gate predicate: a reply
	// recorded, a peer pruned, or a peer dropped. The RA machine wires
	// this to its own condition-variable broadcast.
	onChange func()
}

// New builds an empty Tracker for selfID, resolving registry entries under
// namePrefix (e.g. "peer.").
func New(selfID, namePrefix string, registry Registry) *Tracker {
	return &Tracker{
		selfID:     selfID,
		namePrefix: namePrefix,
		registry:   registry,
		peers:      make(map[string]*Entry),
	}
}

// OnChange registers the callback fired after mutations. Only one callback
// is supported; later calls replace earlier ones.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Tracker) notify() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// RefreshFromRegistry lists the registry under the configured prefix,
// adding any id not already known (response PENDING, a fresh heartbeat
// timestamp) and resetting existing entries' response to PENDING. Never
// adds self.
func (t *Tracker) RefreshFromRegistry(ctx context.Context) error {
	entries, err := t.registry.List(ctx, t.namePrefix)
	if err != nil {
		return fmt.Errorf("membership: refresh from registry: %w", err)
	}

	t.mu.Lock()
	now := time.Now()
	for name := range entries {
		id := name[len(t.namePrefix):]
		if id == t.selfID {
			continue
		}
		if existing, ok := t.peers[id]; ok {
			existing.Response = Pending
		} else {
			t.peers[id] = &Entry{Response: Pending, LastHeartbeat: now}
		}
	}
	t.mu.Unlock()
	t.notify()
	return nil
}

// Touch records a heartbeat from id, updating its last-seen time. An
// unknown sender is inserted with a neutral Denied status: we've heard
// from it but it hasn't replied to anything yet, so it shouldn't count as
// having accepted a pending request.
func (t *Tracker) Touch(id string) {
	if id == t.selfID {
		return
	}
	t.mu.Lock()
	if e, ok := t.peers[id]; ok {
		e.LastHeartbeat = time.Now()
	} else {
		t.peers[id] = &Entry{Response: Denied, LastHeartbeat: time.Now()}
	}
	t.mu.Unlock()
	t.notify()
}

// PruneStale removes any entry whose last heartbeat is older than window,
// best-effort removing the corresponding registry entry too. Returns the
// ids pruned so the heartbeat engine can log them, and fires onChange
// since a pending reply may have just been resolved by eviction.
func (t *Tracker) PruneStale(ctx context.Context, window time.Duration) []string {
	cutoff := time.Now().Add(-window)

	t.mu.Lock()
	var stale []string
	for id, e := range t.peers {
		if e.LastHeartbeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(t.peers, id)
	}
	t.mu.Unlock()

	for _, id := range stale {
		if err := t.registry.Remove(ctx, t.namePrefix+id); err != nil {
			log.WithError(err).WithField("peer_id", id).Debug("membership: best-effort registry removal failed")
		}
	}
	if len(stale) > 0 {
		t.notify()
	}
	return stale
}

// Drop unconditionally evicts id, used on RPC failure.
func (t *Tracker) Drop(id string) {
	t.mu.Lock()
	_, existed := t.peers[id]
	delete(t.peers, id)
	t.mu.Unlock()
	if existed {
		t.notify()
	}
}

// livenessWindow is the maximum age of a tracked peer's last heartbeat for
// IsLive to still report it as live.
const livenessWindow = 15 * time.Second

// IsLive reports whether id is currently tracked and has a heartbeat
// within the liveness window.
func (t *Tracker) IsLive(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.peers[id]
	return ok && time.Since(e.LastHeartbeat) <= livenessWindow
}

// Get returns a copy of id's entry, if tracked.
func (t *Tracker) Get(id string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.peers[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ResetRound marks every currently known peer Pending and returns the
// snapshot of ids involved, for the start of a new request round. The
// snapshot is taken under the lock so no peer can be both included and
// concurrently mutated by a racing heartbeat/prune.
func (t *Tracker) ResetRound() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.peers))
	for id, e := range t.peers {
		e.Response = Pending
		ids = append(ids, id)
	}
	t.mu.Unlock()
	return ids
}

// SetResponse records a reply for id if it is still tracked. Returns false
// (silently ignored by the caller) if id is unknown.
func (t *Tracker) SetResponse(id string, status ReplyStatus) bool {
	t.mu.Lock()
	e, ok := t.peers[id]
	if ok {
		e.Response = status
	}
	t.mu.Unlock()
	if ok {
		t.notify()
	}
	return ok
}

// Satisfied reports whether every id in ids is either no longer tracked
// (pruned/dropped — treated as vacuously satisfied, since a gone peer
// cannot keep denying forever) or has Response == Accepted. This is the
// gate predicate's core: "every remaining peer's response = ACCEPT."
func (t *Tracker) Satisfied(ids []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		e, ok := t.peers[id]
		if !ok {
			continue
		}
		if e.Response != Accepted {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of every tracked peer's id and entry, for the
// CLI's peer listing.
func (t *Tracker) Snapshot() map[string]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Entry, len(t.peers))
	for id, e := range t.peers {
		out[id] = *e
	}
	return out
}

// Ids returns the current peer id set, for the heartbeat engine's
// broadcast.
func (t *Tracker) Ids() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	return ids
}
