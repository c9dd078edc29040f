// Package ra implements the Ricart-Agrawala state machine at the heart of
// this peer: request generation, incoming-request arbitration, the
// deferred-reply queue, and the CS entry gate.
package ra

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mateusmarodim/ricart-agrawala-go/internal/membership"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/scheduler"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/transport"
)

// Machine is one peer's RA state machine. It implements transport.Handler
// so the transport server can dispatch directly into it.
type Machine struct {
	id      string
	tracker *membership.Tracker
	adapter transport.Adapter
	sched   *scheduler.Scheduler
	clock   *Clock

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	timestamp *float64
	pending   []string // peer ids awaited in the current request round
	queue     []deferred

	fanout chan struct{} // bounded semaphore, cap MaxFanout
}

// New builds a Machine for id, wiring tracker's change notifications into
// the gate's condition variable so an event-driven wait (no busy-poll)
// re-evaluates immediately on every reply, prune, or drop.
func New(id string, tracker *membership.Tracker, adapter transport.Adapter, sched *scheduler.Scheduler) *Machine {
	m := &Machine{
		id:      id,
		tracker: tracker,
		adapter: adapter,
		sched:   sched,
		clock:   NewClock(),
		state:   Released,
		fanout:  make(chan struct{}, MaxFanout),
	}
	m.cond = sync.NewCond(&m.mu)
	tracker.OnChange(m.signalGate)
	return m
}

func (m *Machine) signalGate() {
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
}

// State returns the current state, for diagnostics/tests.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RequestCS requests exclusive access to the critical section, blocking
// until it is granted. It fails with ErrAlreadyHeld if the machine already
// holds the CS.
func (m *Machine) RequestCS(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Held {
		m.mu.Unlock()
		return ErrAlreadyHeld
	}
	m.state = Wanted
	ts := m.clock.Now()
	m.timestamp = &ts
	m.mu.Unlock()

	ids := m.tracker.ResetRound()

	m.mu.Lock()
	m.pending = ids
	m.mu.Unlock()

	log.WithFields(log.Fields{"peer_id": m.id, "peers": len(ids), "timestamp": ts}).Info("ra: requesting critical section")

	for _, id := range ids {
		m.armDeadline(id)
		m.dispatchRequest(ctx, id, ts)
	}

	m.waitForGate()

	return m.enterHeld()
}

// dispatchRequest sends REQUEST to peerID in its own goroutine, bounded by
// the fanout semaphore so a slow or dead peer cannot stall sends to the
// others.
func (m *Machine) dispatchRequest(ctx context.Context, peerID string, timestamp float64) {
	m.fanout <- struct{}{}
	go func() {
		defer func() { <-m.fanout }()
		if err := m.adapter.SendRequest(ctx, peerID, timestamp, m.id); err != nil {
			log.WithError(err).WithFields(log.Fields{"peer_id": m.id, "to": peerID}).Warn("ra: REQUEST delivery failed, dropping peer")
			m.sched.Cancel(deadlineJobID(peerID))
			m.tracker.Drop(peerID)
		}
	}()
}

func (m *Machine) armDeadline(peerID string) {
	_ = m.sched.ScheduleOnce(deadlineJobID(peerID), ReplyDeadline, func() {
		m.checkResponse(peerID)
	})
}

// checkResponse fires when a peer's reply deadline expires. If peerID's
// response is still PENDING, the peer is dropped, which prunes it from the
// current round and re-evaluates the gate.
func (m *Machine) checkResponse(peerID string) {
	entry, ok := m.tracker.Get(peerID)
	if !ok || entry.Response != membership.Pending {
		return
	}
	log.WithFields(log.Fields{"peer_id": m.id, "to": peerID}).Warn("ra: reply deadline expired, dropping peer")
	m.tracker.Drop(peerID)
}

func deadlineJobID(peerID string) string {
	return "check_" + peerID
}

// waitForGate blocks until the gate predicate holds: the pending set is
// empty, or every pending peer's response is ACCEPT.
func (m *Machine) waitForGate() {
	m.mu.Lock()
	for !m.tracker.Satisfied(m.pending) {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// enterHeld flips WANTED -> HELD and schedules the automatic exit_cs,
// announcing acquisition only once the state has actually changed.
func (m *Machine) enterHeld() error {
	m.mu.Lock()
	if m.state != Wanted {
		m.mu.Unlock()
		return nil
	}
	m.state = Held
	m.mu.Unlock()

	log.WithField("peer_id", m.id).Info("ra: critical section acquired")

	_ = m.sched.ScheduleOnce("exit_cs", AutoRelease, func() {
		if err := m.ExitCS(); err != nil {
			log.WithError(err).WithField("peer_id", m.id).Debug("ra: auto-release found CS already released")
		}
	})
	return nil
}

// ExitCS releases the critical section, draining the deferred queue. It
// fails with ErrNotHeld if the machine does not hold the CS.
func (m *Machine) ExitCS() error {
	m.mu.Lock()
	if m.state != Held {
		m.mu.Unlock()
		return ErrNotHeld
	}
	m.state = Released
	m.timestamp = nil
	q := m.queue
	m.queue = nil
	m.mu.Unlock()

	m.sched.Cancel("exit_cs")

	log.WithFields(log.Fields{"peer_id": m.id, "deferred": len(q)}).Info("ra: critical section released")

	for _, d := range q {
		if !m.tracker.IsLive(d.senderID) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), transport.CallTimeout)
		err := m.adapter.SendReply(ctx, d.senderID, transport.Accept, m.id)
		cancel()
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"peer_id": m.id, "to": d.senderID}).Warn("ra: deferred reply delivery failed, dropping peer")
			m.tracker.Drop(d.senderID)
		}
	}
	return nil
}

// OnRequest handles an incoming REQUEST, implementing the arbitration
// predicate. It implements transport.Handler.
func (m *Machine) OnRequest(timestamp float64, senderID string) {
	if !m.tracker.IsLive(senderID) {
		// Unknown or stale sender: ignored. The remote will time out and
		// prune us in turn.
		return
	}

	m.mu.Lock()
	state := m.state
	var myTS float64
	if m.timestamp != nil {
		myTS = *m.timestamp
	}
	deny := state == Held ||
		(state == Wanted && (myTS < timestamp || (myTS == timestamp && m.id < senderID)))

	if deny {
		m.queue = append(m.queue, deferred{timestamp: timestamp, senderID: senderID})
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), transport.CallTimeout)
	defer cancel()

	response := transport.Accept
	if deny {
		response = transport.Deny
	}

	if err := m.adapter.SendReply(ctx, senderID, response, m.id); err != nil {
		log.WithError(err).WithFields(log.Fields{"peer_id": m.id, "to": senderID}).Warn("ra: REPLY delivery failed, dropping peer")
		m.tracker.Drop(senderID)
	}
}

// OnReply handles an incoming REPLY, implementing transport.Handler.
func (m *Machine) OnReply(senderID string, response transport.Response) {
	var status membership.ReplyStatus
	switch response {
	case transport.Accept:
		status = membership.Accepted
	default:
		status = membership.Denied
	}

	if !m.tracker.SetResponse(senderID, status) {
		// Stale reply from a pruned peer: silently dropped.
		return
	}
	m.sched.Cancel(deadlineJobID(senderID))
}

// OnHeartbeat handles an incoming HEARTBEAT, implementing transport.Handler.
func (m *Machine) OnHeartbeat(senderID string) {
	m.tracker.Touch(senderID)
}

// ListPeers enumerates the currently known peers, for the CLI's "list
// peers" command.
func (m *Machine) ListPeers() map[string]membership.Entry {
	return m.tracker.Snapshot()
}
