package ra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mateusmarodim/ricart-agrawala-go/internal/membership"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/scheduler"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/transport"
)

// fakeRegistry backs membership.Tracker in tests without any HTTP.
type fakeRegistry struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeRegistry(names ...string) *fakeRegistry {
	r := &fakeRegistry{entries: make(map[string]string)}
	for _, n := range names {
		r.entries["peer."+n] = "fake://" + n
	}
	return r
}

func (r *fakeRegistry) List(ctx context.Context, prefix string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string)
	for name, uri := range r.entries {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out[name] = uri
		}
	}
	return out, nil
}

func (r *fakeRegistry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
	return nil
}

// fakeAdapter records outgoing calls and lets the test script replies back
// into the machine under test, simulating the remote peers' behavior.
type fakeAdapter struct {
	mu       sync.Mutex
	requests []sentRequest
	onSend   func(kind, peerID string)
}

type sentRequest struct {
	kind     string
	peerID   string
	ts       float64
	selfID   string
	response transport.Response
}

func (f *fakeAdapter) SendRequest(ctx context.Context, peerID string, timestamp float64, selfID string) error {
	f.mu.Lock()
	f.requests = append(f.requests, sentRequest{kind: "REQUEST", peerID: peerID, ts: timestamp, selfID: selfID})
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend("REQUEST", peerID)
	}
	return nil
}

func (f *fakeAdapter) SendReply(ctx context.Context, peerID string, response transport.Response, selfID string) error {
	f.mu.Lock()
	f.requests = append(f.requests, sentRequest{kind: "REPLY", peerID: peerID, selfID: selfID, response: response})
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend("REPLY", peerID)
	}
	return nil
}

func (f *fakeAdapter) SendHeartbeat(ctx context.Context, peerID string, selfID string) error {
	return nil
}

func (f *fakeAdapter) repliesTo(peerID string) []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentRequest
	for _, r := range f.requests {
		if r.kind == "REPLY" && r.peerID == peerID {
			out = append(out, r)
		}
	}
	return out
}

func newMachine(t *testing.T, id string, peers ...string) (*Machine, *membership.Tracker, *fakeAdapter) {
	t.Helper()
	reg := newFakeRegistry(append(peers, id)...)
	tracker := membership.New(id, "peer.", reg)
	require.NoError(t, tracker.RefreshFromRegistry(context.Background()))

	sched, err := scheduler.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Shutdown() })

	adapter := &fakeAdapter{}
	m := New(id, tracker, adapter, sched)
	return m, tracker, adapter
}

func TestSoloPeerAcquiresImmediately(t *testing.T) {
	m, _, _ := newMachine(t, "a")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, m.RequestCS(ctx))
	assert.Equal(t, Held, m.State())
	assert.Empty(t, m.ListPeers())

	require.NoError(t, m.ExitCS())
	assert.Equal(t, Released, m.State())
}

func TestRequestCSFailsWhenAlreadyHeld(t *testing.T) {
	m, _, _ := newMachine(t, "a")
	require.NoError(t, m.RequestCS(context.Background()))
	assert.ErrorIs(t, m.RequestCS(context.Background()), ErrAlreadyHeld)
}

func TestExitCSFailsWhenNotHeld(t *testing.T) {
	m, _, _ := newMachine(t, "a")
	assert.ErrorIs(t, m.ExitCS(), ErrNotHeld)
}

// TestTwoPeersNoContention covers the uncontended case: b is RELEASED when
// a requests, so b's simulated reply is an immediate ACCEPT.
func TestTwoPeersNoContention(t *testing.T) {
	m, _, adapter := newMachine(t, "a", "b")

	adapter.onSend = func(kind, peerID string) {
		if kind == "REQUEST" && peerID == "b" {
			go m.OnReply("b", transport.Accept)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.RequestCS(ctx))
	assert.Equal(t, Held, m.State())
}

// TestTieBreakLexicographic covers the timestamp-tie case: equal
// timestamps resolve in favor of the lexicographically smaller id.
func TestTieBreakLexicographic(t *testing.T) {
	m, tracker, _ := newMachine(t, "a", "b")
	tracker.Touch("b")

	m.mu.Lock()
	m.state = Wanted
	ts := 100.0
	m.timestamp = &ts
	m.mu.Unlock()

	// "b" < "a" is false, so as peer "a" receiving a request from "b" at
	// an equal timestamp, a's own id is smaller -> a wins -> deny b.
	m.OnRequest(100.0, "b")

	m.mu.Lock()
	queued := len(m.queue)
	m.mu.Unlock()
	assert.Equal(t, 1, queued, "equal-timestamp request from a lexicographically larger id must be denied and queued")
}

func TestDeferredRepliesFlushOnExit(t *testing.T) {
	m, tracker, adapter := newMachine(t, "a", "b")
	tracker.Touch("b")

	m.mu.Lock()
	m.state = Held
	ts := 50.0
	m.timestamp = &ts
	m.mu.Unlock()

	// b requests while a is HELD: must be denied and queued.
	m.OnRequest(60.0, "b")
	require.Len(t, adapter.repliesTo("b"), 1)
	assert.Equal(t, transport.Deny, adapter.repliesTo("b")[0].response)

	require.NoError(t, m.ExitCS())

	replies := adapter.repliesTo("b")
	require.Len(t, replies, 2)
	assert.Equal(t, transport.Accept, replies[1].response)
}

func TestDeferredRepliesSkipPrunedPeers(t *testing.T) {
	m, tracker, adapter := newMachine(t, "a", "b")
	tracker.Touch("b")

	m.mu.Lock()
	m.state = Held
	ts := 50.0
	m.timestamp = &ts
	m.mu.Unlock()

	m.OnRequest(60.0, "b")
	tracker.Drop("b") // b goes silent before a exits

	require.NoError(t, m.ExitCS())

	replies := adapter.repliesTo("b")
	require.Len(t, replies, 1, "no ACCEPT should be sent to a peer pruned before exit")
}
