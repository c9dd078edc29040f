package membership

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	entries map[string]string
	removed []string
}

func newFakeRegistry(names ...string) *fakeRegistry {
	r := &fakeRegistry{entries: make(map[string]string)}
	for _, n := range names {
		r.entries[n] = "http://" + n
	}
	return r
}

func (r *fakeRegistry) List(ctx context.Context, prefix string) (map[string]string, error) {
	out := make(map[string]string)
	for name, uri := range r.entries {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out[name] = uri
		}
	}
	return out, nil
}

func (r *fakeRegistry) Remove(ctx context.Context, name string) error {
	delete(r.entries, name)
	r.removed = append(r.removed, name)
	return nil
}

func TestRefreshFromRegistryExcludesSelf(t *testing.T) {
	reg := newFakeRegistry("peer.a", "peer.b", "peer.c")
	tr := New("a", "peer.", reg)

	require.NoError(t, tr.RefreshFromRegistry(context.Background()))

	ids := tr.Ids()
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}

func TestRefreshResetsExistingToPending(t *testing.T) {
	reg := newFakeRegistry("peer.a", "peer.b")
	tr := New("a", "peer.", reg)
	require.NoError(t, tr.RefreshFromRegistry(context.Background()))
	tr.SetResponse("b", Accepted)

	require.NoError(t, tr.RefreshFromRegistry(context.Background()))

	e, ok := tr.Get("b")
	require.True(t, ok)
	assert.Equal(t, Pending, e.Response)
}

func TestTouchInsertsUnknownAsDenied(t *testing.T) {
	tr := New("a", "peer.", newFakeRegistry())
	tr.Touch("x")

	e, ok := tr.Get("x")
	require.True(t, ok)
	assert.Equal(t, Denied, e.Response)
}

func TestTouchNeverTracksSelf(t *testing.T) {
	tr := New("a", "peer.", newFakeRegistry())
	tr.Touch("a")
	assert.Empty(t, tr.Ids())
}

func TestPruneStaleEvictsAndRemovesFromRegistry(t *testing.T) {
	reg := newFakeRegistry("peer.a", "peer.b")
	tr := New("a", "peer.", reg)
	require.NoError(t, tr.RefreshFromRegistry(context.Background()))

	tr.mu.Lock()
	tr.peers["b"].LastHeartbeat = time.Now().Add(-20 * time.Second)
	tr.mu.Unlock()

	pruned := tr.PruneStale(context.Background(), 15*time.Second)
	assert.Equal(t, []string{"b"}, pruned)
	assert.False(t, tr.IsLive("b"))
	assert.Contains(t, reg.removed, "peer.b")
}

func TestSatisfiedTreatsUntrackedAsVacuouslyTrue(t *testing.T) {
	tr := New("a", "peer.", newFakeRegistry())
	assert.True(t, tr.Satisfied([]string{"ghost"}))
}

func TestSatisfiedRequiresAllAccepted(t *testing.T) {
	reg := newFakeRegistry("peer.a", "peer.b", "peer.c")
	tr := New("a", "peer.", reg)
	require.NoError(t, tr.RefreshFromRegistry(context.Background()))
	ids := tr.Ids()

	assert.False(t, tr.Satisfied(ids))

	tr.SetResponse("b", Accepted)
	tr.SetResponse("c", Accepted)
	assert.True(t, tr.Satisfied(ids))
}

func TestSetResponseIgnoresUnknownSender(t *testing.T) {
	tr := New("a", "peer.", newFakeRegistry())
	assert.False(t, tr.SetResponse("ghost", Accepted))
}

func TestOnChangeFiresOnMutation(t *testing.T) {
	reg := newFakeRegistry("peer.a", "peer.b")
	tr := New("a", "peer.", reg)
	require.NoError(t, tr.RefreshFromRegistry(context.Background()))

	fired := make(chan struct{}, 8)
	tr.OnChange(func() { fired <- struct{}{} })

	tr.SetResponse("b", Accepted)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("onChange did not fire after SetResponse")
	}

	tr.Drop("b")
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("onChange did not fire after Drop")
	}
}
