package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// CallTimeout is the wall-clock timeout every outgoing RPC is bound by.
const CallTimeout = 5 * time.Second

// Locator resolves a peer id to its base URL. registry.Client satisfies
// this narrowed interface so transport doesn't need to import registry's
// full surface.
type Locator interface {
	List(ctx context.Context, prefix string) (map[string]string, error)
}

// Adapter is what the RA state machine and the heartbeat engine depend on:
// the ability to reach a remote peer's three RPC methods, each bound by
// CallTimeout, any failure meaning "peer is gone" to the caller.
type Adapter interface {
	SendRequest(ctx context.Context, peerID string, timestamp float64, selfID string) error
	SendReply(ctx context.Context, peerID string, response Response, selfID string) error
	SendHeartbeat(ctx context.Context, peerID string, selfID string) error
}

// Factory is the RPC proxy factory: given a peer id, it yields a handle
// invoking that peer's remote methods. It caches resolved base URLs and
// refreshes them from the registry on a cache miss or a failed call.
type Factory struct {
	namePrefix string
	locator    Locator
	http       *http.Client

	mu    sync.Mutex
	cache map[string]string // peer id -> base URL
}

// NewFactory builds a Factory resolving names under namePrefix (e.g.
// "peer.") through locator.
func NewFactory(locator Locator, namePrefix string) *Factory {
	return &Factory{
		namePrefix: namePrefix,
		locator:    locator,
		http:       &http.Client{Timeout: CallTimeout},
		cache:      make(map[string]string),
	}
}

func (f *Factory) urlFor(ctx context.Context, peerID string) (string, error) {
	f.mu.Lock()
	if uri, ok := f.cache[peerID]; ok {
		f.mu.Unlock()
		return uri, nil
	}
	f.mu.Unlock()

	entries, err := f.locator.List(ctx, f.namePrefix)
	if err != nil {
		return "", fmt.Errorf("transport: resolving peer %s: %w", peerID, err)
	}
	uri, ok := entries[f.namePrefix+peerID]
	if !ok {
		return "", fmt.Errorf("transport: peer %s not found in registry", peerID)
	}

	f.mu.Lock()
	f.cache[peerID] = uri
	f.mu.Unlock()
	return uri, nil
}

// Invalidate drops a cached URL, e.g. after a failed call, so the next
// attempt re-resolves from the registry.
func (f *Factory) Invalidate(peerID string) {
	f.mu.Lock()
	delete(f.cache, peerID)
	f.mu.Unlock()
}

func (f *Factory) post(ctx context.Context, peerID, path string, body any) error {
	uri, err := f.urlFor(ctx, peerID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		f.Invalidate(peerID)
		return fmt.Errorf("transport: calling %s at %s: %w", peerID, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.Invalidate(peerID)
		return fmt.Errorf("transport: %s replied with status %d", peerID, resp.StatusCode)
	}
	return nil
}

// SendRequest implements Adapter.
func (f *Factory) SendRequest(ctx context.Context, peerID string, timestamp float64, selfID string) error {
	return f.post(ctx, peerID, "/rpc/receive_critical_section_request", requestPayload{
		Timestamp: timestamp,
		SenderID:  selfID,
	})
}

// SendReply implements Adapter.
func (f *Factory) SendReply(ctx context.Context, peerID string, response Response, selfID string) error {
	return f.post(ctx, peerID, "/rpc/reply_critical_section_request", replyPayload{
		SenderID: selfID,
		Response: response,
	})
}

// SendHeartbeat implements Adapter.
func (f *Factory) SendHeartbeat(ctx context.Context, peerID string, selfID string) error {
	return f.post(ctx, peerID, "/rpc/receive_heartbeat", heartbeatPayload{SenderID: selfID})
}
