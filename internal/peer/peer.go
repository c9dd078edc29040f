// Package peer wires the running process together: transport, registry
// (client and, if needed, an embedded server), membership tracker,
// heartbeat engine, scheduler, and the RA state machine.
package peer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mateusmarodim/ricart-agrawala-go/internal/config"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/heartbeat"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/membership"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/ra"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/registry"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/scheduler"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/transport"
)

// NamePrefix is the registry namespace every peer registers under.
const NamePrefix = "peer."

// Peer is one running RA process: its own RPC server, an RA state
// machine, and everything that feeds it.
type Peer struct {
	ID string

	cfg config.Config

	tracker   *membership.Tracker
	machine   *ra.Machine
	hbEngine  *heartbeat.Engine
	sched     *scheduler.Scheduler
	regClient *registry.Client
	embedded  *registry.Server // non-nil if this peer started its own registry

	httpSrv  *http.Server
	selfURI  string
	shutdown bool
}

// Start brings up a peer with the given id and configuration: resolves or
// spawns the registry, binds the RPC server, registers, and starts the
// heartbeat loop. Close tears down in this order: scheduler, RPC server,
// registry deregistration, embedded registry.
func Start(ctx context.Context, id string, cfg config.Config) (*Peer, error) {
	p := &Peer{ID: id, cfg: cfg}

	regClient := registry.NewClient(cfg.RegistryAddr)
	locateCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := regClient.Locate(locateCtx)
	cancel()
	if err != nil {
		log.WithField("addr", cfg.RegistryAddr).Warn("peer: no registry reachable, starting an embedded one")
		srv := registry.NewServer()
		p.embedded = srv
		go func() {
			if err := srv.ListenAndServe(cfg.RegistryAddr); err != nil {
				log.WithError(err).Error("peer: embedded registry stopped unexpectedly")
			}
		}()
		// Give the embedded server a moment to bind before we start
		// hammering it; if it's still unreachable after that, give up.
		time.Sleep(100 * time.Millisecond)
		if err := regClient.Locate(ctx); err != nil {
			return nil, fmt.Errorf("peer: embedded registry failed to start: %w", err)
		}
	}
	p.regClient = regClient

	listener, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("peer: binding RPC server: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	p.selfURI = fmt.Sprintf("http://%s:%d", cfg.AdvertiseHost, port)

	p.sched, err = scheduler.New()
	if err != nil {
		return nil, fmt.Errorf("peer: starting scheduler: %w", err)
	}

	p.tracker = membership.New(id, NamePrefix, regClient)
	adapterFactory := transport.NewFactory(regClient, NamePrefix)
	p.machine = ra.New(id, p.tracker, adapterFactory, p.sched)

	router := transport.NewRouter(p.machine)
	p.httpSrv = &http.Server{Handler: router}
	go func() {
		if err := p.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("peer: RPC server stopped unexpectedly")
		}
	}()

	regCtx, regCancel := context.WithTimeout(ctx, transport.CallTimeout)
	err = regClient.Register(regCtx, NamePrefix+id, p.selfURI)
	regCancel()
	if err != nil {
		return nil, fmt.Errorf("peer: registering %s: %w", id, err)
	}

	refreshCtx, refreshCancel := context.WithTimeout(ctx, transport.CallTimeout)
	if err := p.tracker.RefreshFromRegistry(refreshCtx); err != nil {
		log.WithError(err).Warn("peer: initial registry refresh failed, starting with an empty peer set")
	}
	refreshCancel()

	p.hbEngine = heartbeat.New(id, p.tracker, adapterFactory, p.sched)
	if err := p.hbEngine.Start(); err != nil {
		return nil, fmt.Errorf("peer: starting heartbeat engine: %w", err)
	}

	log.WithFields(log.Fields{"peer_id": id, "uri": p.selfURI}).Info("peer: ready")
	return p, nil
}

// RequestCS requests the critical section, refreshing the peer set from
// the registry first so a round never fans out against a stale list.
func (p *Peer) RequestCS(ctx context.Context) error {
	if err := p.tracker.RefreshFromRegistry(ctx); err != nil {
		log.WithError(err).Warn("peer: registry refresh before request_cs failed, using last known peer set")
	}
	return p.machine.RequestCS(ctx)
}

// ExitCS releases the critical section.
func (p *Peer) ExitCS() error {
	return p.machine.ExitCS()
}

// ListPeers enumerates the currently known peers.
func (p *Peer) ListPeers() map[string]membership.Entry {
	return p.machine.ListPeers()
}

// Close tears the peer down: scheduler, RPC server, registry
// deregistration, embedded registry — in that order.
func (p *Peer) Close(ctx context.Context) error {
	if p.shutdown {
		return nil
	}
	p.shutdown = true

	p.hbEngine.Stop()
	if err := p.sched.Shutdown(); err != nil {
		log.WithError(err).Warn("peer: scheduler shutdown error")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	_ = p.httpSrv.Shutdown(shutdownCtx)
	cancel()

	removeCtx, removeCancel := context.WithTimeout(ctx, transport.CallTimeout)
	if err := p.regClient.Remove(removeCtx, NamePrefix+p.ID); err != nil {
		log.WithError(err).Warn("peer: best-effort deregistration failed")
	}
	removeCancel()

	if p.embedded != nil {
		if err := p.embedded.Close(); err != nil {
			return err
		}
	}
	return nil
}
