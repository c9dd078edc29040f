// Package heartbeat implements the periodic liveness broadcast: on every
// tick, prune anyone gone silent, then ping everyone still around.
package heartbeat

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mateusmarodim/ricart-agrawala-go/internal/membership"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/scheduler"
	"github.com/mateusmarodim/ricart-agrawala-go/internal/transport"
)

// Interval is the heartbeat broadcast period.
const Interval = 10 * time.Second

// Window is the liveness window: a peer silent longer than this is pruned.
const Window = 15 * time.Second

const jobID = "heartbeat"

// Engine drives the heartbeat loop via the shared scheduler.
type Engine struct {
	selfID  string
	tracker *membership.Tracker
	adapter transport.Adapter
	sched   *scheduler.Scheduler
}

// New builds an Engine. Call Start to register its interval job.
func New(selfID string, tracker *membership.Tracker, adapter transport.Adapter, sched *scheduler.Scheduler) *Engine {
	return &Engine{selfID: selfID, tracker: tracker, adapter: adapter, sched: sched}
}

// Start registers the recurring heartbeat job.
func (e *Engine) Start() error {
	return e.sched.ScheduleInterval(jobID, Interval, e.tick)
}

// Stop cancels the recurring heartbeat job.
func (e *Engine) Stop() {
	e.sched.Cancel(jobID)
}

func (e *Engine) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), transport.CallTimeout)
	defer cancel()

	pruned := e.tracker.PruneStale(ctx, Window)
	for _, id := range pruned {
		log.WithFields(log.Fields{"peer_id": e.selfID, "evicted": id}).Info("heartbeat: peer went silent, evicted")
	}

	for _, id := range e.tracker.Ids() {
		if err := e.adapter.SendHeartbeat(ctx, id, e.selfID); err != nil {
			log.WithError(err).WithFields(log.Fields{"peer_id": e.selfID, "to": id}).Warn("heartbeat: delivery failed, dropping peer")
			e.tracker.Drop(id)
		}
	}
}
