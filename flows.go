package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go-identity-flow/capture"
	"go-identity-flow/flow"
)

type flowEntry struct {
	flow       *flow.Flow
	inbox      *capture.Inbox
	startedAt  time.Time
	finishedAt time.Time
}

// FlowRegistry holds the flows of this instance. Flows live in memory only;
// a restart ends them.
type FlowRegistry struct {
	mutex sync.Mutex
	flows map[string]*flowEntry
	now   func() time.Time

	// Terminal flows are kept this long so clients can read the outcome.
	Retention time.Duration
	// Flows still running after this long are cancelled.
	MaxAge time.Duration
	// Called with the id of every flow removed by the reaper.
	OnRemove func(flowId string)
}

func NewFlowRegistry() *FlowRegistry {
	return &FlowRegistry{
		flows:     make(map[string]*flowEntry),
		now:       time.Now,
		Retention: 15 * time.Minute,
		MaxAge:    time.Hour,
	}
}

func (r *FlowRegistry) Add(f *flow.Flow, inbox *capture.Inbox) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.flows[f.ID()] = &flowEntry{flow: f, inbox: inbox, startedAt: r.now()}
}

func (r *FlowRegistry) Get(flowId string) (*flowEntry, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, ok := r.flows[flowId]
	return e, ok
}

func (r *FlowRegistry) Remove(flowId string) (*flowEntry, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, ok := r.flows[flowId]
	delete(r.flows, flowId)
	return e, ok
}

func (r *FlowRegistry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.flows)
}

// Reap cancels stuck flows and forgets terminal ones past their retention.
func (r *FlowRegistry) Reap() {
	now := r.now()
	var stuck []*flow.Flow
	var removed []string

	r.mutex.Lock()
	for id, e := range r.flows {
		if e.flow.State() != flow.Terminal {
			if now.Sub(e.startedAt) > r.MaxAge {
				stuck = append(stuck, e.flow)
			}
			continue
		}
		if e.finishedAt.IsZero() {
			e.finishedAt = now
		}
		if now.Sub(e.finishedAt) >= r.Retention {
			delete(r.flows, id)
			removed = append(removed, id)
		}
	}
	r.mutex.Unlock()

	for _, f := range stuck {
		slog.Warn("Cancelling flow that exceeded its maximum age", "flow_id", f.ID())
		_ = f.Cancel()
	}
	for _, id := range removed {
		slog.Debug("Removed finished flow", "flow_id", id)
		if r.OnRemove != nil {
			r.OnRemove(id)
		}
	}
}

// Run reaps every interval until ctx is done.
func (r *FlowRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}
