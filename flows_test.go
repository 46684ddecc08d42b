package main

import (
	"context"
	"testing"
	"time"

	"go-identity-flow/capture"
	"go-identity-flow/flow"
	"go-identity-flow/identity"
	"go-identity-flow/settings"

	"github.com/stretchr/testify/require"
)

func newRegisteredFlow(t *testing.T, registry *FlowRegistry, id string) *flow.Flow {
	t.Helper()
	inbox := capture.NewInbox()
	f := flow.New(flow.Request{ID: id, Mode: identity.ModeIdentify}, settings.Default(), flow.Dependencies{
		Biometric:      inbox,
		Document:       inbox,
		CrossValidator: &fakeCrossValidator{similarity: 1},
		Identity:       &fakeIdentity{},
	})
	registry.Add(f, inbox)
	require.NoError(t, f.Start(context.Background()))
	t.Cleanup(func() { _ = f.Cancel() })
	return f
}

func TestFlowRegistry_Reap(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	registry := NewFlowRegistry()
	registry.now = func() time.Time { return now }

	var removed []string
	registry.OnRemove = func(flowId string) { removed = append(removed, flowId) }

	finishedFlow := newRegisteredFlow(t, registry, "finished")
	stuck := newRegisteredFlow(t, registry, "stuck")

	require.NoError(t, finishedFlow.Cancel())
	<-finishedFlow.Done()

	// first sighting of a terminal flow starts its retention
	registry.Reap()
	require.Equal(t, 2, registry.Len())
	require.Empty(t, removed)

	now = now.Add(registry.Retention)
	registry.Reap()
	require.Equal(t, []string{"finished"}, removed)
	_, ok := registry.Get("finished")
	require.False(t, ok)
	require.Equal(t, flow.CapturingBiometric, stuck.State())

	now = now.Add(registry.MaxAge)
	registry.Reap()
	<-stuck.Done()
	outcome, done := stuck.Outcome()
	require.True(t, done)
	require.Equal(t, flow.Canceled, outcome.Kind)
}

func TestFlowRegistry_Remove(t *testing.T) {
	registry := NewFlowRegistry()
	newRegisteredFlow(t, registry, "a")

	entry, ok := registry.Remove("a")
	require.True(t, ok)
	require.Equal(t, "a", entry.flow.ID())

	_, ok = registry.Remove("a")
	require.False(t, ok)
	require.Zero(t, registry.Len())
}
