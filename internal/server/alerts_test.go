package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neomars/usage-agent-windows/internal/models"
)

var testThresholds = AlertThresholds{CPU: 90, GPU: 90, Offline: 30 * time.Minute}

func stateAt(name string, lastSeen *time.Time, cpu, gpu *float64) EndpointState {
	st := EndpointState{Endpoint: models.Endpoint{NetbiosName: name, IPAddress: "10.0.0.1", LastSeen: lastSeen}}
	if lastSeen != nil && (cpu != nil || gpu != nil) {
		st.Latest = &models.MachineSample{Timestamp: *lastSeen, CPUPercent: cpu, GPUPercent: gpu}
	}
	return st
}

func kinds(alerts []Alert) []AlertKind {
	out := make([]AlertKind, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Kind)
	}
	return out
}

func TestEvaluateOffline(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	stale := now.Add(-31 * time.Minute)
	fresh := now.Add(-29 * time.Minute)

	alerts := Evaluate(now, []EndpointState{stateAt("OLD", &stale, nil, nil), stateAt("NEW", &fresh, nil, nil)}, testThresholds)
	require.Len(t, alerts, 1)
	assert.Equal(t, "OLD", alerts[0].NetbiosName)
	assert.Equal(t, AlertOffline, alerts[0].Kind)
	assert.Equal(t, "Last seen: 2024-05-01 11:29:00", alerts[0].Detail)
}

func TestEvaluateNeverSeen(t *testing.T) {
	alerts := Evaluate(time.Now(), []EndpointState{stateAt("PC1", nil, nil, nil)}, testThresholds)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertOffline, alerts[0].Kind)
	assert.Equal(t, "Never seen (no activity logs yet)", alerts[0].Detail)
}

func TestEvaluateHighUsage(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seen := now.Add(-time.Minute)

	alerts := Evaluate(now, []EndpointState{stateAt("PC1", &seen, ptr(95.5), ptr(99.0))}, testThresholds)
	assert.Equal(t, []AlertKind{AlertHighCPU, AlertHighGPU}, kinds(alerts))
	assert.Equal(t, "CPU at 95.5% on 2024-05-01 11:59:00", alerts[0].Detail)
	assert.Equal(t, "GPU at 99.0% on 2024-05-01 11:59:00", alerts[1].Detail)
}

func TestEvaluateAtThresholdDoesNotAlert(t *testing.T) {
	now := time.Now()
	seen := now.Add(-time.Minute)

	alerts := Evaluate(now, []EndpointState{stateAt("PC1", &seen, ptr(90.0), ptr(10.0))}, testThresholds)
	assert.Empty(t, alerts)
}

// The agent withholds readings below its own threshold, so a collector
// threshold set lower than the agent's never fires for values in between.
func TestEvaluateIndependentThresholds(t *testing.T) {
	now := time.Now()
	seen := now.Add(-time.Minute)
	collector := AlertThresholds{CPU: 50, GPU: 50, Offline: 30 * time.Minute}

	// agent at 90 reported 70% as null
	withheld := stateAt("PC1", &seen, nil, nil)
	withheld.Latest = &models.MachineSample{Timestamp: seen}
	assert.Empty(t, Evaluate(now, []EndpointState{withheld}, collector))

	// a reading the agent did pass through is judged by the collector's limit
	assert.Equal(t, []AlertKind{AlertHighCPU},
		kinds(Evaluate(now, []EndpointState{stateAt("PC1", &seen, ptr(92.0), nil)}, collector)))
}

func TestSnapshot(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, Accepted, ing.Ingest(ctx, machineEnvelope("BUSY", "2024-05-01T11:58:00Z", ptr(97.0))).Status)
	require.Equal(t, Accepted, ing.Ingest(ctx, machineEnvelope("BUSY", "2024-05-01T11:59:00Z", ptr(96.0))).Status)
	require.Equal(t, Accepted, ing.Ingest(ctx, machineEnvelope("STALE", "2024-05-01T10:00:00Z", nil)).Status)

	_, err := store.CreateGroup(ctx, "Lab", nil)
	require.NoError(t, err)
	g, err := store.GroupByName(ctx, "Lab")
	require.NoError(t, err)
	require.NoError(t, store.AssignGroup(ctx, "BUSY", &g.ID))

	ev := NewAlertEvaluator(store, testThresholds)
	ev.now = func() time.Time { return now }

	snap, err := ev.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Endpoints, 2)
	assert.Equal(t, "BUSY", snap.Endpoints[0].NetbiosName)
	assert.Equal(t, "Lab", snap.Endpoints[0].GroupName)
	assert.Equal(t, "2024-05-01 11:59:00", snap.Endpoints[0].LastSeen)

	require.Len(t, snap.Alerts, 2)
	assert.Equal(t, AlertHighCPU, snap.Alerts[0].Kind)
	assert.Equal(t, "CPU at 96.0% on 2024-05-01 11:59:00", snap.Alerts[0].Detail)
	assert.Equal(t, AlertOffline, snap.Alerts[1].Kind)
	assert.Equal(t, "STALE", snap.Alerts[1].NetbiosName)
}

func TestSnapshotEmptyHasNonNilAlerts(t *testing.T) {
	store := newTestStore(t)
	snap, err := NewAlertEvaluator(store, testThresholds).Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap.Alerts)
	assert.Empty(t, snap.Endpoints)
}
