package server

import (
	"context"
	"fmt"
	"time"

	"github.com/neomars/usage-agent-windows/internal/config"
	"github.com/neomars/usage-agent-windows/internal/models"
)

// AlertKind is the label shown on the dashboard.
type AlertKind string

const (
	AlertOffline AlertKind = "Offline"
	AlertHighCPU AlertKind = "High CPU Usage"
	AlertHighGPU AlertKind = "High GPU Usage"
)

const displayLayout = "2006-01-02 15:04:05"

// Alert is derived on every read and never stored.
type Alert struct {
	NetbiosName string    `json:"netbios_name"`
	IPAddress   string    `json:"ip_address"`
	Kind        AlertKind `json:"alert_type"`
	Detail      string    `json:"details"`
}

// AlertThresholds are the collector's own limits, independent of the agent's.
// A reading the agent withheld as null never alerts, whatever these are.
type AlertThresholds struct {
	CPU     float64
	GPU     float64
	Offline time.Duration
}

// AlertThresholdsFromConfig extracts the collector limits.
func AlertThresholdsFromConfig(cfg *config.Config) AlertThresholds {
	return AlertThresholds{
		CPU:     cfg.CollectorCPUAlertThreshold,
		GPU:     cfg.CollectorGPUAlertThreshold,
		Offline: time.Duration(cfg.OfflineThresholdMinutes) * time.Minute,
	}
}

// Evaluate derives alerts from endpoint state at now. Times in details are
// rendered in now's location.
func Evaluate(now time.Time, states []EndpointState, th AlertThresholds) []Alert {
	var alerts []Alert
	for _, st := range states {
		ep := st.Endpoint
		add := func(kind AlertKind, detail string) {
			alerts = append(alerts, Alert{NetbiosName: ep.NetbiosName, IPAddress: ep.IPAddress, Kind: kind, Detail: detail})
		}

		switch {
		case ep.LastSeen == nil:
			add(AlertOffline, "Never seen (no activity logs yet)")
		case now.Sub(*ep.LastSeen) > th.Offline:
			add(AlertOffline, "Last seen: "+ep.LastSeen.In(now.Location()).Format(displayLayout))
		}

		if st.Latest == nil {
			continue
		}
		at := st.Latest.Timestamp.In(now.Location()).Format(displayLayout)
		if v := st.Latest.CPUPercent; v != nil && *v > th.CPU {
			add(AlertHighCPU, fmt.Sprintf("CPU at %.1f%% on %s", *v, at))
		}
		if v := st.Latest.GPUPercent; v != nil && *v > th.GPU {
			add(AlertHighGPU, fmt.Sprintf("GPU at %.1f%% on %s", *v, at))
		}
	}
	return alerts
}

// AlertEvaluator loads state from the store and evaluates it.
type AlertEvaluator struct {
	store      *Store
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEvaluator uses th for every evaluation.
func NewAlertEvaluator(store *Store, th AlertThresholds) *AlertEvaluator {
	return &AlertEvaluator{store: store, thresholds: th, now: time.Now}
}

// Snapshot is the dashboard payload: endpoints plus alerts from one read.
type Snapshot struct {
	Endpoints []models.EndpointView `json:"computers"`
	Alerts    []Alert               `json:"alerts"`
	Generated time.Time             `json:"generated_at"`
}

// Snapshot reads current state once and derives both views from it.
func (e *AlertEvaluator) Snapshot(ctx context.Context) (*Snapshot, error) {
	states, err := e.store.EndpointStates(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()

	views := make([]models.EndpointView, 0, len(states))
	for _, st := range states {
		views = append(views, endpointView(st.Endpoint, now.Location()))
	}
	alerts := Evaluate(now, states, e.thresholds)
	if alerts == nil {
		alerts = []Alert{}
	}
	return &Snapshot{Endpoints: views, Alerts: alerts, Generated: now}, nil
}

func endpointView(ep models.Endpoint, loc *time.Location) models.EndpointView {
	v := models.EndpointView{
		ID:          ep.ID,
		NetbiosName: ep.NetbiosName,
		IPAddress:   ep.IPAddress,
		LastSeen:    "Never",
		OSName:      ep.OSName,
		OSVersion:   ep.OSVersion,
		GroupID:     ep.GroupID,
	}
	if ep.LastSeen != nil {
		v.LastSeen = ep.LastSeen.In(loc).Format(displayLayout)
	}
	if ep.Group != nil {
		v.GroupName = ep.Group.Name
	}
	return v
}
