// Package agent implements the usage agent daemon.
// It samples the host on a fixed cadence, writes every record to a daily local
// log and posts it best-effort to the collector data plane (/log_activity).
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/neomars/usage-agent-windows/internal/config"
	"github.com/neomars/usage-agent-windows/internal/logging"
	"github.com/neomars/usage-agent-windows/internal/payload"
	"github.com/neomars/usage-agent-windows/internal/telemetry"
)

// Task names, also used as log fields.
const (
	TaskSample    = "machine_sample"
	TaskPing      = "ping"
	TaskExternal  = "external_check"
	TaskRetention = "retention"
)

// Settings is the immutable slice of configuration the agent runs on.
type Settings struct {
	ServerAddress  string
	SendTimeout    time.Duration
	Thresholds     payload.Thresholds
	DiskPath       string
	LogFolder      string
	RetentionDays  int
	SampleInterval time.Duration
	PingInterval   time.Duration
	TickInterval   time.Duration
	ErrorBackoff   time.Duration

	ExternalCheckCommand  string
	ExternalCheckSchedule string
	ExternalCheckTimeout  time.Duration
}

// SettingsFromConfig converts the loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return Settings{
		ServerAddress: cfg.ServerAddress,
		SendTimeout:   sec(cfg.SendTimeoutSeconds),
		Thresholds: payload.Thresholds{
			CPU:    cfg.CPUAlertThreshold,
			GPU:    cfg.GPUAlertThreshold,
			DiskGB: cfg.DiskAlertThreshold,
		},
		DiskPath:              cfg.DiskPath,
		LogFolder:             cfg.LogFolder,
		RetentionDays:         cfg.LogRetentionDays,
		SampleInterval:        sec(cfg.SampleIntervalSeconds),
		PingInterval:          sec(cfg.PingIntervalSeconds),
		TickInterval:          sec(cfg.TickIntervalSeconds),
		ErrorBackoff:          sec(cfg.ErrorBackoffSeconds),
		ExternalCheckCommand:  cfg.ExternalCheckCommand,
		ExternalCheckSchedule: cfg.ExternalCheckSchedule,
		ExternalCheckTimeout:  sec(cfg.ExternalCheckTimeoutSeconds),
	}
}

// Agent owns the pipeline components and exposes one method per task.
type Agent struct {
	settings  Settings
	collector *Collector
	builder   *payload.Builder
	sink      *LogSink
	reporter  *Reporter
	external  *ExternalCheck
	metrics   *telemetry.Metrics
	now       func() time.Time
	log       zerolog.Logger
}

// New wires an Agent. metrics may be nil.
func New(s Settings, collector *Collector, metrics *telemetry.Metrics, log zerolog.Logger) *Agent {
	return &Agent{
		settings:  s,
		collector: collector,
		builder:   payload.NewBuilder(s.Thresholds),
		sink:      NewLogSink(s.LogFolder, logging.WithComponent(log, "logsink")),
		reporter:  NewReporter(s.ServerAddress, s.SendTimeout, logging.WithComponent(log, "reporter")),
		external:  NewExternalCheck(s.ExternalCheckCommand, s.ExternalCheckTimeout, logging.WithComponent(log, "external")),
		metrics:   metrics,
		now:       time.Now,
		log:       log,
	}
}

// Scheduler registers the periodic tasks in their tick order.
func (a *Agent) Scheduler(opts ...Option) (*Scheduler, error) {
	s := NewScheduler(a.settings.TickInterval, a.settings.ErrorBackoff,
		logging.WithComponent(a.log, "scheduler"), opts...)

	s.Every(TaskPing, a.settings.PingInterval, a.Ping)
	if a.external != nil {
		sched, err := cron.ParseStandard(a.settings.ExternalCheckSchedule)
		if err != nil {
			return nil, fmt.Errorf("parsing external_check_schedule %q: %w", a.settings.ExternalCheckSchedule, err)
		}
		s.Add(TaskExternal, sched, a.ExternalCheck)
	}
	s.Every(TaskSample, a.settings.SampleInterval, a.Sample)
	return s, nil
}

// Cleanup prunes old daily log files.
func (a *Agent) Cleanup(context.Context) error {
	n, err := a.sink.Cleanup(a.settings.RetentionDays)
	if n > 0 {
		a.log.Info().Int("deleted", n).Msg("log retention applied")
	}
	if err != nil {
		a.log.Error().Err(err).Msg("log retention incomplete")
	}
	return nil
}

// Sample collects one reading and emits the machine and application records.
func (a *Agent) Sample(ctx context.Context) error {
	reading := a.collector.Collect(ctx)
	at := a.now()
	for _, rec := range a.builder.Build(reading, at) {
		a.emit(ctx, rec)
	}
	return nil
}

// Ping sends the liveness record and writes its outcome locally.
func (a *Agent) Ping(ctx context.Context) error {
	at := a.now()
	rec := payload.Ping(a.collector.Identity(ctx), at)

	delivered := false
	body, err := payload.Encode(rec)
	if err != nil {
		a.log.Error().Err(err).Msg("dropping ping record")
	} else {
		delivered = a.deliver(ctx, rec, body).Delivered
	}

	status := payload.NewPingStatus(at, a.settings.ServerAddress, delivered)
	line, err := payload.Encode(status)
	if err != nil {
		a.log.Error().Err(err).Msg("encoding ping status")
		return nil
	}
	if err := a.sink.Append(at, line); err != nil {
		a.log.Error().Err(err).Msg("writing ping status")
	}
	return nil
}

// ExternalCheck runs the probe and emits an update_status record.
func (a *Agent) ExternalCheck(ctx context.Context) error {
	if a.external == nil {
		return nil
	}
	result := a.external.Run(ctx)
	at := a.now()
	a.emit(ctx, payload.UpdateStatus(a.collector.Identity(ctx), at, result))
	return nil
}

// emit writes rec locally, then attempts delivery regardless of the local outcome.
func (a *Agent) emit(ctx context.Context, rec payload.Record) {
	body, err := payload.Encode(rec)
	if err != nil {
		a.log.Error().Err(err).Str("log_type", rec.Kind()).Msg("dropping record")
		return
	}
	if err := a.sink.Append(rec.At(), body); err != nil {
		a.log.Error().Err(err).Str("log_type", rec.Kind()).Msg("local log write failed")
	}
	a.deliver(ctx, rec, body)
}

func (a *Agent) deliver(ctx context.Context, rec payload.Record, body []byte) Delivery {
	d := a.reporter.Send(ctx, body)
	if d.Reason == ReasonDisabled {
		return d
	}
	a.metrics.RecordDelivery(ctx, rec.Kind(), d.Delivered, string(d.Reason))
	if d.Delivered {
		a.log.Debug().Str("log_type", rec.Kind()).Msg("record delivered")
	} else {
		a.log.Warn().Str("log_type", rec.Kind()).Str("reason", string(d.Reason)).Msg(d.String())
	}
	return d
}

// Run starts the agent: retention once, then the scheduling loop until ctx
// is cancelled. ready is called once the loop is about to start.
func Run(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, log zerolog.Logger, ready func()) error {
	s := SettingsFromConfig(cfg)
	providers := DefaultProviders(s.DiskPath, logging.WithComponent(log, "providers"))
	a := New(s, NewCollector(providers, logging.WithComponent(log, "collector")), metrics, log)

	if !a.reporter.Enabled() {
		log.Warn().Msg("no server_address configured; records are written locally only")
	} else {
		log.Info().Str("url", a.reporter.URL()).Dur("timeout", s.SendTimeout).Msg("remote delivery enabled")
	}

	sched, err := a.Scheduler()
	if err != nil {
		return err
	}

	sched.RunOnce(ctx, TaskRetention, a.Cleanup)
	if ready != nil {
		ready()
	}
	th := a.builder.Thresholds()
	log.Info().
		Float64("cpu_threshold", th.CPU).
		Float64("gpu_threshold", th.GPU).
		Float64("disk_threshold_gb", th.DiskGB).
		Dur("sample_interval", s.SampleInterval).
		Dur("ping_interval", s.PingInterval).
		Dur("tick", s.TickInterval).
		Bool("external_check", a.external != nil).
		Msg("agent loop started")
	return sched.Run(ctx)
}
