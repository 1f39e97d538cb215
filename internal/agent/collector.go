package agent

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/neomars/usage-agent-windows/internal/payload"
)

const notAvailable = "N/A"

// Capability is a provider that may be absent on this host. Absence is
// resolved once at startup and never changes afterwards.
type Capability[T any] struct {
	impl T
	ok   bool
}

// Available wraps a working provider.
func Available[T any](impl T) Capability[T] {
	return Capability[T]{impl: impl, ok: true}
}

// Unavailable marks a provider the host cannot supply.
func Unavailable[T any]() Capability[T] {
	return Capability[T]{}
}

// Get returns the provider and whether it is present.
func (c Capability[T]) Get() (T, bool) { return c.impl, c.ok }

// MetricProvider reads one numeric value.
type MetricProvider interface {
	Read(ctx context.Context) (float64, error)
}

// MetricFunc adapts a function to MetricProvider.
type MetricFunc func(ctx context.Context) (float64, error)

func (f MetricFunc) Read(ctx context.Context) (float64, error) { return f(ctx) }

// TextProvider reads one string value.
type TextProvider interface {
	Read(ctx context.Context) (string, error)
}

// TextFunc adapts a function to TextProvider.
type TextFunc func(ctx context.Context) (string, error)

func (f TextFunc) Read(ctx context.Context) (string, error) { return f(ctx) }

// IdentityFunc resolves the host identity for one cycle.
type IdentityFunc func(ctx context.Context) payload.Identity

// Providers is the full set of sources the collector samples.
type Providers struct {
	CPU      Capability[MetricProvider]
	GPU      Capability[MetricProvider]
	FreeDisk Capability[MetricProvider]
	Window   Capability[TextProvider]
	Identity IdentityFunc
}

// DefaultProviders probes the host once and returns what it can supply.
func DefaultProviders(diskPath string, log zerolog.Logger) Providers {
	p := Providers{
		CPU:      Available[MetricProvider](MetricFunc(cpuPercent)),
		FreeDisk: Available[MetricProvider](freeDiskGB(diskPath)),
		GPU:      gpuProvider(),
		Window:   windowProvider(),
		Identity: hostIdentity,
	}
	if _, ok := p.GPU.Get(); !ok {
		log.Info().Msg("no GPU utilisation source found; gpu_usage_percent will be null")
	}
	if _, ok := p.Window.Get(); !ok {
		log.Info().Msg("foreground window title unavailable on this platform")
	}
	return p
}

// Collector samples every provider once per cycle. Provider failures are
// logged and treated as absent values, never as cycle failures.
type Collector struct {
	providers Providers
	log       zerolog.Logger
}

// NewCollector creates a Collector over p.
func NewCollector(p Providers, log zerolog.Logger) *Collector {
	if p.Identity == nil {
		p.Identity = hostIdentity
	}
	return &Collector{providers: p, log: log}
}

// Identity resolves the host identity.
func (c *Collector) Identity(ctx context.Context) payload.Identity {
	return c.providers.Identity(ctx)
}

// Collect gathers one reading.
func (c *Collector) Collect(ctx context.Context) payload.Reading {
	r := payload.Reading{Identity: c.Identity(ctx)}
	r.CPU = c.metric(ctx, "cpu", c.providers.CPU)
	r.GPU = c.metric(ctx, "gpu", c.providers.GPU)
	r.FreeDiskGB = c.metric(ctx, "disk", c.providers.FreeDisk)

	if w, ok := c.providers.Window.Get(); ok {
		title, err := w.Read(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("reading foreground window title")
		}
		r.WindowTitle = title
	}
	return r
}

func (c *Collector) metric(ctx context.Context, name string, capability Capability[MetricProvider]) *float64 {
	p, ok := capability.Get()
	if !ok {
		return nil
	}
	v, err := p.Read(ctx)
	if err != nil {
		c.log.Warn().Err(err).Str("provider", name).Msg("provider read failed")
		return nil
	}
	return &v
}

func cpuPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, errNoSample
	}
	return pcts[0], nil
}

func freeDiskGB(path string) MetricFunc {
	return func(ctx context.Context) (float64, error) {
		u, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, err
		}
		return float64(u.Free) / (1 << 30), nil
	}
}

// hostIdentity uses the hostname as the NetBIOS name and the first
// non-loopback IPv4 address. Either falls back to "N/A".
func hostIdentity(ctx context.Context) payload.Identity {
	id := payload.Identity{NetbiosName: notAvailable, IPAddress: notAvailable}
	if h, err := os.Hostname(); err == nil && h != "" {
		id.NetbiosName = h
	}
	if ip := localIP(); ip != "" {
		id.IPAddress = ip
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		if info.Platform != "" {
			id.OSName = &info.Platform
		}
		if info.PlatformVersion != "" {
			id.OSVersion = &info.PlatformVersion
		}
	}
	return id
}

// localIP returns the first non-loopback IPv4 address.
func localIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				return ip.String()
			}
		}
	}
	return ""
}
