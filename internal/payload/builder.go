package payload

import (
	"math"
	"time"
)

// Thresholds decide which readings are noteworthy enough to transmit.
// CPU and GPU alert above the threshold; free disk alerts below it.
type Thresholds struct {
	CPU    float64
	GPU    float64
	DiskGB float64
}

// Identity is the network identity reported with every record.
type Identity struct {
	NetbiosName string
	IPAddress   string
	OSName      *string
	OSVersion   *string
}

// Reading is one raw sample from the metric providers. A nil numeric field means
// the provider was unavailable or failed this cycle.
type Reading struct {
	Identity    Identity
	CPU         *float64
	GPU         *float64
	FreeDiskGB  *float64
	WindowTitle string
}

// Builder is a pure transform from readings to records.
type Builder struct {
	thresholds Thresholds
}

// NewBuilder returns a Builder applying th.
func NewBuilder(th Thresholds) *Builder {
	return &Builder{thresholds: th}
}

// Thresholds returns the configuration the builder was created with.
func (b *Builder) Thresholds() Thresholds { return b.thresholds }

// Build produces the machine and application records for one sample.
func (b *Builder) Build(r Reading, at time.Time) []Record {
	return []Record{b.Machine(r, at), b.Application(r, at)}
}

// Machine builds the resource-usage record. Raw values that do not cross their
// threshold are never carried, only an explicit null.
func (b *Builder) Machine(r Reading, at time.Time) *MachineRecord {
	return &MachineRecord{
		Type:        TypeMachine,
		Timestamp:   FormatTimestamp(at),
		NetbiosName: r.Identity.NetbiosName,
		IPAddress:   r.Identity.IPAddress,
		FreeDiskGB:  below(r.FreeDiskGB, b.thresholds.DiskGB, 2),
		CPUPercent:  above(r.CPU, b.thresholds.CPU, 1),
		GPUPercent:  above(r.GPU, b.thresholds.GPU, 1),
		OSName:      r.Identity.OSName,
		OSVersion:   r.Identity.OSVersion,
		at:          at,
	}
}

// Application builds the foreground-window record.
func (b *Builder) Application(r Reading, at time.Time) *ApplicationRecord {
	return &ApplicationRecord{
		Type:              TypeApplication,
		Timestamp:         FormatTimestamp(at),
		NetbiosName:       r.Identity.NetbiosName,
		ActiveWindowTitle: r.WindowTitle,
		at:                at,
	}
}

// Ping builds the liveness record.
func Ping(id Identity, at time.Time) *PingRecord {
	return &PingRecord{
		Type:        TypePing,
		Timestamp:   FormatTimestamp(at),
		NetbiosName: id.NetbiosName,
		IPAddress:   id.IPAddress,
		at:          at,
	}
}

// UpdateStatus stamps a probe result with identity and time.
func UpdateStatus(id Identity, at time.Time, r UpdateStatusRecord) *UpdateStatusRecord {
	r.Type = TypeUpdateStatus
	r.Timestamp = FormatTimestamp(at)
	r.NetbiosName = id.NetbiosName
	r.at = at
	return &r
}

func above(v *float64, threshold float64, places int) *float64 {
	if v == nil || !(*v > threshold) {
		return nil
	}
	return round(*v, places)
}

func below(v *float64, threshold float64, places int) *float64 {
	if v == nil || !(*v < threshold) {
		return nil
	}
	return round(*v, places)
}

func round(v float64, places int) *float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	return &r
}
