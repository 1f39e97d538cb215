// Package payload defines the wire records exchanged between agent and collector
// and the builder that turns raw provider readings into thresholded records.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Discriminator values carried in the log_type field.
const (
	TypeMachine      = "machine"
	TypeApplication  = "application"
	TypePing         = "ping"
	TypeUpdateStatus = "update_status"
)

// Ping outcomes written to the local log.
const (
	PingOK     = "ok"
	PingFailed = "false"
)

// TimestampLayout is what the agent emits: local time with offset, microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Record is one outbound object: a single line in the local log and a single POST body.
type Record interface {
	Kind() string
	At() time.Time
}

// MachineRecord is a resource-usage observation. Nullable fields are always
// serialized, as null when withheld.
type MachineRecord struct {
	Type        string   `json:"log_type"`
	Timestamp   string   `json:"timestamp"`
	NetbiosName string   `json:"netbios_name"`
	IPAddress   string   `json:"ip_address"`
	FreeDiskGB  *float64 `json:"free_disk_space_gb"`
	CPUPercent  *float64 `json:"cpu_usage_percent"`
	GPUPercent  *float64 `json:"gpu_usage_percent"`
	OSName      *string  `json:"os_name"`
	OSVersion   *string  `json:"os_version"`

	at time.Time
}

func (r *MachineRecord) Kind() string  { return TypeMachine }
func (r *MachineRecord) At() time.Time { return r.at }

// ApplicationRecord is a foreground-window observation.
type ApplicationRecord struct {
	Type              string `json:"log_type"`
	Timestamp         string `json:"timestamp"`
	NetbiosName       string `json:"netbios_name"`
	ActiveWindowTitle string `json:"active_window_title"`

	at time.Time
}

func (r *ApplicationRecord) Kind() string  { return TypeApplication }
func (r *ApplicationRecord) At() time.Time { return r.at }

// PingRecord is a liveness-only observation.
type PingRecord struct {
	Type        string `json:"log_type"`
	Timestamp   string `json:"timestamp"`
	NetbiosName string `json:"netbios_name"`
	IPAddress   string `json:"ip_address"`

	at time.Time
}

func (r *PingRecord) Kind() string  { return TypePing }
func (r *PingRecord) At() time.Time { return r.at }

// UpdateStatusRecord carries the output of the external patch-compliance probe.
type UpdateStatusRecord struct {
	Type                   string  `json:"log_type"`
	Timestamp              string  `json:"timestamp"`
	NetbiosName            string  `json:"netbios_name"`
	WSUSServer             *string `json:"wsus_server"`
	LastScanTime           *string `json:"last_scan_time"`
	PendingSecurityUpdates *int    `json:"pending_security_updates_count"`
	RebootPending          *bool   `json:"reboot_pending"`
	OverallStatus          string  `json:"overall_status"`
	ScriptErrorMessage     *string `json:"script_error_message"`

	at time.Time
}

func (r *UpdateStatusRecord) Kind() string  { return TypeUpdateStatus }
func (r *UpdateStatusRecord) At() time.Time { return r.at }

// PingStatus is a local-only status line recording the outcome of a ping attempt.
type PingStatus struct {
	EventType     string `json:"event_type"`
	Timestamp     string `json:"timestamp"`
	ServerAddress string `json:"server_address"`
	Status        string `json:"status"`

	at time.Time
}

func (r *PingStatus) Kind() string  { return "ping_status" }
func (r *PingStatus) At() time.Time { return r.at }

// NewPingStatus builds the local status line for a ping attempt.
func NewPingStatus(at time.Time, serverAddress string, delivered bool) *PingStatus {
	if serverAddress == "" {
		serverAddress = "N/A"
	}
	status := PingFailed
	if delivered {
		status = PingOK
	}
	return &PingStatus{
		EventType:     "ping_status",
		Timestamp:     FormatTimestamp(at),
		ServerAddress: serverAddress,
		Status:        status,
		at:            at,
	}
}

// SerializationError reports a record that could not be encoded. Sibling records
// built in the same cycle are unaffected.
type SerializationError struct {
	Kind string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serializing %s record: %v", e.Kind, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Encode serializes one record as a single JSON line (without the newline).
func Encode(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, &SerializationError{Kind: r.Kind(), Err: err}
	}
	return b, nil
}

// FormatTimestamp renders t in the agent's wire layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999Z07:00",
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ErrBadTimestamp is returned by ParseTimestamp for anything that is not an ISO-8601 instant.
var ErrBadTimestamp = errors.New("timestamp is not ISO-8601")

// ParseTimestamp accepts RFC 3339 (with or without fractional seconds, "Z" or offset,
// with or without the colon in the offset) and zone-less ISO-8601 forms, including a
// bare date, which are read in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrBadTimestamp
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}
