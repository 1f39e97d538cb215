package models

import "time"

// MachineSample stores one resource-usage report. Nullable columns are null
// whenever the agent withheld the reading as below its alert threshold.
type MachineSample struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EndpointID uint      `gorm:"column:computer_id;not null;index:idx_activity_computer_id_timestamp,priority:1" json:"endpoint_id"`
	Endpoint   *Endpoint `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Timestamp  time.Time `gorm:"not null;index:idx_activity_computer_id_timestamp,priority:2" json:"timestamp"`
	FreeDiskGB *float64  `gorm:"column:free_disk_space_gb" json:"free_disk_space_gb"`
	CPUPercent *float64  `gorm:"column:cpu_usage_percent" json:"cpu_usage_percent"`
	GPUPercent *float64  `gorm:"column:gpu_usage_percent" json:"gpu_usage_percent"`
}

func (MachineSample) TableName() string { return "activity_logs" }

// ApplicationSample stores one foreground-window report.
type ApplicationSample struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	EndpointID        uint      `gorm:"column:computer_id;not null;index:idx_app_usage_computer_id_timestamp,priority:1" json:"endpoint_id"`
	Endpoint          *Endpoint `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Timestamp         time.Time `gorm:"not null;index:idx_app_usage_computer_id_timestamp,priority:2" json:"timestamp"`
	ActiveWindowTitle string    `gorm:"size:512" json:"active_window_title"`
}

func (ApplicationSample) TableName() string { return "application_usage_logs" }

// PingRecord stores one liveness report.
type PingRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EndpointID uint      `gorm:"column:computer_id;not null;index:idx_ping_computer_id_timestamp,priority:1" json:"endpoint_id"`
	Endpoint   *Endpoint `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Timestamp  time.Time `gorm:"not null;index:idx_ping_computer_id_timestamp,priority:2" json:"timestamp"`
	IPAddress  string    `gorm:"size:45" json:"ip_address"`
}

func (PingRecord) TableName() string { return "ping_logs" }

// UpdateStatus stores one patch-compliance probe result.
type UpdateStatus struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	EndpointID             uint       `gorm:"column:computer_id;not null;index:idx_wu_computer_id_payload_timestamp,priority:1" json:"endpoint_id"`
	Endpoint               *Endpoint  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	PayloadTimestamp       time.Time  `gorm:"not null;index:idx_wu_computer_id_payload_timestamp,priority:2" json:"payload_timestamp"`
	ServerTimestamp        time.Time  `gorm:"autoCreateTime" json:"server_timestamp"`
	WSUSServer             *string    `gorm:"column:wsus_server;size:255" json:"wsus_server"`
	LastScanTime           *time.Time `json:"last_scan_time"`
	PendingSecurityUpdates *int       `gorm:"column:pending_security_updates_count" json:"pending_security_updates_count"`
	RebootPending          *bool      `json:"reboot_pending"`
	OverallStatus          string     `gorm:"size:50" json:"overall_status"`
	ScriptErrorMessage     *string    `gorm:"type:text" json:"script_error_message"`
}

func (UpdateStatus) TableName() string { return "windows_update_status" }

// All lists every model in migration order.
func All() []any {
	return []any{
		&Group{},
		&Endpoint{},
		&MachineSample{},
		&ApplicationSample{},
		&PingRecord{},
		&UpdateStatus{},
	}
}
