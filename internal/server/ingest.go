package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neomars/usage-agent-windows/internal/models"
	"github.com/neomars/usage-agent-windows/internal/payload"
	"github.com/neomars/usage-agent-windows/internal/telemetry"
)

// Status is the ingestion outcome.
type Status int

const (
	Accepted Status = iota
	Rejected
)

// Reason qualifies a rejection.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonValidation  Reason = "validation"
	ReasonNotFound    Reason = "not_found"
	ReasonUnknownType Reason = "unknown_type"
	ReasonPersistence Reason = "persistence"
)

// Result is what every ingestion branch returns. A Rejected result rolls
// back the request's transaction.
type Result struct {
	Status     Status
	Reason     Reason
	Message    string
	EndpointID uint
}

func accept(endpointID uint, format string, args ...any) Result {
	return Result{Status: Accepted, EndpointID: endpointID, Message: fmt.Sprintf(format, args...)}
}

func reject(reason Reason, format string, args ...any) Result {
	return Result{Status: Rejected, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps the result onto the ingestion route's response code.
func (r Result) HTTPStatus() int {
	if r.Status == Accepted {
		return http.StatusOK
	}
	switch r.Reason {
	case ReasonValidation, ReasonUnknownType:
		return http.StatusBadRequest
	case ReasonNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the union of every record shape the agent sends. Which fields
// are meaningful depends on LogType.
type Envelope struct {
	LogType     string `json:"log_type"`
	Timestamp   string `json:"timestamp"`
	NetbiosName string `json:"netbios_name"`

	IPAddress  *string  `json:"ip_address"`
	FreeDiskGB *float64 `json:"free_disk_space_gb"`
	CPUPercent *float64 `json:"cpu_usage_percent"`
	GPUPercent *float64 `json:"gpu_usage_percent"`
	OSName     *string  `json:"os_name"`
	OSVersion  *string  `json:"os_version"`

	ActiveWindowTitle *string `json:"active_window_title"`

	WSUSServer             *string `json:"wsus_server"`
	LastScanTime           *string `json:"last_scan_time"`
	PendingSecurityUpdates *int    `json:"pending_security_updates_count"`
	RebootPending          *bool   `json:"reboot_pending"`
	OverallStatus          *string `json:"overall_status"`
	ScriptErrorMessage     *string `json:"script_error_message"`
}

var errRollback = errors.New("ingest rejected")

// Ingestor applies agent records to the store, one transaction per record.
type Ingestor struct {
	db      *gorm.DB
	loc     *time.Location
	metrics *telemetry.Metrics
	log     zerolog.Logger
}

// NewIngestor reads zone-less timestamps in loc (time.Local when nil).
func NewIngestor(db *gorm.DB, loc *time.Location, metrics *telemetry.Metrics, log zerolog.Logger) *Ingestor {
	if loc == nil {
		loc = time.Local
	}
	return &Ingestor{db: db, loc: loc, metrics: metrics, log: log}
}

// validated carries the common fields after checking.
type validated struct {
	name string
	at   time.Time
}

// Ingest validates env and persists it.
func (i *Ingestor) Ingest(ctx context.Context, env Envelope) Result {
	res := i.ingest(ctx, env)
	i.metrics.RecordIngest(ctx, env.LogType, res.Status == Accepted, string(res.Reason))

	ev := i.log.Debug()
	if res.Status == Rejected {
		ev = i.log.Warn().Str("reason", string(res.Reason))
		if res.Reason == ReasonPersistence {
			ev = i.log.Error().Str("reason", string(res.Reason))
		}
	}
	ev.Str("log_type", env.LogType).Str("netbios_name", env.NetbiosName).Msg(res.Message)
	return res
}

func (i *Ingestor) ingest(ctx context.Context, env Envelope) Result {
	v, res, ok := i.validate(env)
	if !ok {
		return res
	}

	var branch func(tx *gorm.DB, env Envelope, v validated) Result
	switch env.LogType {
	case payload.TypeMachine:
		branch = i.machine
	case payload.TypeApplication:
		branch = i.application
	case payload.TypePing:
		branch = i.ping
	case payload.TypeUpdateStatus:
		branch = i.updateStatus
	default:
		return reject(ReasonUnknownType, "Unknown log_type: %s", env.LogType)
	}

	var result Result
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result = branch(tx, env, v)
		if result.Status == Rejected {
			return errRollback
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRollback) {
		return reject(ReasonPersistence, "Database error: %v", err)
	}
	return result
}

func (i *Ingestor) validate(env Envelope) (validated, Result, bool) {
	if strings.TrimSpace(env.LogType) == "" {
		return validated{}, reject(ReasonValidation, "Missing 'log_type' field in payload"), false
	}
	if strings.TrimSpace(env.Timestamp) == "" {
		return validated{}, reject(ReasonValidation, "Missing common required key: timestamp for log_type '%s'", env.LogType), false
	}
	at, err := payload.ParseTimestamp(env.Timestamp, i.loc)
	if err != nil {
		return validated{}, reject(ReasonValidation, "Invalid timestamp format: %s. Expected ISO format.", env.Timestamp), false
	}
	name := strings.TrimSpace(env.NetbiosName)
	if name == "" {
		return validated{}, reject(ReasonValidation, "Missing or empty common required key: netbios_name for log_type '%s'", env.LogType), false
	}
	return validated{name: name, at: at.UTC()}, Result{}, true
}

func requireIP(env Envelope) (string, bool) {
	if env.IPAddress == nil {
		return "", false
	}
	ip := strings.TrimSpace(*env.IPAddress)
	return ip, ip != ""
}

// upsertEndpoint creates the endpoint or updates the given columns in place,
// then reads it back so the id is right on every dialect.
func upsertEndpoint(tx *gorm.DB, ep *models.Endpoint, update []string) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "netbios_name"}},
		DoUpdates: clause.AssignmentColumns(update),
	}).Create(ep).Error
	if err != nil {
		return err
	}
	var stored models.Endpoint
	if err := tx.Where("netbios_name = ?", ep.NetbiosName).Take(&stored).Error; err != nil {
		return err
	}
	*ep = stored
	return nil
}

func (i *Ingestor) machine(tx *gorm.DB, env Envelope, v validated) Result {
	ip, ok := requireIP(env)
	if !ok {
		return reject(ReasonValidation, "Missing or empty required key 'ip_address' for log_type 'machine'")
	}

	ep := models.Endpoint{
		NetbiosName: v.name,
		IPAddress:   ip,
		LastSeen:    &v.at,
		OSName:      env.OSName,
		OSVersion:   env.OSVersion,
	}
	if err := upsertEndpoint(tx, &ep, []string{"ip_address", "last_seen", "os_name", "os_version"}); err != nil {
		return reject(ReasonPersistence, "Database error: %v", err)
	}

	sample := models.MachineSample{
		EndpointID: ep.ID,
		Timestamp:  v.at,
		FreeDiskGB: env.FreeDiskGB,
		CPUPercent: env.CPUPercent,
		GPUPercent: env.GPUPercent,
	}
	if err := tx.Create(&sample).Error; err != nil {
		return reject(ReasonPersistence, "Database error: %v", err)
	}
	return accept(ep.ID, "Machine log for '%s' recorded.", v.name)
}

func (i *Ingestor) application(tx *gorm.DB, env Envelope, v validated) Result {
	ep, res, ok := existingEndpoint(tx, v.name, "Application")
	if !ok {
		return res
	}

	title := ""
	if env.ActiveWindowTitle != nil {
		title = *env.ActiveWindowTitle
	}
	sample := models.ApplicationSample{EndpointID: ep.ID, Timestamp: v.at, ActiveWindowTitle: title}
	if err := tx.Create(&sample).Error; err != nil {
		return reject(ReasonPersistence, "Database error: %v", err)
	}
	return accept(ep.ID, "Application log for '%s' recorded.", v.name)
}

func (i *Ingestor) ping(tx *gorm.DB, env Envelope, v validated) Result {
	ip, ok := requireIP(env)
	if !ok {
		return reject(ReasonValidation, "Missing or empty required key 'ip_address' for log_type 'ping'")
	}

	ep := models.Endpoint{NetbiosName: v.name, IPAddress: ip, LastSeen: &v.at}
	if err := upsertEndpoint(tx, &ep, []string{"ip_address", "last_seen"}); err != nil {
		return reject(ReasonPersistence, "Database error: %v", err)
	}
	if err := tx.Create(&models.PingRecord{EndpointID: ep.ID, Timestamp: v.at, IPAddress: ip}).Error; err != nil {
		return reject(ReasonPersistence, "Database error: %v", err)
	}
	return accept(ep.ID, "Ping from '%s' recorded.", v.name)
}

func (i *Ingestor) updateStatus(tx *gorm.DB, env Envelope, v validated) Result {
	ep, res, ok := existingEndpoint(tx, v.name, "Update status")
	if !ok {
		return res
	}

	row := models.UpdateStatus{
		EndpointID:             ep.ID,
		PayloadTimestamp:       v.at,
		WSUSServer:             env.WSUSServer,
		PendingSecurityUpdates: env.PendingSecurityUpdates,
		RebootPending:          env.RebootPending,
		ScriptErrorMessage:     env.ScriptErrorMessage,
		OverallStatus:          "unknown",
	}
	if env.OverallStatus != nil && *env.OverallStatus != "" {
		row.OverallStatus = *env.OverallStatus
	}
	if env.LastScanTime != nil && *env.LastScanTime != "" {
		if t, err := payload.ParseTimestamp(*env.LastScanTime, i.loc); err == nil {
			t = t.UTC()
			row.LastScanTime = &t
		} else {
			i.log.Warn().Str("netbios_name", v.name).Str("last_scan_time", *env.LastScanTime).Msg("ignoring unparsable last_scan_time")
		}
	}
	if err := tx.Create(&row).Error; err != nil {
		return reject(ReasonPersistence, "Database error: %v", err)
	}
	return accept(ep.ID, "Update status for '%s' recorded.", v.name)
}

func existingEndpoint(tx *gorm.DB, name, kind string) (*models.Endpoint, Result, bool) {
	var ep models.Endpoint
	err := tx.Where("netbios_name = ?", name).Take(&ep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reject(ReasonNotFound,
			"Computer '%s' not found. %s logs require an existing machine record (created by a 'machine' log).", name, kind), false
	}
	if err != nil {
		return nil, reject(ReasonPersistence, "Database error: %v", err), false
	}
	return &ep, Result{}, true
}
