// Package server implements the usage collector: persistence, ingestion,
// alert derivation and the HTTP surfaces for agents and operators.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/neomars/usage-agent-windows/internal/config"
	"github.com/neomars/usage-agent-windows/internal/models"
)

// DBConfig selects the backing store.
type DBConfig struct {
	Driver string // sqlite | postgres | mysql
	Path   string // sqlite file
	DSN    string // postgres / mysql; mysql needs parseTime=true
}

// DBConfigFromConfig extracts the database settings.
func DBConfigFromConfig(cfg *config.Config) DBConfig {
	return DBConfig{Driver: cfg.DBDriver, Path: cfg.DBPath, DSN: cfg.DBDSN}
}

// Store wraps the gorm handle shared by ingestion and the operator API.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// OpenStore opens the database and runs AutoMigrate.
func OpenStore(cfg DBConfig, log zerolog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(sqliteDSN(cfg.Path))
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use sqlite, postgres or mysql)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormWriter{log: log}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg.Driver == "sqlite" || cfg.Driver == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		// sqlite allows one writer at a time
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	log.Info().Str("driver", cfg.Driver).Str("path", cfg.Path).Msg("database opened")
	return &Store{db: db, log: log}, nil
}

// DB exposes the handle for ingestion.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "usage.db"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// ErrGroupExists is returned by CreateGroup for a duplicate name.
var ErrGroupExists = errors.New("group already exists")

// ErrNotFound is returned for unknown endpoints and groups.
var ErrNotFound = errors.New("not found")

// EndpointState is an endpoint together with its most recent machine sample.
type EndpointState struct {
	Endpoint models.Endpoint
	Latest   *models.MachineSample
}

// EndpointStates loads every endpoint with its group and latest machine sample.
func (s *Store) EndpointStates(ctx context.Context) ([]EndpointState, error) {
	var endpoints []models.Endpoint
	if err := s.db.WithContext(ctx).Preload("Group").Order("netbios_name").Find(&endpoints).Error; err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}

	states := make([]EndpointState, 0, len(endpoints))
	for _, ep := range endpoints {
		st := EndpointState{Endpoint: ep}
		var samples []models.MachineSample
		err := s.db.WithContext(ctx).
			Where("computer_id = ?", ep.ID).
			Order("timestamp desc").Order("id desc").
			Limit(1).
			Find(&samples).Error
		if err != nil {
			return nil, fmt.Errorf("latest sample for %s: %w", ep.NetbiosName, err)
		}
		if len(samples) > 0 {
			st.Latest = &samples[0]
		}
		states = append(states, st)
	}
	return states, nil
}

// Groups lists every group by name.
func (s *Store) Groups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	if err := s.db.WithContext(ctx).Order("name").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	return groups, nil
}

// CreateGroup inserts a group; names are unique.
func (s *Store) CreateGroup(ctx context.Context, name string, description *string) (*models.Group, error) {
	g := &models.Group{Name: name, Description: description}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Group{}).Where("name = ?", name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrGroupExists
		}
		return tx.Create(g).Error
	})
	if errors.Is(err, ErrGroupExists) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrGroupExists
	}
	if err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}
	return g, nil
}

// GroupByName finds a group by exact name.
func (s *Store) GroupByName(ctx context.Context, name string) (*models.Group, error) {
	return s.findGroup(ctx, "name = ?", name)
}

// GroupByID finds a group by id.
func (s *Store) GroupByID(ctx context.Context, id uint) (*models.Group, error) {
	return s.findGroup(ctx, "id = ?", id)
}

func (s *Store) findGroup(ctx context.Context, query string, arg any) (*models.Group, error) {
	var g models.Group
	err := s.db.WithContext(ctx).Where(query, arg).Take(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// AssignGroup sets or clears (groupID nil) an endpoint's group.
func (s *Store) AssignGroup(ctx context.Context, netbiosName string, groupID *uint) error {
	ep, err := s.EndpointByName(ctx, netbiosName)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(ep).Update("group_id", groupID).Error; err != nil {
		return fmt.Errorf("assigning group: %w", err)
	}
	return nil
}

// EndpointByName finds an endpoint by NetBIOS name.
func (s *Store) EndpointByName(ctx context.Context, name string) (*models.Endpoint, error) {
	var ep models.Endpoint
	err := s.db.WithContext(ctx).Where("netbios_name = ?", name).Take(&ep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
