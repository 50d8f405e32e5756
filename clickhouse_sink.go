package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/orian/configdesk/logger"
	"github.com/orian/configdesk/models"
)

const defaultAuditTable = "graph_commits"

// ClickHouseSink appends every commit to an audit table in ClickHouse.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// NewClickHouseSink creates a new ClickHouseSink with the given connection.
func NewClickHouseSink(conn driver.Conn, table string) *ClickHouseSink {
	if table == "" {
		table = defaultAuditTable
	}
	return &ClickHouseSink{conn: conn, table: table}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureTable creates the audit table when it does not exist.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			collection String,
			config_id String,
			version_id String,
			n_ver Int64,
			tag String,
			comment String,
			committed_at DateTime64(6, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (collection, config_id, n_ver)
	`, s.table))
}

func (s *ClickHouseSink) Publish(ctx context.Context, collection string, rec *models.VersionRecord) error {
	ev := newCommitEvent(collection, rec)
	err := s.conn.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (collection, config_id, version_id, n_ver, tag, comment, committed_at) VALUES (?, ?, ?, ?, ?, ?, ?)", s.table),
		ev.Collection, ev.ConfigID, ev.VersionID, ev.NVer, ev.Tag, ev.Comment, ev.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("clickhouse audit insert failed: %w", err)
	}
	return nil
}

// ClickHouseConfig holds the audit-trail connection settings.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Secure   bool   `yaml:"secure"`
	Table    string `yaml:"table"`
}

// Enabled reports whether an audit trail was configured.
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// openClickHouse connects to ClickHouse and verifies the connection.
func openClickHouse(ctx context.Context, cfg ClickHouseConfig, log *logger.Logger) (driver.Conn, error) {
	database := cfg.Database
	if database == "" {
		database = "default"
	}
	username := cfg.Username
	if username == "" {
		username = "default"
	}
	useSecure := cfg.Secure || strings.Contains(cfg.Host, ":9440")

	log.Info("Connecting to ClickHouse",
		"host", cfg.Host,
		"database", database,
		"user", username,
		"credentials", maskPassword(cfg.Password),
		"secure", useSecure,
	)

	options := &clickhouse.Options{
		Addr: []string{cfg.Host},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "configdesk", Version: "1.0"},
			},
		},
		Settings: clickhouse.Settings{
			"send_logs_level": "none",
		},
	}
	if useSecure {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping failed: %w", err)
	}
	return conn, nil
}
