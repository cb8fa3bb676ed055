// Package store persists chat events in MySQL and serves bounded history
// queries over them. The schema is provisioned externally; the package only
// reads and appends.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ChatEvent is one persisted chat message. Rows are append-only: the core
// never updates or deletes them.
type ChatEvent struct {
	ID         int64
	Channel    string
	SenderIP   string
	Text       string
	Timestamp  int64
	SenderName string
	Metadata   string
	ClientUUID string
}

// Config describes the MySQL endpoint and pool sizing for a Store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	PoolSize int
}

// Store is a MySQL-backed append-and-query log of chat events. It is safe
// for concurrent use; the underlying pool is bounded and callers queue when
// it is saturated.
type Store struct {
	sqlDB *sql.DB
}

// Open connects to MySQL and verifies the connection with a ping.
func Open(cfg Config) (*Store, error) {
	mysqlCfg := mysql.NewConfig()
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mysqlCfg.User = cfg.User
	mysqlCfg.Passwd = cfg.Password
	mysqlCfg.DBName = cfg.Name

	sqlDB, err := sql.Open("mysql", mysqlCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql db: %w", err)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	sqlDB.SetMaxOpenConns(poolSize)
	sqlDB.SetMaxIdleConns(poolSize)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping mysql db: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// NewWithDB wraps an existing database handle. Intended for tests.
func NewWithDB(sqlDB *sql.DB) *Store {
	return &Store{sqlDB: sqlDB}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append inserts one chat event. A write failure is reported to the caller
// and is expected to be treated as non-fatal by the relay.
func (s *Store) Append(ctx context.Context, event ChatEvent) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not configured")
	}
	if event.Channel == "" {
		return fmt.Errorf("channel is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO messages (
		   channel,
		   sender_ip,
		   text,
		   ts,
		   sender_name,
		   client_metadata,
		   client_uuid
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.Channel,
		event.SenderIP,
		event.Text,
		event.Timestamp,
		nullable(event.SenderName),
		nullable(event.Metadata),
		nullable(event.ClientUUID),
	)
	if err != nil {
		return fmt.Errorf("insert chat event: %w", err)
	}
	return nil
}

// History returns up to limit events for a channel in ascending timestamp
// order. The query runs newest-first against the (channel, ts) index and the
// result is reversed before returning, so callers always observe
// chronological order regardless of how many rows exist.
func (s *Store) History(ctx context.Context, channel string, limit int) ([]ChatEvent, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not configured")
	}
	if limit <= 0 {
		return []ChatEvent{}, nil
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, channel, sender_ip, text, ts, sender_name, client_metadata, client_uuid
		 FROM messages
		 WHERE channel = ?
		 ORDER BY ts DESC
		 LIMIT ?`,
		channel,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]ChatEvent, 0, limit)
	for rows.Next() {
		var event ChatEvent
		var senderName, metadata, clientUUID sql.NullString
		if err := rows.Scan(
			&event.ID,
			&event.Channel,
			&event.SenderIP,
			&event.Text,
			&event.Timestamp,
			&senderName,
			&metadata,
			&clientUUID,
		); err != nil {
			return nil, fmt.Errorf("scan chat event: %w", err)
		}
		event.SenderName = senderName.String
		event.Metadata = metadata.String
		event.ClientUUID = clientUUID.String
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	slices.Reverse(events)
	return events, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
