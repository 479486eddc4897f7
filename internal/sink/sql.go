package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/r-smith/sshlure/internal/eventdata"
)

// sqlTimeout bounds each database statement.
const sqlTimeout = 5 * time.Second

var schemas = map[string]string{
	"sqlite3": `
	CREATE TABLE IF NOT EXISTS attack_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL UNIQUE,
		timestamp DATETIME NOT NULL,
		source_ip TEXT NOT NULL,
		source_port INTEGER,
		server_ip TEXT,
		server_port INTEGER,
		username TEXT,
		password TEXT,
		session_id TEXT,
		attack_type TEXT NOT NULL,
		client_version TEXT,
		attempts INTEGER,
		country TEXT,
		city TEXT,
		latitude REAL,
		longitude REAL
	);
	CREATE INDEX IF NOT EXISTS idx_attack_logs_timestamp ON attack_logs (timestamp);
	CREATE INDEX IF NOT EXISTS idx_attack_logs_source_ip ON attack_logs (source_ip);`,

	"postgres": `
	CREATE TABLE IF NOT EXISTS attack_logs (
		id BIGSERIAL PRIMARY KEY,
		record_id TEXT NOT NULL UNIQUE,
		timestamp TIMESTAMPTZ NOT NULL,
		source_ip TEXT NOT NULL,
		source_port INTEGER,
		server_ip TEXT,
		server_port INTEGER,
		username TEXT,
		password TEXT,
		session_id TEXT,
		attack_type TEXT NOT NULL,
		client_version TEXT,
		attempts INTEGER,
		country TEXT,
		city TEXT,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION
	);
	CREATE INDEX IF NOT EXISTS idx_attack_logs_timestamp ON attack_logs (timestamp);
	CREATE INDEX IF NOT EXISTS idx_attack_logs_source_ip ON attack_logs (source_ip);`,
}

const insertColumns = `attack_logs (record_id, timestamp, source_ip, source_port,
	server_ip, server_port, username, password, session_id, attack_type,
	client_version, attempts, country, city, latitude, longitude)`

var inserts = map[string]string{
	"sqlite3": `INSERT INTO ` + insertColumns + `
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (record_id) DO NOTHING`,

	"postgres": `INSERT INTO ` + insertColumns + `
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (record_id) DO NOTHING`,
}

// SQL stores one row per record in the attack_logs table. Re-delivering a
// record with the same ID is a no-op.
type SQL struct {
	db     *sql.DB
	insert string
}

// OpenSQL connects to a sqlite3 or postgres database and creates the
// attack_logs table if needed.
func OpenSQL(driver, dsn string) (*SQL, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported database driver '%s'", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time.
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	s, err := NewSQL(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL uses an existing database handle. The handle is closed by Close.
func NewSQL(db *sql.DB, driver string) (*SQL, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver '%s'", driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &SQL{db: db, insert: inserts[driver]}, nil
}

// Record inserts rec.
func (s *SQL) Record(rec eventdata.AttackRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqlTimeout)
	defer cancel()

	var username, password sql.NullString
	if rec.Credentials != nil {
		username = sql.NullString{String: rec.Credentials.Username, Valid: true}
		password = sql.NullString{String: rec.Credentials.Password, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.insert,
		rec.ID,
		rec.Time.UTC(),
		rec.SourceIP.String(),
		int(rec.SourcePort),
		rec.ServerIP.String(),
		int(rec.ServerPort),
		username,
		password,
		rec.SessionID,
		rec.AttackType,
		rec.ClientVersion,
		rec.Attempts,
		rec.Location.Country,
		rec.Location.City,
		rec.Location.Latitude,
		rec.Location.Longitude,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQL) Close() error {
	return s.db.Close()
}
