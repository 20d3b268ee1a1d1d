// Package vault persists the curriculum truth layer: curricula, extracted and
// standardized competencies, competency metadata, embedded chunks, and the
// ingestion job queue. It speaks SQLite (pure Go driver by default, mattn +
// sqlite-vec under the sqlite_vec build tag) and PostgreSQL through pgx.
//
// Writes happen only on the ingestion side. Generation consumes the vault
// through ReadOnlySession, which refuses writes at both the application and
// the database level.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"edutrack/internal/logging"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultDimensions is the embedding width assumed when none is configured.
const DefaultDimensions = 768

type driverKind int

const (
	driverSQLite driverKind = iota
	driverPostgres
)

// Vault is the write-capable curriculum store used by the ingestion pipeline.
type Vault struct {
	db     *sql.DB
	mu     sync.RWMutex
	kind   driverKind
	dims   int
	dbPath string
}

// Open opens the vault at the given DSN and creates missing tables.
// A postgres:// or postgresql:// DSN selects the pgx driver; anything else is
// treated as a SQLite path. dims sizes the vector index and falls back to
// DefaultDimensions when zero.
func Open(dsn string, dims int) (*Vault, error) {
	if dims <= 0 {
		dims = DefaultDimensions
	}

	name, kind := resolveDriver(dsn)
	if kind == driverSQLite {
		// Ensure directory exists
		if dir := filepath.Dir(sqlitePath(dsn)); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create vault directory: %w", err)
			}
		}
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault database: %w", err)
	}

	v := &Vault{db: db, kind: kind, dims: dims, dbPath: dsn}
	if err := v.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Vault("Vault opened (driver=%s, dims=%d)", name, dims)
	return v, nil
}

// resolveDriver maps a DSN to its database/sql driver name.
func resolveDriver(dsn string) (string, driverKind) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx", driverPostgres
	}
	return sqliteDriver, driverSQLite
}

// sqlitePath strips the file: scheme and query parameters from a SQLite DSN.
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

// rebind rewrites ? placeholders to $N for the postgres driver.
func rebind(kind driverKind, query string) string {
	if kind != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// initialize creates the required tables.
func (v *Vault) initialize() error {
	schema := sqliteSchema
	if v.kind == driverPostgres {
		schema = postgresSchema
	}

	for _, table := range schema {
		if _, err := v.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if v.kind == driverSQLite && vecIndexEnabled {
		ddl := fmt.Sprintf(
			"CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(chunk_id TEXT PRIMARY KEY, embedding float[%d] distance_metric=cosine)",
			v.dims,
		)
		if _, err := v.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}

	return nil
}

var sqliteSchema = []string{
	`
	CREATE TABLE IF NOT EXISTS curricula (
		id TEXT PRIMARY KEY,
		country TEXT NOT NULL,
		iso2 TEXT NOT NULL,
		jurisdiction_level TEXT NOT NULL,
		jurisdiction_name TEXT,
		jurisdiction_parent_id TEXT,
		grade TEXT NOT NULL,
		subject TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		confidence REAL NOT NULL DEFAULT 0,
		last_verified DATETIME,
		ttl_expiry DATETIME,
		source_url TEXT NOT NULL,
		source_authority TEXT,
		checksum TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_curricula_lookup ON curricula(iso2, grade, subject);
	CREATE INDEX IF NOT EXISTS idx_curricula_checksum ON curricula(checksum);
	`,
	`
	CREATE TABLE IF NOT EXISTS competencies (
		id TEXT PRIMARY KEY,
		curriculum_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		learning_outcomes TEXT,
		page_range TEXT,
		source_chunk_ids TEXT,
		extraction_confidence REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_competencies_curriculum ON competencies(curriculum_id);
	`,
	`
	CREATE TABLE IF NOT EXISTS standardized_competencies (
		competency_id TEXT PRIMARY KEY,
		curriculum_id TEXT NOT NULL,
		original_text TEXT NOT NULL,
		standardized_text TEXT NOT NULL,
		action_verb TEXT,
		content TEXT,
		context TEXT,
		bloom_level TEXT,
		complexity_level TEXT,
		source_chunk_id TEXT NOT NULL,
		extraction_confidence REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_standardized_curriculum ON standardized_competencies(curriculum_id);
	`,
	`
	CREATE TABLE IF NOT EXISTS competency_metadata (
		competency_id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		grade_level TEXT,
		domain TEXT,
		confidence_score REAL NOT NULL DEFAULT 0,
		tags TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		curriculum_id TEXT NOT NULL,
		competency_id TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'main',
		text TEXT NOT NULL,
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_curriculum ON chunks(curriculum_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_competency ON chunks(competency_id);
	`,
	`
	CREATE TABLE IF NOT EXISTS ingestion_jobs (
		job_id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		requested_by TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON ingestion_jobs(status);
	`,
}

var postgresSchema = []string{
	`
	CREATE TABLE IF NOT EXISTS curricula (
		id TEXT PRIMARY KEY,
		country TEXT NOT NULL,
		iso2 TEXT NOT NULL,
		jurisdiction_level TEXT NOT NULL,
		jurisdiction_name TEXT,
		jurisdiction_parent_id TEXT,
		grade TEXT NOT NULL,
		subject TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_verified TIMESTAMPTZ,
		ttl_expiry TIMESTAMPTZ,
		source_url TEXT NOT NULL,
		source_authority TEXT,
		checksum TEXT,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_curricula_lookup ON curricula(iso2, grade, subject);
	CREATE INDEX IF NOT EXISTS idx_curricula_checksum ON curricula(checksum);
	`,
	`
	CREATE TABLE IF NOT EXISTS competencies (
		id TEXT PRIMARY KEY,
		curriculum_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		learning_outcomes TEXT,
		page_range TEXT,
		source_chunk_ids TEXT,
		extraction_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_competencies_curriculum ON competencies(curriculum_id);
	`,
	`
	CREATE TABLE IF NOT EXISTS standardized_competencies (
		competency_id TEXT PRIMARY KEY,
		curriculum_id TEXT NOT NULL,
		original_text TEXT NOT NULL,
		standardized_text TEXT NOT NULL,
		action_verb TEXT,
		content TEXT,
		context TEXT,
		bloom_level TEXT,
		complexity_level TEXT,
		source_chunk_id TEXT NOT NULL,
		extraction_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_standardized_curriculum ON standardized_competencies(curriculum_id);
	`,
	`
	CREATE TABLE IF NOT EXISTS competency_metadata (
		competency_id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		grade_level TEXT,
		domain TEXT,
		confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		tags TEXT,
		created_at TIMESTAMPTZ DEFAULT now()
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		curriculum_id TEXT NOT NULL,
		competency_id TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'main',
		text TEXT NOT NULL,
		embedding BYTEA,
		created_at TIMESTAMPTZ DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_curriculum ON chunks(curriculum_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_competency ON chunks(competency_id);
	`,
	`
	CREATE TABLE IF NOT EXISTS ingestion_jobs (
		job_id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		requested_by TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		reason TEXT,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON ingestion_jobs(status);
	`,
}

// Close closes the database connection.
func (v *Vault) Close() error {
	return v.db.Close()
}

// Dimensions returns the vector width the vault was opened with.
func (v *Vault) Dimensions() int {
	return v.dims
}

// CurriculumIDFromChecksum derives the stable curriculum id for a document.
// Re-ingesting the same bytes lands on the same id, which is what makes the
// persist step idempotent.
func CurriculumIDFromChecksum(checksum string) string {
	if len(checksum) > 12 {
		checksum = checksum[:12]
	}
	return "curr-" + checksum
}

// Stats returns row counts per table.
func (v *Vault) Stats(ctx context.Context) (map[string]int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{"curricula", "competencies", "standardized_competencies", "competency_metadata", "chunks", "ingestion_jobs"}

	for _, table := range tables {
		var count int64
		err := v.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		stats[table] = count
	}

	return stats, nil
}
