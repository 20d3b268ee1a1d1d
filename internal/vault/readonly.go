package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"edutrack/internal/logging"
	"edutrack/internal/schema"
)

// ErrGenerateSafetyViolation is returned by every write path on a read-only
// session. Generation is a view layer; nothing it does may mutate the vault.
var ErrGenerateSafetyViolation = errors.New("Generate-Safety Violation: attempted to write through a read-only session")

// CompetencyNotFoundError reports an empty competency fetch. The truth layer
// never serves empty lists; a curriculum without competencies cannot ground
// anything.
type CompetencyNotFoundError struct {
	CurriculumID string
}

func (e *CompetencyNotFoundError) Error() string {
	return fmt.Sprintf("no competencies found for curriculum %s", e.CurriculumID)
}

// DatabaseNotReadOnlyError reports a failed read-only verification. Raised
// both when the database accepted a write and when verification itself
// errored, because an unverifiable connection must fail closed.
type DatabaseNotReadOnlyError struct {
	Reason string
	Err    error
}

func (e *DatabaseNotReadOnlyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("database is not read-only: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("database is not read-only: %s", e.Reason)
}

func (e *DatabaseNotReadOnlyError) Unwrap() error {
	return e.Err
}

// ReadOnlySession is the only vault surface the production harness sees.
// It opens the database with read-only credentials, verifies the privilege
// at the database level, and refuses writes at the application level. The
// session serializes its own use; the harness holds one per process.
type ReadOnlySession struct {
	db       *sql.DB
	kind     driverKind
	mu       sync.Mutex
	verified bool
}

// OpenReadOnly opens a read-only vault session. readOnlyURL takes precedence
// and should point at a role-restricted database. Without one, a SQLite
// databaseURL is reopened with mode=ro plus the query_only pragma; a postgres
// databaseURL is rejected because role restriction cannot be derived from a
// write-capable DSN.
func OpenReadOnly(databaseURL, readOnlyURL string) (*ReadOnlySession, error) {
	dsn := readOnlyURL
	if dsn == "" {
		if _, kind := resolveDriver(databaseURL); kind == driverPostgres {
			return nil, fmt.Errorf("postgres vault requires READONLY_DATABASE_URL with a read-only role")
		}
		dsn = readOnlySQLiteDSN(databaseURL)
	}

	name, kind := resolveDriver(dsn)
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only session: %w", err)
	}

	logging.Vault("Read-only session opened (driver=%s)", name)
	return &ReadOnlySession{db: db, kind: kind}, nil
}

// readOnlySQLiteDSN reopens a SQLite path with write access removed. mode=ro
// alone is not enough: temp tables live outside the main database and still
// succeed under it, so the query_only pragma does the real work.
func readOnlySQLiteDSN(dsn string) string {
	base := dsn
	if !strings.HasPrefix(base, "file:") {
		base = "file:" + base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + sqliteReadOnlyParams
}

// Close closes the session.
func (s *ReadOnlySession) Close() error {
	return s.db.Close()
}

// Verified reports whether SelfTest has passed on this session.
func (s *ReadOnlySession) Verified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified
}

// SelfTest proves the connection is read-only at the database level by
// attempting a write that must fail. A successful write means the session is
// not safe to serve from; any failure other than a permission denial leaves
// the privilege unproven, which also fails closed.
func (s *ReadOnlySession) SelfTest(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "CREATE TEMP TABLE _readonly_probe (id INTEGER)")
	if err == nil {
		s.db.ExecContext(ctx, "DROP TABLE IF EXISTS _readonly_probe")
		s.verified = false
		return &DatabaseNotReadOnlyError{Reason: "temp table creation succeeded"}
	}

	if isPermissionDenied(err) {
		s.verified = true
		logging.Vault("Read-only self-test passed")
		return nil
	}

	s.verified = false
	return &DatabaseNotReadOnlyError{Reason: "verification failed with unexpected error", Err: err}
}

// isPermissionDenied reports whether err reads as the database refusing a
// write. SQLite says "attempt to write a readonly database"; postgres says
// "cannot execute ... in a read-only transaction" or "permission denied".
func isPermissionDenied(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"permission", "denied", "read-only", "read only", "readonly"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Exec refuses all writes at the application level.
func (s *ReadOnlySession) Exec(query string, args ...any) (sql.Result, error) {
	return nil, ErrGenerateSafetyViolation
}

// ExecContext refuses all writes at the application level.
func (s *ReadOnlySession) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, ErrGenerateSafetyViolation
}

// CompetencyText is the grounding view of one competency.
type CompetencyText struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// FetchCompetencies returns the competencies backing a generation. An empty
// result raises CompetencyNotFoundError rather than returning an empty list.
func (s *ReadOnlySession) FetchCompetencies(ctx context.Context, curriculumID string) ([]CompetencyText, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, rebind(s.kind, `
		SELECT id, title, description FROM competencies WHERE curriculum_id = ? ORDER BY id`), curriculumID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch competencies: %w", err)
	}
	defer rows.Close()

	var comps []CompetencyText
	for rows.Next() {
		var c CompetencyText
		var desc sql.NullString
		if err := rows.Scan(&c.ID, &c.Title, &desc); err != nil {
			continue
		}
		// The description is the grounding text; fall back to the title so a
		// tersely extracted competency still grounds something.
		c.Text = desc.String
		if c.Text == "" {
			c.Text = c.Title
		}
		comps = append(comps, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(comps) == 0 {
		return nil, &CompetencyNotFoundError{CurriculumID: curriculumID}
	}
	return comps, nil
}

// universityKeywords mark a source authority as higher education.
var universityKeywords = []string{"university", "college", "institute of technology", "polytechnic"}

// FetchCurriculumMode classifies a curriculum as k12 or university from its
// stored jurisdiction level and source domain. Unknown curricula default to
// k12, the stricter regime.
func (s *ReadOnlySession) FetchCurriculumMode(ctx context.Context, curriculumID string) (schema.ContentMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var level, authority sql.NullString
	err := s.db.QueryRowContext(ctx, rebind(s.kind,
		"SELECT jurisdiction_level, source_authority FROM curricula WHERE id = ?"), curriculumID).
		Scan(&level, &authority)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.ContentK12, nil
	}
	if err != nil {
		return schema.ContentK12, fmt.Errorf("failed to fetch curriculum mode: %w", err)
	}

	return classifyMode(level.String, authority.String), nil
}

func classifyMode(jurisdictionLevel, sourceAuthority string) schema.ContentMode {
	level := strings.ToLower(jurisdictionLevel)
	authority := strings.ToLower(sourceAuthority)

	switch schema.JurisdictionLevel(level) {
	case schema.LevelUniversity, schema.LevelDepartment:
		return schema.ContentUniversity
	}

	if strings.Contains(authority, ".edu") || strings.Contains(authority, ".ac.") {
		return schema.ContentUniversity
	}
	for _, kw := range universityKeywords {
		if strings.Contains(authority, kw) {
			return schema.ContentUniversity
		}
	}

	return schema.ContentK12
}

// FetchCurriculum returns the full curriculum record for provenance and
// governance checks.
func (s *ReadOnlySession) FetchCurriculum(ctx context.Context, curriculumID string) (*schema.Curriculum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, rebind(s.kind, `
		SELECT id, country, iso2, jurisdiction_level, jurisdiction_name, jurisdiction_parent_id,
			grade, subject, status, confidence, last_verified, ttl_expiry, source_url, source_authority
		FROM curricula WHERE id = ?`), curriculumID)

	return scanCurriculum(row)
}

// FetchChunks returns the embedded chunks for a curriculum with vectors
// decoded, for grounding against the stored corpus.
func (s *ReadOnlySession) FetchChunks(ctx context.Context, curriculumID string) ([]schema.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, rebind(s.kind, `
		SELECT id, curriculum_id, competency_id, kind, text, embedding
		FROM chunks WHERE curriculum_id = ? ORDER BY id`), curriculumID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}
