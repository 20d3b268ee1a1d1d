package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"edutrack/internal/logging"
	"edutrack/internal/schema"
)

// Confidence discounts applied per lookup tier. A parent or national match is
// a weaker claim than a direct hit, and a stale curriculum must route through
// the refresh path regardless of how confident its last verification was.
const (
	parentMatchDiscount   = 0.9
	nationalMatchDiscount = 0.8
	staleMatchDiscount    = 0.75
)

// UpsertCurriculum inserts or updates a curriculum record. Ingestion is the
// only caller; the id is stable across re-ingestion of the same document.
func (v *Vault) UpsertCurriculum(ctx context.Context, c *schema.Curriculum, checksum string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	_, err := v.db.ExecContext(ctx, rebind(v.kind, `
		INSERT INTO curricula (id, country, iso2, jurisdiction_level, jurisdiction_name, jurisdiction_parent_id,
			grade, subject, status, confidence, last_verified, ttl_expiry, source_url, source_authority, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			confidence = excluded.confidence,
			last_verified = excluded.last_verified,
			ttl_expiry = excluded.ttl_expiry,
			source_url = excluded.source_url,
			source_authority = excluded.source_authority,
			checksum = excluded.checksum,
			updated_at = CURRENT_TIMESTAMP`),
		c.ID, c.Country, c.ISO2, string(c.Jurisdiction.Level), c.Jurisdiction.Name, c.Jurisdiction.ParentID,
		c.Grade, c.Subject, string(c.Status), c.Confidence, c.LastVerified, c.TTLExpiry,
		c.SourceURL, c.SourceAuthority, checksum,
	)
	if err != nil {
		logging.Get(logging.CategoryVault).Error("Failed to upsert curriculum %s: %v", c.ID, err)
		return fmt.Errorf("failed to upsert curriculum: %w", err)
	}

	logging.VaultDebug("Upserted curriculum %s (%s %s %s)", c.ID, c.ISO2, c.Grade, c.Subject)
	return nil
}

// GetCurriculum fetches one curriculum by id.
func (v *Vault) GetCurriculum(ctx context.Context, id string) (*schema.Curriculum, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	row := v.db.QueryRowContext(ctx, rebind(v.kind, `
		SELECT id, country, iso2, jurisdiction_level, jurisdiction_name, jurisdiction_parent_id,
			grade, subject, status, confidence, last_verified, ttl_expiry, source_url, source_authority
		FROM curricula WHERE id = ?`), id)

	return scanCurriculum(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCurriculum(row rowScanner) (*schema.Curriculum, error) {
	var c schema.Curriculum
	var level, name, parentID, status, authority sql.NullString
	var lastVerified, ttlExpiry sql.NullTime

	err := row.Scan(&c.ID, &c.Country, &c.ISO2, &level, &name, &parentID,
		&c.Grade, &c.Subject, &status, &c.Confidence, &lastVerified, &ttlExpiry,
		&c.SourceURL, &authority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("curriculum: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan curriculum: %w", err)
	}

	c.Jurisdiction = schema.Jurisdiction{
		Level:    schema.JurisdictionLevel(level.String),
		Name:     name.String,
		ParentID: parentID.String,
	}
	c.Status = schema.CurriculumStatus(status.String)
	c.SourceAuthority = authority.String
	if lastVerified.Valid {
		c.LastVerified = lastVerified.Time
	}
	if ttlExpiry.Valid {
		c.TTLExpiry = ttlExpiry.Time
	}
	return &c, nil
}

// FindByChecksum returns the id of the curriculum ingested from a document
// with the given SHA-256 checksum, or ErrNotFound.
func (v *Vault) FindByChecksum(ctx context.Context, checksum string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var id string
	err := v.db.QueryRowContext(ctx,
		rebind(v.kind, "SELECT id FROM curricula WHERE checksum = ? LIMIT 1"), checksum).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("checksum %s: %w", checksum, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Lookup resolves a normalized request against the vault. Matching runs in
// three tiers: the resolved jurisdiction itself (cache), the resolved parent
// jurisdiction (parent), then any national curriculum for the country
// (national). Conflicted curricula never match; stale ones match with their
// confidence discounted below the serve threshold so the caller routes them
// through refresh.
func (v *Vault) Lookup(ctx context.Context, req *schema.NormalizedRequest, jur *schema.JurisdictionResolution) (*schema.VaultLookupResult, error) {
	timer := logging.StartTimer(logging.CategoryVault, "Lookup")
	defer timer.Stop()

	v.mu.RLock()
	defer v.mu.RUnlock()

	result := &schema.VaultLookupResult{RequestID: req.ID}

	type tier struct {
		source schema.VaultSource
		query  string
		args   []any
	}

	base := `
		SELECT id, confidence, status FROM curricula
		WHERE lower(iso2) = lower(?) AND lower(grade) = lower(?) AND lower(subject) = lower(?)
		  AND status != 'conflicted'`
	order := `
		ORDER BY confidence DESC, last_verified DESC LIMIT 1`

	var tiers []tier
	if jur != nil {
		tiers = append(tiers, tier{
			source: schema.VaultSourceCache,
			query: base + `
		  AND jurisdiction_level = ? AND lower(coalesce(jurisdiction_name, '')) = lower(?)` + order,
			args: []any{req.ISO2, req.Grade, req.Subject, string(jur.Level), jur.Name},
		})
		if jur.ParentID != "" {
			tiers = append(tiers, tier{
				source: schema.VaultSourceParent,
				query: base + `
		  AND (id = ? OR lower(coalesce(jurisdiction_name, '')) = lower(?))` + order,
				args: []any{req.ISO2, req.Grade, req.Subject, jur.ParentID, jur.ParentID},
			})
		}
		tiers = append(tiers, tier{
			source: schema.VaultSourceNational,
			query: base + `
		  AND jurisdiction_level = 'national'` + order,
			args: []any{req.ISO2, req.Grade, req.Subject},
		})
	} else {
		// No jurisdiction resolution: the flat country/grade/subject match
		// counts as a direct cache hit.
		tiers = append(tiers, tier{
			source: schema.VaultSourceCache,
			query:  base + order,
			args:   []any{req.ISO2, req.Grade, req.Subject},
		})
	}

	for _, t := range tiers {
		var id, status string
		var confidence float64
		err := v.db.QueryRowContext(ctx, rebind(v.kind, t.query), t.args...).Scan(&id, &confidence, &status)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("vault lookup failed: %w", err)
		}

		switch t.source {
		case schema.VaultSourceParent:
			confidence *= parentMatchDiscount
		case schema.VaultSourceNational:
			confidence *= nationalMatchDiscount
		}
		if schema.CurriculumStatus(status) == schema.CurriculumStale {
			confidence *= staleMatchDiscount
		}

		result.Found = true
		result.CurriculumID = id
		result.MatchConfidence = confidence
		result.Source = t.source
		logging.VaultDebug("Lookup hit for %s: %s (source=%s, confidence=%.2f)", req.ID, id, t.source, confidence)
		return result, nil
	}

	logging.VaultDebug("Lookup miss for %s (%s %s %s)", req.ID, req.ISO2, req.Grade, req.Subject)
	return result, nil
}

// UpdateCurriculumStatus transitions a curriculum's lifecycle status.
func (v *Vault) UpdateCurriculumStatus(ctx context.Context, id string, status schema.CurriculumStatus) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	res, err := v.db.ExecContext(ctx,
		rebind(v.kind, "UPDATE curricula SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?"),
		string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update curriculum status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("curriculum %s: %w", id, ErrNotFound)
	}

	logging.Vault("Curriculum %s status -> %s", id, status)
	return nil
}

// MarkExpiredStale flips active curricula past their TTL to stale and returns
// how many were affected. Intended for the admin maintenance loop. Expiry is
// compared in Go because the drivers do not agree on a sortable time encoding.
func (v *Vault) MarkExpiredStale(ctx context.Context, now time.Time) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rows, err := v.db.QueryContext(ctx, "SELECT id, ttl_expiry FROM curricula WHERE status = 'active'")
	if err != nil {
		return 0, fmt.Errorf("failed to scan for expired curricula: %w", err)
	}

	var expired []string
	for rows.Next() {
		var id string
		var expiry sql.NullTime
		if err := rows.Scan(&id, &expiry); err != nil {
			continue
		}
		if expiry.Valid && expiry.Time.Before(now) {
			expired = append(expired, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range expired {
		if _, err := v.db.ExecContext(ctx, rebind(v.kind,
			"UPDATE curricula SET status = 'stale', updated_at = CURRENT_TIMESTAMP WHERE id = ?"), id); err != nil {
			return 0, fmt.Errorf("failed to mark curriculum %s stale: %w", id, err)
		}
	}

	if len(expired) > 0 {
		logging.Vault("Marked %d expired curricula stale", len(expired))
	}
	return int64(len(expired)), nil
}
