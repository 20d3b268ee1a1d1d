package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"edutrack/internal/logging"
	"edutrack/internal/schema"
)

// ReplaceCompetencies replaces the extracted competency set for a curriculum
// in one transaction. Re-running ingestion for the same document therefore
// never accumulates duplicate rows.
func (v *Vault) ReplaceCompetencies(ctx context.Context, curriculumID string, comps []schema.Competency) error {
	for i := range comps {
		if err := comps[i].Validate(); err != nil {
			return err
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		rebind(v.kind, "DELETE FROM competencies WHERE curriculum_id = ?"), curriculumID); err != nil {
		return fmt.Errorf("failed to clear competencies: %w", err)
	}

	for i := range comps {
		c := &comps[i]
		outcomes, _ := json.Marshal(c.LearningOutcomes)
		chunkIDs, _ := json.Marshal(c.SourceChunkIDs)

		_, err := tx.ExecContext(ctx, rebind(v.kind, `
			INSERT INTO competencies (id, curriculum_id, title, description, learning_outcomes, page_range, source_chunk_ids, extraction_confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			c.ID, curriculumID, c.Title, c.Description, string(outcomes), c.PageRange, string(chunkIDs), c.ExtractionConfidence)
		if err != nil {
			return fmt.Errorf("failed to insert competency %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit competencies: %w", err)
	}

	logging.Vault("Stored %d competencies for curriculum %s", len(comps), curriculumID)
	return nil
}

// ListCompetencies returns the extracted competencies for a curriculum in id
// order. An empty result is not an error here; the read-only session applies
// the no-empty-lists rule at the harness boundary.
func (v *Vault) ListCompetencies(ctx context.Context, curriculumID string) ([]schema.Competency, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rows, err := v.db.QueryContext(ctx, rebind(v.kind, `
		SELECT id, curriculum_id, title, description, learning_outcomes, page_range, source_chunk_ids, extraction_confidence
		FROM competencies WHERE curriculum_id = ? ORDER BY id`), curriculumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list competencies: %w", err)
	}
	defer rows.Close()

	var comps []schema.Competency
	for rows.Next() {
		var c schema.Competency
		var outcomes, chunkIDs sql.NullString
		var desc, pageRange sql.NullString
		if err := rows.Scan(&c.ID, &c.CurriculumID, &c.Title, &desc, &outcomes, &pageRange, &chunkIDs, &c.ExtractionConfidence); err != nil {
			continue
		}
		c.Description = desc.String
		c.PageRange = pageRange.String
		if outcomes.Valid {
			json.Unmarshal([]byte(outcomes.String), &c.LearningOutcomes)
		}
		if chunkIDs.Valid {
			json.Unmarshal([]byte(chunkIDs.String), &c.SourceChunkIDs)
		}
		comps = append(comps, c)
	}

	return comps, rows.Err()
}

// StandardizedRecord ties a standardized competency to its source competency.
type StandardizedRecord struct {
	CompetencyID string
	schema.StandardizedCompetency
}

// UpsertStandardizedBatch stores standardization output. Standardization maps
// outputs to inputs by index, so ids[i] names the competency that produced
// items[i].
func (v *Vault) UpsertStandardizedBatch(ctx context.Context, curriculumID string, ids []string, items []schema.StandardizedCompetency) error {
	if len(ids) != len(items) {
		return fmt.Errorf("standardized batch mismatch: %d items for %d competencies", len(items), len(ids))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range items {
		sc := &items[i]
		_, err := tx.ExecContext(ctx, rebind(v.kind, `
			INSERT INTO standardized_competencies (competency_id, curriculum_id, original_text, standardized_text,
				action_verb, content, context, bloom_level, complexity_level, source_chunk_id, extraction_confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(competency_id) DO UPDATE SET
				standardized_text = excluded.standardized_text,
				action_verb = excluded.action_verb,
				content = excluded.content,
				context = excluded.context,
				bloom_level = excluded.bloom_level,
				complexity_level = excluded.complexity_level,
				extraction_confidence = excluded.extraction_confidence`),
			ids[i], curriculumID, sc.OriginalText, sc.StandardizedText,
			sc.ActionVerb, sc.Content, sc.Context, string(sc.BloomLevel), sc.ComplexityLevel,
			sc.SourceChunkID, sc.ExtractionConfidence)
		if err != nil {
			return fmt.Errorf("failed to upsert standardized competency %s: %w", ids[i], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit standardized competencies: %w", err)
	}

	logging.VaultDebug("Stored %d standardized competencies for curriculum %s", len(items), curriculumID)
	return nil
}

// ListStandardized returns the standardized competencies for a curriculum.
func (v *Vault) ListStandardized(ctx context.Context, curriculumID string) ([]StandardizedRecord, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rows, err := v.db.QueryContext(ctx, rebind(v.kind, `
		SELECT competency_id, original_text, standardized_text, action_verb, content, context,
			bloom_level, complexity_level, source_chunk_id, extraction_confidence
		FROM standardized_competencies WHERE curriculum_id = ? ORDER BY competency_id`), curriculumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list standardized competencies: %w", err)
	}
	defer rows.Close()

	var records []StandardizedRecord
	for rows.Next() {
		var r StandardizedRecord
		var verb, content, usage, bloom, complexity sql.NullString
		if err := rows.Scan(&r.CompetencyID, &r.OriginalText, &r.StandardizedText, &verb, &content, &usage,
			&bloom, &complexity, &r.SourceChunkID, &r.ExtractionConfidence); err != nil {
			continue
		}
		r.ActionVerb = verb.String
		r.Content = content.String
		r.Context = usage.String
		r.BloomLevel = schema.BloomLevel(bloom.String)
		r.ComplexityLevel = complexity.String
		records = append(records, r)
	}

	return records, rows.Err()
}

// UpsertMetadata stores the tagging output for one competency.
func (v *Vault) UpsertMetadata(ctx context.Context, competencyID string, md *schema.CompetencyMetadata) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	tags, _ := json.Marshal(md.Tags)
	_, err := v.db.ExecContext(ctx, rebind(v.kind, `
		INSERT INTO competency_metadata (competency_id, subject, grade_level, domain, confidence_score, tags)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(competency_id) DO UPDATE SET
			subject = excluded.subject,
			grade_level = excluded.grade_level,
			domain = excluded.domain,
			confidence_score = excluded.confidence_score,
			tags = excluded.tags`),
		competencyID, md.Subject, md.GradeLevel, md.Domain, md.ConfidenceScore, string(tags))
	if err != nil {
		return fmt.Errorf("failed to upsert metadata for %s: %w", competencyID, err)
	}
	return nil
}

// GetMetadata fetches the tagging output for one competency.
func (v *Vault) GetMetadata(ctx context.Context, competencyID string) (*schema.CompetencyMetadata, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var md schema.CompetencyMetadata
	var gradeLevel, domain, tags sql.NullString
	err := v.db.QueryRowContext(ctx, rebind(v.kind, `
		SELECT subject, grade_level, domain, confidence_score, tags
		FROM competency_metadata WHERE competency_id = ?`), competencyID).
		Scan(&md.Subject, &gradeLevel, &domain, &md.ConfidenceScore, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metadata for %s: %w", competencyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}

	md.GradeLevel = gradeLevel.String
	md.Domain = domain.String
	if tags.Valid {
		json.Unmarshal([]byte(tags.String), &md.Tags)
	}
	return &md, nil
}
