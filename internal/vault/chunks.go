package vault

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"edutrack/internal/embedding"
	"edutrack/internal/logging"
	"edutrack/internal/schema"
)

// ChunkMatch is one similarity search hit.
type ChunkMatch struct {
	Chunk      schema.Chunk
	Similarity float64
}

// UpsertChunks stores embedded chunks, replacing rows with the same id. When
// the vec0 index is compiled in, vectors of the configured width are mirrored
// into it inside the same transaction.
func (v *Vault) UpsertChunks(ctx context.Context, chunks []schema.Chunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	useVec := v.kind == driverSQLite && vecIndexEnabled

	for i := range chunks {
		c := &chunks[i]
		blob := encodeVector(c.Vector)
		_, err := tx.ExecContext(ctx, rebind(v.kind, `
			INSERT INTO chunks (id, curriculum_id, competency_id, kind, text, embedding)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				text = excluded.text,
				embedding = excluded.embedding`),
			c.ID, c.CurriculumID, c.CompetencyID, string(c.Kind), c.Text, blob)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}

		if !useVec || len(c.Vector) != v.dims {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE chunk_id = ?", c.ID); err != nil {
			return fmt.Errorf("failed to refresh vector index for %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)", c.ID, blob); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	logging.VaultDebug("Upserted %d chunks", len(chunks))
	return nil
}

// ChunksByCurriculum returns all chunks for a curriculum in id order, with
// vectors decoded.
func (v *Vault) ChunksByCurriculum(ctx context.Context, curriculumID string) ([]schema.Chunk, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rows, err := v.db.QueryContext(ctx, rebind(v.kind, `
		SELECT id, curriculum_id, competency_id, kind, text, embedding
		FROM chunks WHERE curriculum_id = ? ORDER BY id`), curriculumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]schema.Chunk, error) {
	var chunks []schema.Chunk
	for rows.Next() {
		var c schema.Chunk
		var kind string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.CurriculumID, &c.CompetencyID, &kind, &c.Text, &blob); err != nil {
			continue
		}
		c.Kind = schema.ChunkKind(kind)
		c.Vector = decodeVector(blob)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SearchSimilar returns the k chunks most similar to the query vector,
// restricted to one curriculum when curriculumID is non-empty. The vec0 index
// answers when compiled in; otherwise the stored blobs are scored in process.
func (v *Vault) SearchSimilar(ctx context.Context, curriculumID string, query []float32, k int) ([]ChunkMatch, error) {
	timer := logging.StartTimer(logging.CategoryVault, "SearchSimilar")
	defer timer.Stop()

	if k <= 0 {
		k = 5
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.kind == driverSQLite && vecIndexEnabled && len(query) == v.dims {
		matches, err := v.searchVecIndex(ctx, curriculumID, query, k)
		if err == nil {
			return matches, nil
		}
		logging.VaultWarn("Vector index search failed, falling back to scan: %v", err)
	}

	return v.searchScan(ctx, curriculumID, query, k)
}

// searchVecIndex runs a KNN query against the vec0 virtual table. The index
// has no curriculum column, so it over-fetches and filters after hydration.
func (v *Vault) searchVecIndex(ctx context.Context, curriculumID string, query []float32, k int) ([]ChunkMatch, error) {
	fetch := k
	if curriculumID != "" {
		fetch = k * 4
	}

	rows, err := v.db.QueryContext(ctx,
		"SELECT chunk_id, distance FROM vec_chunks WHERE embedding MATCH ? AND k = ? ORDER BY distance",
		encodeVector(query), fetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type hit struct {
		id       string
		distance float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.distance); err != nil {
			continue
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var matches []ChunkMatch
	for _, h := range hits {
		if len(matches) >= k {
			break
		}
		var c schema.Chunk
		var kind string
		var blob []byte
		err := v.db.QueryRowContext(ctx, rebind(v.kind, `
			SELECT id, curriculum_id, competency_id, kind, text, embedding
			FROM chunks WHERE id = ?`), h.id).
			Scan(&c.ID, &c.CurriculumID, &c.CompetencyID, &kind, &c.Text, &blob)
		if err != nil {
			continue
		}
		if curriculumID != "" && c.CurriculumID != curriculumID {
			continue
		}
		c.Kind = schema.ChunkKind(kind)
		c.Vector = decodeVector(blob)
		matches = append(matches, ChunkMatch{Chunk: c, Similarity: 1 - h.distance})
	}
	return matches, nil
}

// searchScan scores every candidate chunk in process.
func (v *Vault) searchScan(ctx context.Context, curriculumID string, query []float32, k int) ([]ChunkMatch, error) {
	q := "SELECT id, curriculum_id, competency_id, kind, text, embedding FROM chunks"
	var args []any
	if curriculumID != "" {
		q += " WHERE curriculum_id = ?"
		args = append(args, curriculumID)
	}

	rows, err := v.db.QueryContext(ctx, rebind(v.kind, q), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunks: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}

	var matches []ChunkMatch
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			continue
		}
		sim, err := embedding.CosineSimilarity(query, c.Vector)
		if err != nil {
			continue
		}
		matches = append(matches, ChunkMatch{Chunk: c, Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
