package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/camflow/internal/facematch"
	"github.com/kozaktomas/camflow/internal/persongroup"
	"github.com/pgvector/pgvector-go"
)

// FaceIndex mirrors reference embeddings into face_references and answers
// nearest-neighbour queries with pgvector's cosine distance operator.
type FaceIndex struct {
	pool *Pool
}

var _ facematch.Index = (*FaceIndex)(nil)

// NewFaceIndex creates a pgvector backed face index.
func NewFaceIndex(pool *Pool) *FaceIndex {
	return &FaceIndex{pool: pool}
}

// Build replaces the stored references with those of groups.
func (f *FaceIndex) Build(ctx context.Context, groups []persongroup.Group) error {
	tx, err := f.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM face_references`); err != nil {
		return fmt.Errorf("clear face references: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO face_references (group_id, group_name, group_pos, ref_pos, dim, embedding)
		VALUES ($1, $2, $3, $4, $5, $6::vector)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for gi, g := range groups {
		for ri, e := range g.Embeddings {
			if len(e) == 0 {
				continue
			}
			vec := pgvector.NewVector(e)
			if _, err := stmt.ExecContext(ctx, g.ID, g.Name, gi, ri, len(e), vec); err != nil {
				return fmt.Errorf("insert face reference: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit face references: %w", err)
	}
	return nil
}

// Nearest returns the closest reference of the same dimension. References of
// another dimension cannot be compared and score 0.
func (f *FaceIndex) Nearest(ctx context.Context, probe []float32) (facematch.Candidate, bool, error) {
	query := `
		SELECT group_id, group_name, 1 - (embedding <=> $1::vector) AS similarity
		FROM face_references
		WHERE dim = $2
		ORDER BY embedding <=> $1::vector, group_pos, ref_pos
		LIMIT 1
	`

	var c facematch.Candidate
	var similarity float64
	err := f.pool.QueryRow(ctx, query, pgvector.NewVector(probe), len(probe)).Scan(&c.GroupID, &c.Name, &similarity)
	if errors.Is(err, sql.ErrNoRows) {
		return f.anyReference(ctx)
	}
	if err != nil {
		return facematch.Candidate{}, false, fmt.Errorf("query nearest face: %w", err)
	}
	// Zero vectors have an undefined cosine distance.
	if !math.IsNaN(similarity) {
		c.Score = min(max(similarity, -1), 1)
	}
	return c, true, nil
}

// anyReference returns the first stored group with score 0, matching the
// exact index when no reference shares the probe's dimension.
func (f *FaceIndex) anyReference(ctx context.Context) (facematch.Candidate, bool, error) {
	var c facematch.Candidate
	err := f.pool.QueryRow(ctx, `
		SELECT group_id, group_name FROM face_references ORDER BY group_pos, ref_pos LIMIT 1
	`).Scan(&c.GroupID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return facematch.Candidate{}, false, nil
	}
	if err != nil {
		return facematch.Candidate{}, false, fmt.Errorf("query face reference: %w", err)
	}
	return c, true, nil
}
