package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/appjob/internal/domain"
	"github.com/Harsh-BH/appjob/internal/repository"
)

var _ repository.TransitionRepository = (*pgTransitionRepo)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS job_transitions (
	id           BIGSERIAL PRIMARY KEY,
	job_id       BIGINT      NOT NULL,
	engine       TEXT        NOT NULL,
	description  TEXT        NOT NULL,
	state        TEXT        NOT NULL,
	error        TEXT        NOT NULL DEFAULT '',
	occurred_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS job_transitions_job_id_idx ON job_transitions (job_id, id);`

type pgTransitionRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresTransitionRepository creates a PostgreSQL-backed transition log.
func NewPostgresTransitionRepository(pool *pgxpool.Pool) repository.TransitionRepository {
	return &pgTransitionRepo{pool: pool}
}

// EnsureSchema creates the transitions table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (r *pgTransitionRepo) Record(ctx context.Context, t domain.Transition) error {
	query := `
		INSERT INTO job_transitions (job_id, engine, description, state, error, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	tag, err := r.pool.Exec(ctx, query,
		int64(t.JobID), t.Engine, t.Description, t.State.String(), t.Error, t.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: record transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transition not stored for job %d", t.JobID)
	}
	return nil
}

func (r *pgTransitionRepo) History(ctx context.Context, id domain.JobID) ([]domain.Transition, error) {
	query := `
		SELECT job_id, engine, description, state, error, occurred_at
		FROM job_transitions
		WHERE job_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, int64(id))
	if err != nil {
		return nil, fmt.Errorf("postgres: query history: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Transition, error) {
		var (
			t     domain.Transition
			jobID int64
			state string
		)
		if err := row.Scan(&jobID, &t.Engine, &t.Description, &state, &t.Error, &t.OccurredAt); err != nil {
			return t, err
		}
		t.JobID = domain.JobID(jobID)
		t.State = domain.ParseJobState(state)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history: %w", err)
	}
	return out, nil
}
