package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the durable Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, runs pending migrations, and returns the store.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func migrate(databaseURL string) error {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, role, experience_level, company, industry, region,
			job_description, resume_text, duration_minutes, language, interview_type,
			rubric, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		s.ID, s.Role, s.ExperienceLevel, s.Company, s.Industry, s.Region,
		s.JobDescription, s.ResumeText, s.DurationMinutes, s.Language, string(s.Type),
		s.Rubric, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	for i, q := range s.Questions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO questions (session_id, position, text) VALUES ($1,$2,$3)`,
			s.ID, i, q); err != nil {
			return fmt.Errorf("insert question %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	var typ string
	err := p.pool.QueryRow(ctx, `
		SELECT id, role, experience_level, company, industry, region, job_description,
			resume_text, duration_minutes, language, interview_type, rubric,
			created_at, started_at, ended_at
		FROM sessions WHERE id = $1`, id).Scan(
		&s.ID, &s.Role, &s.ExperienceLevel, &s.Company, &s.Industry, &s.Region,
		&s.JobDescription, &s.ResumeText, &s.DurationMinutes, &s.Language, &typ,
		&s.Rubric, &s.CreatedAt, &s.StartedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	s.Type = InterviewType(typ)

	rows, err := p.pool.Query(ctx, `
		SELECT text FROM questions WHERE session_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		s.Questions = append(s.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return &s, nil
}

func (p *Postgres) MarkStarted(ctx context.Context, id string, at time.Time) error {
	return p.stamp(ctx, "started_at", id, at)
}

func (p *Postgres) MarkEnded(ctx context.Context, id string, at time.Time) error {
	return p.stamp(ctx, "ended_at", id, at)
}

func (p *Postgres) stamp(ctx context.Context, column, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE sessions SET %s = $1 WHERE id = $2`, column), at, id)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendTranscript(ctx context.Context, e *TranscriptEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO transcript_entries (id, session_id, speaker, text, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.SessionID, string(e.Speaker), e.Text, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transcript entry: %w", err)
	}
	return nil
}

func (p *Postgres) ListTranscript(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, speaker, text, created_at
		FROM transcript_entries WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select transcript: %w", err)
	}
	defer rows.Close()

	var out []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		var speaker string
		if err := rows.Scan(&e.ID, &e.SessionID, &speaker, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		e.Speaker = Speaker(speaker)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return out, nil
}

func (p *Postgres) SaveReport(ctx context.Context, r *Report) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO reports (session_id, summary, scorecard, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (session_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			scorecard = EXCLUDED.scorecard,
			created_at = EXCLUDED.created_at`,
		r.SessionID, r.Summary, r.Scorecard, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}
	return nil
}

func (p *Postgres) GetReport(ctx context.Context, sessionID string) (*Report, error) {
	var r Report
	err := p.pool.QueryRow(ctx, `
		SELECT session_id, summary, scorecard, created_at
		FROM reports WHERE session_id = $1`, sessionID).Scan(
		&r.SessionID, &r.Summary, &r.Scorecard, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select report: %w", err)
	}
	return &r, nil
}

var _ Store = (*Postgres)(nil)
var _ Store = (*Memory)(nil)
