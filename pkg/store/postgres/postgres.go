// Package postgres is the pgx-backed conversation Store. Schema is managed
// by embedded goose migrations applied at startup.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/havenline/havenline/pkg/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New connects to the database, applies pending migrations, and returns the
// repository.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if err := migrate(databaseURL); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// migrate runs goose over the embedded SQL. goose wants database/sql, so it
// goes through the pgx stdlib driver rather than the pool.
func migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	if strings.TrimSpace(msg.SessionID) == "" {
		return store.Message{}, fmt.Errorf("append message: session id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	var durationMS *int
	var format *string
	if msg.VoiceMeta != nil {
		durationMS = &msg.VoiceMeta.DurationMS
		format = &msg.VoiceMeta.Format
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, content, voice_duration_ms, voice_format, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, durationMS, format, msg.CreatedAt,
	)
	if err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, voice_duration_ms, voice_format, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var (
			msg        store.Message
			durationMS *int
			format     *string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &durationMS, &format, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if durationMS != nil || format != nil {
			msg.VoiceMeta = &store.VoiceMeta{}
			if durationMS != nil {
				msg.VoiceMeta.DurationMS = *durationMS
			}
			if format != nil {
				msg.VoiceMeta.Format = *format
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Query is newest-first for the LIMIT; callers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) Close() {
	s.pool.Close()
}
