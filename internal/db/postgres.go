package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkmrt3/frnchat/internal/models"
	"github.com/nkmrt3/frnchat/internal/utils"
)

// Postgres stores conversations in a single table with the thread kept as a
// JSONB array, mirroring the document layout of the Mongo backend.
type Postgres struct {
	Pool *pgxpool.Pool

	now Clock
}

const conversationColumns = "id, title, messages, created_at, updated_at"

func NewPostgres(ctx context.Context, cfg utils.PostgresConfig) (*Postgres, error) {
	dsn := cfg.BuildDSN()
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	return &Postgres{Pool: pool, now: time.Now}, nil
}

func (p *Postgres) Close() {
	if p == nil || p.Pool == nil {
		return
	}
	p.Pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.Pool.Ping(ctx)
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	statements := []string{
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS conversations (",
			"    id TEXT PRIMARY KEY,",
			"    title TEXT NOT NULL,",
			"    messages JSONB NOT NULL DEFAULT '[]'::jsonb,",
			"    created_at TIMESTAMPTZ NOT NULL,",
			"    updated_at TIMESTAMPTZ NOT NULL",
			")",
		}, "\n"),
		"CREATE INDEX IF NOT EXISTS conversations_updated_at_idx ON conversations (updated_at DESC)",
	}

	for _, stmt := range statements {
		if _, err := p.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}

	return nil
}

func (p *Postgres) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	query := "SELECT " + conversationColumns + " FROM conversations ORDER BY updated_at DESC, created_at DESC"

	rows, err := p.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
	}
	defer rows.Close()

	result := make([]models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
	}

	return result, nil
}

func (p *Postgres) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	conv := models.NewConversation(uuid.NewString(), title, models.Timestamp(p.now()))

	query := "INSERT INTO conversations (id, title, messages, created_at, updated_at) VALUES ($1, $2, '[]'::jsonb, $3, $4)"
	if _, err := p.Pool.Exec(ctx, query, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("postgres: insert conversation: %w", err)
	}

	return &conv, nil
}

func (p *Postgres) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := "SELECT " + conversationColumns + " FROM conversations WHERE id = $1"
	return scanConversation(p.Pool.QueryRow(ctx, query, id))
}

func (p *Postgres) AppendMessages(ctx context.Context, id string, messages []models.Message) (*models.Conversation, error) {
	if messages == nil {
		messages = []models.Message{}
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode messages: %w", err)
	}

	query := "UPDATE conversations SET messages = messages || $2::jsonb, updated_at = GREATEST(updated_at, $3) " +
		"WHERE id = $1 RETURNING " + conversationColumns
	return scanConversation(p.Pool.QueryRow(ctx, query, id, string(payload), models.Timestamp(p.now())))
}

func (p *Postgres) UpdateTitle(ctx context.Context, id, title string) (*models.Conversation, error) {
	query := "UPDATE conversations SET title = $2, updated_at = GREATEST(updated_at, $3) " +
		"WHERE id = $1 RETURNING " + conversationColumns
	return scanConversation(p.Pool.QueryRow(ctx, query, id, title, models.Timestamp(p.now())))
}

func (p *Postgres) DeleteConversation(ctx context.Context, id string) error {
	tag, err := p.Pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var (
		conv     models.Conversation
		messages []byte
	)

	if err := row.Scan(&conv.ID, &conv.Title, &messages, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan conversation: %w", err)
	}

	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &conv.Messages); err != nil {
			return nil, fmt.Errorf("postgres: decode messages: %w", err)
		}
	}

	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()
	conv.Normalize()
	return &conv, nil
}
