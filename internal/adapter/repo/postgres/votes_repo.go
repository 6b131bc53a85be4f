package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/search-gateway/internal/domain"
)

const votesSchema = `CREATE TABLE IF NOT EXISTS votes (
	vote_key               TEXT PRIMARY KEY,
	conversation_id        TEXT NOT NULL,
	server_conversation_id TEXT NOT NULL DEFAULT '',
	query_id               TEXT NOT NULL DEFAULT '',
	vote                   TEXT NOT NULL DEFAULT '',
	client_timestamp       TEXT NOT NULL DEFAULT '',
	is_final               BOOLEAN NOT NULL DEFAULT FALSE,
	client_ip              TEXT NOT NULL DEFAULT '',
	recorded_at            TIMESTAMPTZ NOT NULL
)`

// VotesRepo stores one vote per sanitized conversation id; a later vote for
// the same conversation replaces the earlier one.
type VotesRepo struct{ Pool PgxPool }

// NewVotesRepo constructs a VotesRepo with the given pool.
func NewVotesRepo(p PgxPool) *VotesRepo { return &VotesRepo{Pool: p} }

// EnsureSchema creates the votes table if it does not exist.
func (r *VotesRepo) EnsureSchema(ctx domain.Context) error {
	if _, err := r.Pool.Exec(ctx, votesSchema); err != nil {
		return fmt.Errorf("op=vote.schema: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Save upserts the vote under key.
func (r *VotesRepo) Save(ctx domain.Context, key string, v domain.Vote) error {
	tracer := otel.Tracer("repo.votes")
	ctx, span := tracer.Start(ctx, "votes.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "votes"),
	)
	if key == "" {
		return fmt.Errorf("op=vote.save: %w: empty key", domain.ErrInvalidArgument)
	}
	recorded := v.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	q := `INSERT INTO votes (vote_key, conversation_id, server_conversation_id, query_id, vote, client_timestamp, is_final, client_ip, recorded_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (vote_key)
	DO UPDATE SET conversation_id=EXCLUDED.conversation_id, server_conversation_id=EXCLUDED.server_conversation_id, query_id=EXCLUDED.query_id, vote=EXCLUDED.vote, client_timestamp=EXCLUDED.client_timestamp, is_final=EXCLUDED.is_final, client_ip=EXCLUDED.client_ip, recorded_at=EXCLUDED.recorded_at`
	_, err := r.Pool.Exec(ctx, q, key, v.ConversationID, v.ServerConversationID, v.QueryID, v.Vote, v.Timestamp, v.IsFinal, v.ClientIP, recorded)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=vote.save: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Get loads the vote stored under key.
func (r *VotesRepo) Get(ctx domain.Context, key string) (domain.Vote, error) {
	tracer := otel.Tracer("repo.votes")
	ctx, span := tracer.Start(ctx, "votes.Get")
	defer span.End()
	q := `SELECT conversation_id, server_conversation_id, query_id, vote, client_timestamp, is_final, client_ip, recorded_at FROM votes WHERE vote_key=$1`
	var v domain.Vote
	err := r.Pool.QueryRow(ctx, q, key).Scan(&v.ConversationID, &v.ServerConversationID, &v.QueryID, &v.Vote, &v.Timestamp, &v.IsFinal, &v.ClientIP, &v.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Vote{}, fmt.Errorf("op=vote.get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Vote{}, fmt.Errorf("op=vote.get: %w: %w", domain.ErrPersistence, err)
	}
	return v, nil
}
