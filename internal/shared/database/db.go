package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

// ErrInsufficientCredits is returned by DebitCredits when the user's balance
// cannot cover the debit amount.
var ErrInsufficientCredits = errors.New("insufficient credits")

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// GetAPIKey retrieves an API key by its raw key value
func (db *DB) GetAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	// Hash the key
	hash := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(hash[:])

	query := `
		SELECT id, user_id, key_hash, key_prefix, name, is_active, last_used_at, created_at
		FROM api_keys
		WHERE key_hash = $1 AND is_active = true
	`

	var apiKey models.APIKey
	err := db.conn.QueryRowContext(ctx, query, keyHash).Scan(
		&apiKey.ID,
		&apiKey.UserID,
		&apiKey.KeyHash,
		&apiKey.KeyPrefix,
		&apiKey.Name,
		&apiKey.IsActive,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invalid API key")
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &apiKey, nil
}

// UpdateAPIKeyLastUsed updates the last_used_at timestamp
func (db *DB) UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, apiKeyID)
	return err
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT id, email, tier, is_active, credit_balance, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user models.User
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&user.Tier,
		&user.IsActive,
		&user.CreditBalance,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &user, nil
}

// GetModelPricing retrieves pricing for a model
func (db *DB) GetModelPricing(ctx context.Context, provider, model string) (*models.ModelPricing, error) {
	query := `
		SELECT id, provider, model, input_per_1k_tokens, output_per_1k_tokens, per_image
		FROM model_pricing
		WHERE provider = $1 AND model = $2
	`

	var pricing models.ModelPricing
	err := db.conn.QueryRowContext(ctx, query, provider, model).Scan(
		&pricing.ID,
		&pricing.Provider,
		&pricing.Model,
		&pricing.InputPer1kTokens,
		&pricing.OutputPer1kTokens,
		&pricing.PerImage,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pricing not found for %s/%s", provider, model)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &pricing, nil
}

// InsertUsageFact appends a usage fact. The request_id primary key enforces
// the at-most-once write per request.
func (db *DB) InsertUsageFact(ctx context.Context, fact *models.UsageFact) error {
	query := `
		INSERT INTO usage_facts (
			request_id, user_id, provider, model, endpoint, prompt_tokens,
			completion_tokens, total_tokens, cost_usd, latency_ms, session_id,
			client_ip, success, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (request_id) DO NOTHING
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		fact.RequestID,
		fact.UserID,
		fact.Provider,
		fact.Model,
		fact.Endpoint,
		fact.PromptTokens,
		fact.CompletionTokens,
		fact.TotalTokens,
		fact.CostUSD,
		fact.LatencyMs,
		fact.SessionID,
		fact.ClientIP,
		fact.Success,
		fact.ErrorMessage,
		fact.CreatedAt,
	)

	return err
}

// DebitCredits subtracts amount from the user's balance, at most once per
// request id. A retried debit for an already-recorded request id is a no-op
// success. Returns ErrInsufficientCredits when the balance cannot cover the
// amount.
func (db *DB) DebitCredits(ctx context.Context, userID string, amount float64, requestID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback()

	// Guard row: the request_id primary key makes the debit idempotent.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO credit_debits (request_id, user_id, amount, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (request_id) DO NOTHING`,
		requestID, userID, amount,
	)
	if err != nil {
		return fmt.Errorf("insert debit record: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit rows affected: %w", err)
	}
	if inserted == 0 {
		// Already debited for this request id.
		return tx.Commit()
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE users
		 SET credit_balance = credit_balance - $1, updated_at = NOW()
		 WHERE id = $2 AND credit_balance >= $1`,
		amount, userID,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("balance rows affected: %w", err)
	}
	if updated == 0 {
		return ErrInsufficientCredits
	}

	return tx.Commit()
}

// groupByColumns whitelists the GROUP BY expressions for analytics queries.
var groupByColumns = map[string]string{
	"date":      "to_char(created_at, 'YYYY-MM-DD')",
	"model":     "model",
	"provider":  "provider",
	"endpoint":  "endpoint",
	"session":   "session_id",
	"client_ip": "client_ip",
}

// GroupByValid reports whether the group_by value is supported.
func GroupByValid(groupBy string) bool {
	_, ok := groupByColumns[groupBy]
	return ok
}

func usageWhere(q models.UsageQuery) (string, []interface{}) {
	clauses := []string{"created_at >= $1", "created_at <= $2"}
	args := []interface{}{q.Start, q.End}

	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	add("user_id", q.UserID)
	add("provider", q.Provider)
	add("model", q.Model)
	add("session_id", q.SessionID)
	add("endpoint", q.Endpoint)

	return strings.Join(clauses, " AND "), args
}

// SelectUsageFacts returns ungrouped usage facts in chronological order.
func (db *DB) SelectUsageFacts(ctx context.Context, q models.UsageQuery) ([]models.UsageFact, error) {
	where, args := usageWhere(q)
	query := fmt.Sprintf(`
		SELECT request_id, user_id, provider, model, endpoint, prompt_tokens,
		       completion_tokens, total_tokens, cost_usd, latency_ms, session_id,
		       client_ip, success, error_message, created_at
		FROM usage_facts
		WHERE %s
		ORDER BY created_at ASC
	`, where)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usage query: %w", err)
	}
	defer rows.Close()

	var facts []models.UsageFact
	for rows.Next() {
		var fact models.UsageFact
		if err := rows.Scan(
			&fact.RequestID,
			&fact.UserID,
			&fact.Provider,
			&fact.Model,
			&fact.Endpoint,
			&fact.PromptTokens,
			&fact.CompletionTokens,
			&fact.TotalTokens,
			&fact.CostUSD,
			&fact.LatencyMs,
			&fact.SessionID,
			&fact.ClientIP,
			&fact.Success,
			&fact.ErrorMessage,
			&fact.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("usage scan: %w", err)
		}
		facts = append(facts, fact)
	}

	return facts, rows.Err()
}

// AggregateUsage returns usage facts grouped by the query's group_by column.
func (db *DB) AggregateUsage(ctx context.Context, q models.UsageQuery) ([]models.UsageGroup, error) {
	column, ok := groupByColumns[q.GroupBy]
	if !ok {
		return nil, fmt.Errorf("unsupported group_by: %s", q.GroupBy)
	}

	where, args := usageWhere(q)
	query := fmt.Sprintf(`
		SELECT %s AS group_key,
		       COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM usage_facts
		WHERE %s
		GROUP BY group_key
		ORDER BY group_key ASC
	`, column, where)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usage aggregate: %w", err)
	}
	defer rows.Close()

	var groups []models.UsageGroup
	for rows.Next() {
		var g models.UsageGroup
		if err := rows.Scan(
			&g.Key,
			&g.Requests,
			&g.PromptTokens,
			&g.CompletionTokens,
			&g.TotalTokens,
			&g.CostUSD,
			&g.AvgLatencyMs,
		); err != nil {
			return nil, fmt.Errorf("aggregate scan: %w", err)
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}
