package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	mqcontracts "mailassist/contracts/mq"
	"mailassist/internal/model"
	"mailassist/pkg/mq"
	"mailassist/pkg/otel"
	"mailassist/pkg/outbox"
	"mailassist/pkg/trace"
	"mailassist/pkg/util"
)

const emailColumns = `id, sender, subject, body, received_date, category,
            COALESCE(analyzed, FALSE), embedding::text, agent_analysis,
            agent_attempts, agent_parked, COALESCE(agent_last_error, '')`

// EmailRepository PostgreSQL + pgvector 上的邮件存储
type EmailRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

func NewEmailRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository) *EmailRepository {
	return &EmailRepository{db: db, outbox: outboxRepo}
}

// GetMessages returns emails matching the filter.
func (r *EmailRepository) GetMessages(ctx context.Context, filter model.MessageFilter) ([]*model.Message, error) {
	where, args := buildWhere(filter)
	order := "received_date ASC, id ASC"
	if filter.Newest {
		order = "received_date DESC, id DESC"
	}

	query := `SELECT ` + emailColumns + ` FROM emails` + where + ` ORDER BY ` + order
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var messages []*model.Message
	err := otel.Query(ctx, "get_messages", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMessage(rows, nil)
			if err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeError("get messages", err)
	}
	return messages, nil
}

// GetMessage returns one email by id.
func (r *EmailRepository) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE id = $1`

	var m *model.Message
	err := otel.Query(ctx, "get_message", query, func(ctx context.Context) error {
		var err error
		m, err = scanMessage(r.db.QueryRow(ctx, query, id), nil)
		return err
	})
	if err != nil {
		return nil, storeError(fmt.Sprintf("get email %d", id), err)
	}
	return m, nil
}

// SaveEmbedding persists the embedding as soon as it is computed.
func (r *EmailRepository) SaveEmbedding(ctx context.Context, id int64, embedding []float32) error {
	query := `UPDATE emails SET embedding = $2::text::vector WHERE id = $1`

	err := otel.Query(ctx, "save_embedding", query, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, query, id, encodeVector(embedding))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return storeError(fmt.Sprintf("save embedding for email %d", id), err)
	}
	return nil
}

// SaveAnalysis writes the result, flips analyzed and enqueues email.analyzed in one transaction.
// The update only matches rows that already carry an embedding.
func (r *EmailRepository) SaveAnalysis(ctx context.Context, id int64, result *model.AnalysisResult) error {
	payload, err := json.Marshal(normalizeResult(result))
	if err != nil {
		return fmt.Errorf("failed to marshal analysis for email %d: %w", id, err)
	}

	query := `
        UPDATE emails
        SET agent_analysis = $2, analyzed = TRUE,
            agent_attempts = 0, agent_parked = FALSE, agent_last_error = NULL
        WHERE id = $1 AND embedding IS NOT NULL
        RETURNING sender
    `

	err = otel.Query(ctx, "save_analysis", query, func(ctx context.Context) error {
		tx, err := r.db.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var sender string
		if err := tx.QueryRow(ctx, query, id, payload).Scan(&sender); err != nil {
			return err
		}

		event := mqcontracts.EmailAnalyzedPayload{
			EmailID:       id,
			TraceID:       trace.FromContext(ctx),
			Sender:        sender,
			Summary:       result.Summary,
			MonetaryCount: len(result.MonetaryReferences),
			RelatedCount:  len(result.RelatedMessages),
			Model:         result.Model,
			AnalyzedAt:    result.AnalyzedAt,
		}
		if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "email", &id, mq.RoutingKeyEmailAnalyzed, event); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return storeError(fmt.Sprintf("save analysis for email %d", id), err)
	}
	return nil
}

// RecordFailure increments agent_attempts and parks the email once maxAttempts is reached.
func (r *EmailRepository) RecordFailure(ctx context.Context, id int64, reason string, maxAttempts int) (int, bool, error) {
	query := `
        UPDATE emails
        SET agent_attempts = agent_attempts + 1,
            agent_last_error = $2,
            agent_parked = (agent_attempts + 1 >= $3)
        WHERE id = $1
        RETURNING agent_attempts, agent_parked
    `

	var attempts int
	var parked bool
	err := otel.Query(ctx, "record_failure", query, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, id, truncate(reason, 1000), maxAttempts).Scan(&attempts, &parked)
	})
	if err != nil {
		return 0, false, storeError(fmt.Sprintf("record failure for email %d", id), err)
	}
	return attempts, parked, nil
}

// VectorSearch returns the k nearest emails by cosine similarity, most recent first on ties.
func (r *EmailRepository) VectorSearch(ctx context.Context, embedding []float32, k int, filter model.MessageFilter) ([]model.ScoredMessage, error) {
	if k <= 0 || len(embedding) == 0 {
		return nil, nil
	}

	// $1 是查询向量，过滤条件从 $2 开始
	where, args := buildWhereFrom(filter, 1)
	if where == "" {
		where = " WHERE embedding IS NOT NULL"
	} else {
		where += " AND embedding IS NOT NULL"
	}
	args = append([]interface{}{encodeVector(embedding)}, args...)
	args = append(args, k)

	query := `SELECT ` + emailColumns + `, 1 - (embedding <=> $1::text::vector) AS score
        FROM emails` + where + `
        ORDER BY embedding <=> $1::text::vector ASC, received_date DESC, id DESC
        LIMIT $` + fmt.Sprint(len(args))

	var results []model.ScoredMessage
	err := otel.Query(ctx, "vector_search", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var score float64
			m, err := scanMessage(rows, &score)
			if err != nil {
				return err
			}
			results = append(results, model.ScoredMessage{Message: m, Score: score})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeError("vector search", err)
	}
	return results, nil
}

func buildWhere(filter model.MessageFilter) (string, []interface{}) {
	return buildWhereFrom(filter, 0)
}

// buildWhereFrom 构造 WHERE 子句，占位符从 offset+1 开始编号
func buildWhereFrom(filter model.MessageFilter, offset int) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, vals ...interface{}) {
		for _, v := range vals {
			args = append(args, v)
			cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", offset+len(args)), 1)
		}
		conds = append(conds, cond)
	}

	if filter.Category != "" {
		add("category = ?", string(filter.Category))
	}
	if filter.Analyzed != nil {
		add("COALESCE(analyzed, FALSE) = ?", *filter.Analyzed)
	}
	if filter.Parked != nil {
		add("agent_parked = ?", *filter.Parked)
	}
	if filter.Sender != "" {
		add("lower(sender) = lower(?)", filter.Sender)
	}
	if !filter.Since.IsZero() {
		add("received_date >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("received_date <= ?", filter.Until)
	}
	if filter.ExcludeID != 0 {
		add("id <> ?", filter.ExcludeID)
	}
	if filter.HasMonetaryReferences {
		add(`CASE WHEN jsonb_typeof(agent_analysis->'monetary_references') = 'array'
            THEN jsonb_array_length(agent_analysis->'monetary_references') > 0 ELSE FALSE END`)
	}
	if !filter.AfterReceivedAt.IsZero() {
		if filter.Newest {
			add("(received_date, id) < (?, ?)", filter.AfterReceivedAt, filter.AfterID)
		} else {
			add("(received_date, id) > (?, ?)", filter.AfterReceivedAt, filter.AfterID)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanMessage 扫描 emailColumns；score 非 nil 时多扫描一列相似度
func scanMessage(row pgx.Row, score *float64) (*model.Message, error) {
	var m model.Message
	var category string
	var embedding *string
	var analysis []byte

	dest := []interface{}{
		&m.ID,
		&m.Sender,
		&m.Subject,
		&m.Body,
		&m.ReceivedAt,
		&category,
		&m.Analyzed,
		&embedding,
		&analysis,
		&m.Attempts,
		&m.Parked,
		&m.LastError,
	}
	if score != nil {
		dest = append(dest, score)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	m.Category = model.Category(category)
	if embedding != nil {
		vec, err := decodeVector(*embedding)
		if err != nil {
			return nil, fmt.Errorf("email %d: %w", m.ID, err)
		}
		m.Embedding = vec
	}
	if len(analysis) > 0 && string(analysis) != "null" {
		var result model.AnalysisResult
		if err := json.Unmarshal(analysis, &result); err != nil {
			return nil, fmt.Errorf("email %d: failed to decode agent_analysis: %w", m.ID, err)
		}
		m.Analysis = &result
	}
	return &m, nil
}

func encodeVector(v []float32) string {
	return pgvector.NewVector(v).String()
}

func decodeVector(s string) ([]float32, error) {
	var v pgvector.Vector
	if err := v.Scan([]byte(s)); err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}
	return v.Slice(), nil
}

// normalizeResult 把 nil 切片换成空切片，保证 JSONB 中的列表字段总是数组
func normalizeResult(r *model.AnalysisResult) *model.AnalysisResult {
	c := r.Clone()
	if c.KeyPoints == nil {
		c.KeyPoints = []string{}
	}
	if c.MonetaryReferences == nil {
		c.MonetaryReferences = []model.MonetaryReference{}
	}
	if c.CaseReferences == nil {
		c.CaseReferences = []string{}
	}
	if c.RelatedMessages == nil {
		c.RelatedMessages = []model.RelatedMessage{}
	}
	if c.SuggestedResponses == nil {
		c.SuggestedResponses = []string{}
	}
	if c.Questions == nil {
		c.Questions = []string{}
	}
	if c.Inconsistencies == nil {
		c.Inconsistencies = []string{}
	}
	return c
}

// storeError 把 pgx 错误映射为 util 中的分类错误
func storeError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, util.ErrNotFound)
	}
	if isConnectivityError(err) {
		return fmt.Errorf("%s: %w: %w", op, util.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectivityError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08xxx connection exception, 57P0x shutdown, 53300 too many connections
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0") || pgErr.Code == "53300"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
