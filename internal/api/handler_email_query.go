package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailassist/internal/agent"
	"mailassist/internal/model"
	"mailassist/internal/retrieval"
	"mailassist/pkg/util"
)

// Assistant HTTP 接口依赖的 agent 能力
type Assistant interface {
	List(ctx context.Context, category model.Category, limit int) ([]*model.Message, error)
	Get(ctx context.Context, id int64) (*model.Message, error)
	Payments(ctx context.Context, sender string, limit int) ([]*model.Message, error)
	Search(ctx context.Context, text string, k int, f retrieval.Filters) ([]model.ScoredMessage, error)
	Review(ctx context.Context, id int64) (*agent.Report, error)
}

// EmailView 邮件的 JSON 表示，列表中不含正文
type EmailView struct {
	ID         int64                 `json:"id"`
	Sender     string                `json:"sender"`
	Subject    string                `json:"subject"`
	Body       string                `json:"body,omitempty"`
	ReceivedAt time.Time             `json:"received_at"`
	Category   model.Category        `json:"category"`
	Analyzed   bool                  `json:"analyzed"`
	Parked     bool                  `json:"parked,omitempty"`
	Attempts   int                   `json:"attempts,omitempty"`
	Score      *float64              `json:"score,omitempty"`
	Analysis   *model.AnalysisResult `json:"analysis,omitempty"`
}

func newEmailView(m *model.Message, withBody bool) EmailView {
	v := EmailView{
		ID:         m.ID,
		Sender:     m.Sender,
		Subject:    m.Subject,
		ReceivedAt: m.ReceivedAt,
		Category:   m.Category,
		Analyzed:   m.Analyzed,
		Parked:     m.Parked,
		Attempts:   m.Attempts,
		Analysis:   m.Analysis,
	}
	if withBody {
		v.Body = m.Body
	}
	return v
}

type EmailQueryHandler struct {
	assistant Assistant
	logger    *zap.Logger
}

func NewEmailQueryHandler(assistant Assistant, logger *zap.Logger) *EmailQueryHandler {
	return &EmailQueryHandler{
		assistant: assistant,
		logger:    logger,
	}
}

// GetEmails handles GET /emails?category=respond&limit=10
func (h *EmailQueryHandler) GetEmails(c *gin.Context) {
	var category model.Category
	if raw := c.Query("category"); raw != "" {
		parsed, ok := model.ParseCategory(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}
		category = parsed
	}
	limit, ok := intQuery(c, "limit", agent.DefaultListLimit)
	if !ok {
		return
	}

	emails, err := h.assistant.List(c.Request.Context(), category, limit)
	if err != nil {
		h.fail(c, "failed to list emails", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": views(emails)})
}

// GetEmail handles GET /emails/:id
func (h *EmailQueryHandler) GetEmail(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	m, err := h.assistant.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "failed to fetch email", err)
		return
	}
	c.JSON(http.StatusOK, newEmailView(m, true))
}

// GetPayments handles GET /payments?sender=a@b.com
func (h *EmailQueryHandler) GetPayments(c *gin.Context) {
	sender := c.Query("sender")
	if sender == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender is required"})
		return
	}
	limit, ok := intQuery(c, "limit", agent.DefaultListLimit)
	if !ok {
		return
	}

	emails, err := h.assistant.Payments(c.Request.Context(), sender, limit)
	if err != nil {
		h.fail(c, "failed to fetch payments", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": views(emails)})
}

// Search handles GET /search?q=retainer&k=5&sender=a@x.com&since=2025-01-01&until=2025-02-01
func (h *EmailQueryHandler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	k, ok := intQuery(c, "k", 0)
	if !ok {
		return
	}

	filters, err := retrieval.ParseFilters(c.Query("sender"), c.Query("since"), c.Query("until"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.assistant.Search(c.Request.Context(), q, k, filters)
	if err != nil {
		h.fail(c, "search failed", err)
		return
	}
	out := make([]EmailView, 0, len(results))
	for _, r := range results {
		v := newEmailView(r.Message, false)
		score := r.Score
		v.Score = &score
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

// fail 按错误分类映射 HTTP 状态码
func (h *EmailQueryHandler) fail(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, util.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, agent.ErrNotRespond):
		status = http.StatusConflict
	case errors.Is(err, util.ErrStoreUnavailable), util.IsFatal(err),
		errors.Is(err, util.ErrEmbedding), errors.Is(err, util.ErrAnalysis):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

func views(emails []*model.Message) []EmailView {
	out := make([]EmailView, 0, len(emails))
	for _, m := range emails {
		out = append(out, newEmailView(m, false))
	}
	return out
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email id"})
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return n, true
}
