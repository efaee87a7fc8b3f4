package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"mailassist/internal/model"
	"mailassist/pkg/util"
)

// MemoryRepository 进程内邮件存储，向量检索由 chromem-go 完成
// 用于测试和离线运行，语义与 EmailRepository 一致
type MemoryRepository struct {
	mu       sync.RWMutex
	messages map[int64]*model.Message
	nextID   int64

	vectors *chromem.Collection
}

func NewMemoryRepository() (*MemoryRepository, error) {
	db := chromem.NewDB()
	// 不传 embedding func：向量总是由调用方提供
	col, err := db.CreateCollection("emails", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &MemoryRepository{
		messages: make(map[int64]*model.Message),
		vectors:  col,
	}, nil
}

// Insert 写入一封邮件（ingestion 的替身），ID 为 0 时自动分配
func (r *MemoryRepository) Insert(ctx context.Context, m *model.Message) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := m.Clone()
	if c.ID == 0 {
		r.nextID++
		c.ID = r.nextID
	} else if c.ID > r.nextID {
		r.nextID = c.ID
	}
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = time.Now()
	}

	if len(c.Embedding) > 0 {
		if err := r.indexLocked(ctx, c); err != nil {
			return 0, err
		}
	}
	r.messages[c.ID] = c
	return c.ID, nil
}

// SetCategory 模拟展示层修改分类
func (r *MemoryRepository) SetCategory(id int64, category model.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return fmt.Errorf("email %d: %w", id, util.ErrNotFound)
	}
	m.Category = category
	return nil
}

// seedMessage 种子文件中的一条记录
type seedMessage struct {
	ID         int64     `json:"id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	Category   string    `json:"category"`
}

// LoadSeedFile 从 JSON 数组文件导入邮件
func (r *MemoryRepository) LoadSeedFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var seeds []seedMessage
	if err := json.Unmarshal(data, &seeds); err != nil {
		return 0, fmt.Errorf("decode seed file: %w", err)
	}

	for _, s := range seeds {
		category, ok := model.ParseCategory(s.Category)
		if !ok {
			return 0, fmt.Errorf("seed email %d: unknown category %q", s.ID, s.Category)
		}
		if _, err := r.Insert(ctx, &model.Message{
			ID:         s.ID,
			Sender:     s.Sender,
			Subject:    s.Subject,
			Body:       s.Body,
			ReceivedAt: s.ReceivedAt,
			Category:   category,
		}); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}

func (r *MemoryRepository) GetMessages(_ context.Context, filter model.MessageFilter) ([]*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Message
	for _, m := range r.messages {
		if matches(m, filter) {
			out = append(out, m.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			if filter.Newest {
				return a.ReceivedAt.After(b.ReceivedAt)
			}
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		if filter.Newest {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) GetMessage(_ context.Context, id int64) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, fmt.Errorf("get email %d: %w", id, util.ErrNotFound)
	}
	return m.Clone(), nil
}

func (r *MemoryRepository) SaveEmbedding(ctx context.Context, id int64, embedding []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return fmt.Errorf("save embedding for email %d: %w", id, util.ErrNotFound)
	}

	updated := m.Clone()
	updated.Embedding = append([]float32(nil), embedding...)
	if err := r.indexLocked(ctx, updated); err != nil {
		return err
	}
	m.Embedding = updated.Embedding
	return nil
}

// SaveAnalysis 先写结果再置 analyzed，没有 embedding 的邮件拒绝写入
func (r *MemoryRepository) SaveAnalysis(_ context.Context, id int64, result *model.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok || len(m.Embedding) == 0 {
		return fmt.Errorf("save analysis for email %d: %w", id, util.ErrNotFound)
	}

	m.Analysis = result.Clone()
	m.Analyzed = true
	m.Attempts = 0
	m.Parked = false
	m.LastError = ""
	return nil
}

func (r *MemoryRepository) RecordFailure(_ context.Context, id int64, reason string, maxAttempts int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return 0, false, fmt.Errorf("record failure for email %d: %w", id, util.ErrNotFound)
	}
	m.Attempts++
	m.LastError = reason
	m.Parked = m.Attempts >= maxAttempts
	return m.Attempts, m.Parked, nil
}

// VectorSearch 检索全部向量后按过滤条件裁剪，相同分数时较新的邮件在前
func (r *MemoryRepository) VectorSearch(ctx context.Context, embedding []float32, k int, filter model.MessageFilter) ([]model.ScoredMessage, error) {
	if k <= 0 || len(embedding) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.vectors.Count()
	if n == 0 {
		return nil, nil
	}

	// chromem 要求 nResults <= 文档数；sender 过滤交给 where，其余条件在结果上过滤
	var where map[string]string
	if filter.Sender != "" {
		where = map[string]string{"sender": strings.ToLower(filter.Sender)}
	}
	results, err := r.vectors.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	var scored []model.ScoredMessage
	for _, res := range results {
		id, err := strconv.ParseInt(res.ID, 10, 64)
		if err != nil {
			continue
		}
		m, ok := r.messages[id]
		if !ok || !matches(m, filter) {
			continue
		}
		scored = append(scored, model.ScoredMessage{Message: m.Clone(), Score: float64(res.Similarity)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Message.ReceivedAt.After(scored[j].Message.ReceivedAt)
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// indexLocked 写入/覆盖 chromem 文档，调用方持有写锁
func (r *MemoryRepository) indexLocked(ctx context.Context, m *model.Message) error {
	doc := chromem.Document{
		ID:        strconv.FormatInt(m.ID, 10),
		Content:   m.Subject,
		Embedding: append([]float32(nil), m.Embedding...),
		Metadata: map[string]string{
			"sender": strings.ToLower(m.Sender),
		},
	}
	if err := r.vectors.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index email %d: %w", m.ID, err)
	}
	return nil
}

// matches 与 buildWhereFrom 的 SQL 条件一一对应
func matches(m *model.Message, f model.MessageFilter) bool {
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Analyzed != nil && m.Analyzed != *f.Analyzed {
		return false
	}
	if f.Parked != nil && m.Parked != *f.Parked {
		return false
	}
	if f.Sender != "" && !strings.EqualFold(m.Sender, f.Sender) {
		return false
	}
	if !f.Since.IsZero() && m.ReceivedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && m.ReceivedAt.After(f.Until) {
		return false
	}
	if f.ExcludeID != 0 && m.ID == f.ExcludeID {
		return false
	}
	if f.HasMonetaryReferences && !m.Analysis.HasMonetaryReferences() {
		return false
	}
	if !f.AfterReceivedAt.IsZero() {
		if f.Newest {
			if !keyBefore(m.ReceivedAt, m.ID, f.AfterReceivedAt, f.AfterID) {
				return false
			}
		} else if !keyBefore(f.AfterReceivedAt, f.AfterID, m.ReceivedAt, m.ID) {
			return false
		}
	}
	return true
}

// keyBefore 比较 (received_at, id) 元组
func keyBefore(at1 time.Time, id1 int64, at2 time.Time, id2 int64) bool {
	if !at1.Equal(at2) {
		return at1.Before(at2)
	}
	return id1 < id2
}
