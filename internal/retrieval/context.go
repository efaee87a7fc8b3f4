package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailassist/internal/model"
)

// MaxCaseQueries 每封邮件最多为多少个案件编号做检索
const MaxCaseQueries = 3

// ContextOptions 分析前收集上下文的范围，数量 <= 0 表示跳过对应来源
type ContextOptions struct {
	// K 语义最相似的邮件
	K int
	// SenderHistoryK 同一发件人的历史邮件
	SenderHistoryK int
	// PaymentK 同一发件人含金额引用的邮件，仅当 HasAmounts
	PaymentK   int
	HasAmounts bool
	// CaseK 每个案件编号检索的邮件
	CaseK          int
	CaseReferences []string
}

// Gather 合并语义相似、发件人历史、付款记录和案件编号四路检索结果，
// 按 id 去重并保留最高分，排序规则与 FindRelated 相同
func (e *Engine) Gather(ctx context.Context, msg *model.Message, opts ContextOptions) ([]model.ScoredMessage, error) {
	related, err := e.FindRelated(ctx, msg, opts.K, Filters{})
	if err != nil {
		return nil, err
	}
	merged := newMerger(msg.ID)
	merged.add(related)

	if opts.SenderHistoryK > 0 && msg.Sender != "" {
		history, err := e.FindRelated(ctx, msg, opts.SenderHistoryK, Filters{Sender: msg.Sender})
		if err != nil {
			return nil, fmt.Errorf("sender history: %w", err)
		}
		merged.add(history)
	}

	if opts.PaymentK > 0 && opts.HasAmounts && msg.Sender != "" {
		payments, err := e.FindRelated(ctx, msg, opts.PaymentK, Filters{Sender: msg.Sender, HasMonetaryReferences: true})
		if err != nil {
			return nil, fmt.Errorf("payment references: %w", err)
		}
		merged.add(payments)
	}

	if opts.CaseK > 0 {
		refs := opts.CaseReferences
		if len(refs) > MaxCaseQueries {
			refs = refs[:MaxCaseQueries]
		}
		for _, ref := range refs {
			hits, err := e.Search(ctx, ref, opts.CaseK, Filters{})
			if err != nil {
				return nil, fmt.Errorf("case reference %q: %w", ref, err)
			}
			merged.add(hits)
		}
	}

	return merged.result(), nil
}

type merger struct {
	self int64
	byID map[int64]int
	out  []model.ScoredMessage
}

func newMerger(self int64) *merger {
	return &merger{self: self, byID: make(map[int64]int)}
}

func (m *merger) add(results []model.ScoredMessage) {
	for _, r := range results {
		if r.Message == nil || r.Message.ID == m.self {
			continue
		}
		if i, ok := m.byID[r.Message.ID]; ok {
			if r.Score > m.out[i].Score {
				m.out[i].Score = r.Score
			}
			continue
		}
		m.byID[r.Message.ID] = len(m.out)
		m.out = append(m.out, r)
	}
}

func (m *merger) result() []model.ScoredMessage {
	sortScored(m.out)
	if m.out == nil {
		return []model.ScoredMessage{}
	}
	return m.out
}

// ParseFilters 解析 CLI/HTTP 的过滤参数；日期可以是 2006-01-02 或 RFC3339，
// 只有日期的 until 包含当天
func ParseFilters(sender, since, until string) (Filters, error) {
	f := Filters{Sender: strings.TrimSpace(sender)}
	var err error
	if f.Since, err = parseTime(since, false); err != nil {
		return Filters{}, fmt.Errorf("invalid since: %w", err)
	}
	if f.Until, err = parseTime(until, true); err != nil {
		return Filters{}, fmt.Errorf("invalid until: %w", err)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return Filters{}, fmt.Errorf("until %s is before since %s", until, since)
	}
	return f, nil
}

func parseTime(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC3339", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
