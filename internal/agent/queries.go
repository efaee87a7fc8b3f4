package agent

import (
	"context"

	"mailassist/internal/model"
	"mailassist/internal/retrieval"
)

// DefaultListLimit list/payments 未指定数量时的默认值
const DefaultListLimit = 10

// List 按分类列出邮件，最新的在前；category 为空时列出全部
func (a *Agent) List(ctx context.Context, category model.Category, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return a.store.GetMessages(ctx, model.MessageFilter{
		Category: category,
		Newest:   true,
		Limit:    limit,
	})
}

// Payments 列出某发件人分析结果中含金额引用的邮件，与分类无关
func (a *Agent) Payments(ctx context.Context, sender string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return a.store.GetMessages(ctx, model.MessageFilter{
		Sender:                sender,
		HasMonetaryReferences: true,
		Newest:                true,
		Limit:                 limit,
	})
}

// Search 自由文本语义检索，可按发件人和日期范围过滤
func (a *Agent) Search(ctx context.Context, text string, k int, f retrieval.Filters) ([]model.ScoredMessage, error) {
	return a.retriever.Search(ctx, text, k, f)
}

// Get 读取一封邮件
func (a *Agent) Get(ctx context.Context, id int64) (*model.Message, error) {
	return a.store.GetMessage(ctx, id)
}
