package model

import "time"

// MessageFilter 查询条件，零值字段表示不过滤
type MessageFilter struct {
	Category  Category
	Analyzed  *bool
	Parked    *bool
	Sender    string
	Since     time.Time
	Until     time.Time
	ExcludeID int64
	// 只返回分析结果中含金额引用的邮件
	HasMonetaryReferences bool

	// keyset 游标：严格晚于 (AfterReceivedAt, AfterID)
	AfterReceivedAt time.Time
	AfterID         int64

	// 默认按 received_date ASC, id ASC；Newest 时倒序
	Newest bool
	Limit  int
}

// PendingFilter agent 待处理批次的查询条件
func PendingFilter(limit int) MessageFilter {
	f := false
	return MessageFilter{
		Category: CategoryRespond,
		Analyzed: &f,
		Parked:   &f,
		Limit:    limit,
	}
}

// Bool 返回指针，便于构造过滤条件
func Bool(b bool) *bool {
	return &b
}
