package model

import "time"

// AnalysisResult 一封邮件的结构化分析结果，与 Message 一一对应
type AnalysisResult struct {
	MessageID          int64               `json:"message_id"`
	Summary            string              `json:"summary"`
	KeyPoints          []string            `json:"key_points"`
	MonetaryReferences []MonetaryReference `json:"monetary_references"`
	CaseReferences     []string            `json:"case_references"`
	RelatedMessages    []RelatedMessage    `json:"related_messages"`
	SuggestedResponses []string            `json:"suggested_responses"`
	Questions          []string            `json:"questions"`
	Inconsistencies    []string            `json:"inconsistencies"`
	Model              string              `json:"model,omitempty"`
	AnalyzedAt         time.Time           `json:"analyzed_at"`
}

// MonetaryReference 一处金额引用，Text 为金额所在的上下文片段
type MonetaryReference struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Text     string  `json:"text"`
}

// RelatedMessage 相关邮件及相似度
type RelatedMessage struct {
	ID         int64     `json:"id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	ReceivedAt time.Time `json:"received_at"`
	Score      float64   `json:"score"`
}

// HasMonetaryReferences 是否包含金额引用
func (r *AnalysisResult) HasMonetaryReferences() bool {
	return r != nil && len(r.MonetaryReferences) > 0
}

// Clone 深拷贝
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	c := *r
	c.KeyPoints = append([]string(nil), r.KeyPoints...)
	c.MonetaryReferences = append([]MonetaryReference(nil), r.MonetaryReferences...)
	c.CaseReferences = append([]string(nil), r.CaseReferences...)
	c.RelatedMessages = append([]RelatedMessage(nil), r.RelatedMessages...)
	c.SuggestedResponses = append([]string(nil), r.SuggestedResponses...)
	c.Questions = append([]string(nil), r.Questions...)
	c.Inconsistencies = append([]string(nil), r.Inconsistencies...)
	return &c
}
