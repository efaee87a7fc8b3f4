package mq

import "time"

// EmailAnalyzedPayload email.analyzed 事件的 payload，经 outbox 发布
type EmailAnalyzedPayload struct {
	EmailID       int64     `json:"email_id"`
	TraceID       string    `json:"trace_id,omitempty"`
	Sender        string    `json:"sender,omitempty"`
	Summary       string    `json:"summary"`
	MonetaryCount int       `json:"monetary_reference_count"`
	RelatedCount  int       `json:"related_count"`
	Model         string    `json:"model,omitempty"`
	AnalyzedAt    time.Time `json:"analyzed_at"`
}
