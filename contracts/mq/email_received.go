package mq

import "time"

// EmailReceivedPayload email.received 事件的 payload，由 ingestion 发布
type EmailReceivedPayload struct {
	EmailID    int64     `json:"email_id"`
	Sender     string    `json:"sender,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Category   string    `json:"category,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}
