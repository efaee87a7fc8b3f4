package agent

import (
	"time"

	"mailassist/internal/model"
)

// State 单封邮件在流水线中的状态，只存在于内存、日志和 trace 中
type State string

const (
	StatePending    State = "pending"
	StateEmbedding  State = "embedding"
	StateRetrieving State = "retrieving"
	StateAnalyzing  State = "analyzing"
	StatePersisting State = "persisting"
	StatePersisted  State = "persisted"
)

// Status 单封邮件的处理结果
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome 一封邮件在一次处理中的结果
type Outcome struct {
	EmailID int64
	Message *model.Message
	Status  Status
	// 跳过或失败的原因
	Reason string
	// 失败时停在哪个阶段
	State State
	// 本次处理内的重试次数
	Retries int
	// 累计失败次数（agent_attempts）
	Attempts int
	Parked   bool
	Err      error
	Analysis *model.AnalysisResult
	Duration time.Duration
}

// Report 一次批处理或 review 的汇总
type Report struct {
	PassID     string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
	// 导致批处理中止的致命错误
	Fatal error
}

// Count 统计指定状态的数量
func (r *Report) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Duration 批处理耗时
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
