// Package analysis turns one message plus its related messages into a structured
// AnalysisResult, either through an LLM provider or a remote agent service.
package analysis

import (
	"context"
	"strings"

	"mailassist/internal/model"
)

// Analyzer 分析一封邮件。返回的错误应包装 util.ErrAnalysis（可重试）或 util.ErrAnalysisFatal
type Analyzer interface {
	Analyze(ctx context.Context, msg *model.Message, related []model.ScoredMessage) (*model.AnalysisResult, error)
}

// Named 可选接口，用于日志和指标的 provider 标签
type Named interface {
	Name() string
}

// NameOf 返回 analyzer 的名字，未实现 Named 时为 "unknown"
func NameOf(a Analyzer) string {
	if n, ok := a.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

// modelOutput LLM 返回的 JSON 字段
type modelOutput struct {
	Summary            string   `json:"summary"`
	KeyPoints          []string `json:"key_points"`
	Inconsistencies    []string `json:"inconsistencies"`
	SuggestedResponses []string `json:"suggested_responses"`
	Questions          []string `json:"questions"`
}

// assemble 合并模型输出和本地抽取的金额/案件引用
// RelatedMessages、AnalyzedAt 由调用方（orchestrator）填写
func assemble(msg *model.Message, text string, out *modelOutput, modelName string) *model.AnalysisResult {
	return &model.AnalysisResult{
		MessageID:          msg.ID,
		Summary:            strings.TrimSpace(out.Summary),
		KeyPoints:          compact(out.KeyPoints),
		MonetaryReferences: ExtractMonetaryReferences(text),
		CaseReferences:     ExtractCaseReferences(text),
		RelatedMessages:    []model.RelatedMessage{},
		SuggestedResponses: compact(out.SuggestedResponses),
		Questions:          compact(out.Questions),
		Inconsistencies:    compact(out.Inconsistencies),
		Model:              modelName,
	}
}

// compact 去掉空白项，nil 变为空切片
func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
