package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mailassist/internal/model"
	"mailassist/pkg/util"
)

const systemPrompt = `You are an assistant for a law firm. Your job is to review emails that need a response and provide helpful analysis.

Analyze the email and the provided context, then extract:
1. Key points that require attention or action
2. Any inconsistencies or important details (especially regarding payments, dates, or case references)
3. Suggested responses or approaches
4. Questions to ask to gather more information if needed
5. A brief summary of what this email is about

Reply with a single JSON object with these fields:
- key_points: array of strings
- inconsistencies: array of strings
- suggested_responses: array of strings
- questions: array of strings
- summary: string

Only include information that is relevant and helpful. Be concise but thorough.`

// 单封相关邮件正文进入 prompt 的上限
const relatedBodyLimit = 1500

type promptEmail struct {
	ID         int64   `json:"id"`
	Subject    string  `json:"subject"`
	Sender     string  `json:"sender"`
	ReceivedAt string  `json:"received_date"`
	Body       string  `json:"body"`
	Similarity float64 `json:"similarity,omitempty"`
}

type promptContext struct {
	Email              promptEmail               `json:"email"`
	RelatedEmails      []promptEmail             `json:"related_emails"`
	MonetaryReferences []model.MonetaryReference `json:"monetary_references"`
	CaseReferences     []string                  `json:"case_references"`
}

// BuildPrompt 生成用户消息：邮件、相关邮件和本地抽取结果的 JSON
func BuildPrompt(msg *model.Message, text string, related []model.ScoredMessage) string {
	ctx := promptContext{
		Email: promptEmail{
			ID:         msg.ID,
			Subject:    msg.Subject,
			Sender:     msg.Sender,
			ReceivedAt: msg.ReceivedAt.Format(time.RFC3339),
			Body:       text,
		},
		RelatedEmails:      make([]promptEmail, 0, len(related)),
		MonetaryReferences: ExtractMonetaryReferences(text),
		CaseReferences:     ExtractCaseReferences(text),
	}
	for _, r := range related {
		if r.Message == nil {
			continue
		}
		ctx.RelatedEmails = append(ctx.RelatedEmails, promptEmail{
			ID:         r.Message.ID,
			Subject:    r.Message.Subject,
			Sender:     r.Message.Sender,
			ReceivedAt: r.Message.ReceivedAt.Format(time.RFC3339),
			Body:       truncateRunes(CleanText(r.Message.Body), relatedBodyLimit),
			Similarity: r.Score,
		})
	}

	data, _ := json.MarshalIndent(ctx, "", "  ")
	return "The email and context are provided in JSON format:\n" + string(data)
}

// parseOutput 解析模型输出；容忍 ```json 代码块和 JSON 前后的说明文字
func parseOutput(raw string) (*modelOutput, error) {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: model output has no JSON object", util.ErrAnalysis)
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: decode model output: %w", util.ErrAnalysis, err)
	}
	return &out, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
