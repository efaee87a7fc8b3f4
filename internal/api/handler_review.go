package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mailassist/internal/agent"
)

// OutcomeView 单封邮件处理结果
type OutcomeView struct {
	EmailID  int64  `json:"email_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	State    string `json:"state,omitempty"`
	Retries  int    `json:"retries"`
	Attempts int    `json:"attempts,omitempty"`
	Parked   bool   `json:"parked,omitempty"`
}

// ReportView review 的响应
type ReportView struct {
	PassID   string        `json:"pass_id"`
	Mode     string        `json:"mode"`
	Duration string        `json:"duration"`
	Outcomes []OutcomeView `json:"outcomes"`
}

func newReportView(r *agent.Report) ReportView {
	v := ReportView{
		PassID:   r.PassID,
		Mode:     r.Mode,
		Duration: r.Duration().Round(time.Millisecond).String(),
		Outcomes: make([]OutcomeView, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		ov := OutcomeView{
			EmailID:  o.EmailID,
			Status:   string(o.Status),
			Reason:   o.Reason,
			Retries:  o.Retries,
			Attempts: o.Attempts,
			Parked:   o.Parked,
		}
		if o.Status != agent.StatusSucceeded {
			ov.State = string(o.State)
		}
		v.Outcomes = append(v.Outcomes, ov)
	}
	return v
}

// Review handles POST /emails/:id/review
func (h *EmailQueryHandler) Review(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	report, err := h.assistant.Review(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "review failed", err)
		return
	}
	c.JSON(http.StatusOK, newReportView(report))
}
