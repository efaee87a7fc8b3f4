// Package render formats analyses, outcomes and message lists for the terminal.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"mailassist/internal/agent"
	"mailassist/internal/model"
)

const (
	dateLayout = "Jan 02, 2006 at 03:04 PM"
	dividerLen = 80
)

// Printer 写到同一个 writer；颜色能力根据 writer 自动探测，非终端时输出纯文本
type Printer struct {
	w io.Writer

	title   lipgloss.Style
	heading lipgloss.Style
	dim     lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
}

func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:       w,
		title:   r.NewStyle().Bold(true),
		heading: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		dim:     r.NewStyle().Faint(true),
		ok:      r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("11")),
		bad:     r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// Analysis 输出一封邮件及其分析结果
func (p *Printer) Analysis(m *model.Message) {
	divider := strings.Repeat("=", dividerLen)
	p.printf("\n%s\n", divider)
	p.printf("%s %s\n", p.title.Render("EMAIL:"), m.Subject)
	p.printf("%s  %s\n", p.title.Render("FROM:"), m.Sender)
	p.printf("%s  %s\n", p.title.Render("DATE:"), FormatDate(m.ReceivedAt))
	p.printf("%s\n\n", divider)

	a := m.Analysis
	if a == nil {
		p.printf("%s\n\n%s\n", p.dim.Render("Not analyzed yet."), divider)
		return
	}

	p.section("SUMMARY")
	if a.Summary == "" {
		p.printf("No summary available.\n\n")
	} else {
		p.printf("%s\n\n", a.Summary)
	}

	p.bullets("KEY POINTS", a.KeyPoints, "No key points identified.")

	if len(a.Inconsistencies) > 0 {
		p.bullets("INCONSISTENCIES/IMPORTANT DETAILS", a.Inconsistencies, "")
	}

	if len(a.MonetaryReferences) > 0 {
		items := make([]string, 0, len(a.MonetaryReferences))
		for _, ref := range a.MonetaryReferences {
			items = append(items, fmt.Sprintf("%s  %s", FormatMoney(ref.Amount, ref.Currency), p.dim.Render(ref.Text)))
		}
		p.bullets("DOLLAR AMOUNTS MENTIONED", items, "")
	}

	if len(a.CaseReferences) > 0 {
		p.bullets("CASE REFERENCES", a.CaseReferences, "")
	}

	if len(a.RelatedMessages) > 0 {
		items := make([]string, 0, len(a.RelatedMessages))
		for _, r := range a.RelatedMessages {
			items = append(items, fmt.Sprintf("#%d %s - %s (%s) %s",
				r.ID, FormatDate(r.ReceivedAt), r.Subject, r.Sender, p.dim.Render(fmt.Sprintf("score %.2f", r.Score))))
		}
		p.bullets("RELATED PREVIOUS EMAILS", items, "")
	}

	p.bullets("SUGGESTED RESPONSES", a.SuggestedResponses, "No suggested responses available.")
	p.bullets("QUESTIONS TO CONSIDER", a.Questions, "No questions identified.")

	if a.Model != "" || !a.AnalyzedAt.IsZero() {
		p.printf("%s\n", p.dim.Render(fmt.Sprintf("analyzed %s by %s", FormatDate(a.AnalyzedAt), a.Model)))
	}
	p.printf("%s\n", divider)
}

func (p *Printer) section(name string) {
	p.printf("%s\n", p.heading.Render(name+":"))
}

func (p *Printer) bullets(name string, items []string, empty string) {
	p.section(name)
	for _, item := range items {
		p.printf("• %s\n", item)
	}
	if len(items) == 0 && empty != "" {
		p.printf("• %s\n", empty)
	}
	p.printf("\n")
}

// Report 每封邮件一行结果，成功的邮件附带完整分析，最后是汇总
func (p *Printer) Report(r *agent.Report, withAnalyses bool) {
	if len(r.Outcomes) == 0 {
		p.printf("No new 'respond' emails to process.\n")
	}
	for _, o := range r.Outcomes {
		p.Outcome(o)
	}
	if withAnalyses {
		for _, o := range r.Outcomes {
			if o.Status == agent.StatusSucceeded && o.Message != nil {
				m := o.Message.Clone()
				m.Analysis = o.Analysis
				p.Analysis(m)
			}
		}
	}

	summary := fmt.Sprintf("%s pass %s: %d succeeded, %d failed, %d skipped in %s",
		r.Mode, r.PassID,
		r.Count(agent.StatusSucceeded), r.Count(agent.StatusFailed), r.Count(agent.StatusSkipped),
		r.Duration().Round(time.Millisecond))
	p.printf("%s\n", p.title.Render(summary))
	if r.Fatal != nil {
		p.printf("%s %v\n", p.bad.Render("aborted:"), r.Fatal)
	}
}

// Outcome 单封邮件的处理结果
func (p *Printer) Outcome(o agent.Outcome) {
	subject := ""
	if o.Message != nil {
		subject = " " + o.Message.Subject
	}
	switch o.Status {
	case agent.StatusSucceeded:
		p.printf("%s #%d%s\n", p.ok.Render("✓ succeeded"), o.EmailID, subject)
	case agent.StatusSkipped:
		p.printf("%s #%d%s: %s\n", p.warn.Render("- skipped"), o.EmailID, subject, o.Reason)
	default:
		detail := fmt.Sprintf("at %s after %d retries", o.State, o.Retries)
		if o.Parked {
			detail += fmt.Sprintf(", parked after %d attempts", o.Attempts)
		}
		p.printf("%s #%d%s: %s (%s)\n", p.bad.Render("✗ failed"), o.EmailID, subject, o.Reason, detail)
	}
}

// Messages 编号列表，带 analyzed 标记
func (p *Printer) Messages(ms []*model.Message) {
	for i, m := range ms {
		mark := p.bad.Render("✗")
		if m.Analyzed {
			mark = p.ok.Render("✓")
		}
		p.printf("%d. [%s] ID %d - %s - %s\n", i+1, mark, m.ID, FormatDate(m.ReceivedAt), m.Subject)
	}
}

// Payments 列表并附带每封邮件的金额
func (p *Printer) Payments(ms []*model.Message) {
	for i, m := range ms {
		var amounts []string
		if m.Analysis != nil {
			for _, ref := range m.Analysis.MonetaryReferences {
				amounts = append(amounts, FormatMoney(ref.Amount, ref.Currency))
			}
		}
		p.printf("%d. ID %d - %s - %s - Amounts: %s\n",
			i+1, m.ID, FormatDate(m.ReceivedAt), m.Subject, strings.Join(amounts, ", "))
	}
}

// Scored 检索结果列表
func (p *Printer) Scored(results []model.ScoredMessage) {
	for i, r := range results {
		p.printf("%d. ID %d - %s - %s %s\n",
			i+1, r.Message.ID, FormatDate(r.Message.ReceivedAt), r.Message.Subject,
			p.dim.Render(fmt.Sprintf("(score %.2f)", r.Score)))
	}
}

func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown date"
	}
	return t.Format(dateLayout)
}

// FormatMoney USD 用 $ 前缀，其他币种用代码后缀；整数部分按千分位分组
func FormatMoney(amount float64, currency string) string {
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	grouped := b.String() + "." + frac

	if currency == "" || strings.EqualFold(currency, "USD") {
		return sign + "$" + grouped
	}
	return sign + grouped + " " + strings.ToUpper(currency)
}
