package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"mailassist/internal/agent"
	"mailassist/internal/model"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		amount   float64
		currency string
		want     string
	}{
		{1500, "USD", "$1,500.00"},
		{99.5, "", "$99.50"},
		{1234567.891, "USD", "$1,234,567.89"},
		{0, "USD", "$0.00"},
		{250, "eur", "250.00 EUR"},
		{-42, "USD", "-$42.00"},
	}
	for _, tt := range tests {
		if got := FormatMoney(tt.amount, tt.currency); got != tt.want {
			t.Errorf("FormatMoney(%v, %q) = %q, want %q", tt.amount, tt.currency, got, tt.want)
		}
	}
}

func sampleMessage() *model.Message {
	at := time.Date(2024, 3, 12, 8, 45, 0, 0, time.UTC)
	return &model.Message{
		ID:         4,
		Sender:     "j.alvarez@client-corp.com",
		Subject:    "Re: Settlement discussion",
		ReceivedAt: at,
		Category:   model.CategoryRespond,
		Analyzed:   true,
		Analysis: &model.AnalysisResult{
			MessageID:          4,
			Summary:            "Client asks to confirm the settlement figure.",
			KeyPoints:          []string{"Opposing counsel proposes $12,000"},
			Inconsistencies:    []string{"Earlier figure was 15,000 dollars"},
			MonetaryReferences: []model.MonetaryReference{{Amount: 12000, Currency: "USD", Text: "now proposes $12,000 but"}},
			CaseReferences:     []string{"Alvarez v. Northwind"},
			RelatedMessages:    []model.RelatedMessage{{ID: 2, Subject: "Settlement discussion", Sender: "j.alvarez@client-corp.com", ReceivedAt: at.AddDate(0, 0, -8), Score: 0.91}},
			Model:              "hash-analyzer",
			AnalyzedAt:         at.Add(time.Hour),
		},
	}
}

func TestAnalysisSections(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Analysis(sampleMessage())
	out := buf.String()

	for _, want := range []string{
		"EMAIL:", "Re: Settlement discussion",
		"DATE:", "Mar 12, 2024 at 08:45 AM",
		"SUMMARY:", "Client asks to confirm",
		"KEY POINTS:", "• Opposing counsel proposes $12,000",
		"INCONSISTENCIES/IMPORTANT DETAILS:",
		"DOLLAR AMOUNTS MENTIONED:", "$12,000.00",
		"CASE REFERENCES:", "Alvarez v. Northwind",
		"RELATED PREVIOUS EMAILS:", "#2", "score 0.91",
		"SUGGESTED RESPONSES:", "No suggested responses available.",
		"QUESTIONS TO CONSIDER:", "No questions identified.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestAnalysisOmitsEmptyOptionalSections(t *testing.T) {
	m := sampleMessage()
	m.Analysis.Inconsistencies = nil
	m.Analysis.CaseReferences = nil
	m.Analysis.MonetaryReferences = nil

	var buf bytes.Buffer
	New(&buf).Analysis(m)
	for _, absent := range []string{"INCONSISTENCIES", "CASE REFERENCES", "DOLLAR AMOUNTS"} {
		if strings.Contains(buf.String(), absent) {
			t.Errorf("unexpected section %q", absent)
		}
	}
}

func TestAnalysisNotAnalyzed(t *testing.T) {
	m := sampleMessage()
	m.Analysis = nil
	var buf bytes.Buffer
	New(&buf).Analysis(m)
	if !strings.Contains(buf.String(), "Not analyzed yet.") {
		t.Fatalf("got %s", buf.String())
	}
}

func TestReport(t *testing.T) {
	m := sampleMessage()
	start := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	r := &agent.Report{
		PassID:     "pass-1",
		Mode:       "process",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Outcomes: []agent.Outcome{
			{EmailID: 4, Message: m, Status: agent.StatusSucceeded, State: agent.StatePersisted, Analysis: m.Analysis},
			{EmailID: 5, Status: agent.StatusFailed, State: agent.StateAnalyzing, Reason: "analysis unavailable", Retries: 3, Attempts: 5, Parked: true},
			{EmailID: 6, Status: agent.StatusSkipped, Reason: "category is notify"},
		},
		Fatal: errors.New("embedding credentials rejected"),
	}

	var buf bytes.Buffer
	New(&buf).Report(r, true)
	out := buf.String()
	for _, want := range []string{
		"succeeded #4 Re: Settlement discussion",
		"failed #5: analysis unavailable (at analyzing after 3 retries, parked after 5 attempts)",
		"skipped #6: category is notify",
		"SUMMARY:",
		"process pass pass-1: 1 succeeded, 1 failed, 1 skipped in 1.5s",
		"aborted:", "embedding credentials rejected",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestEmptyReport(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Report(&agent.Report{Mode: "process"}, true)
	if !strings.Contains(buf.String(), "No new 'respond' emails to process.") {
		t.Fatalf("got %s", buf.String())
	}
}

func TestMessagesAndPayments(t *testing.T) {
	m := sampleMessage()
	pending := &model.Message{ID: 7, Subject: "Pending", ReceivedAt: m.ReceivedAt}

	var buf bytes.Buffer
	p := New(&buf)
	p.Messages([]*model.Message{m, pending})
	p.Payments([]*model.Message{m})
	out := buf.String()

	for _, want := range []string{
		"1. [✓] ID 4 - Mar 12, 2024 at 08:45 AM - Re: Settlement discussion",
		"2. [✗] ID 7",
		"1. ID 4 - Mar 12, 2024 at 08:45 AM - Re: Settlement discussion - Amounts: $12,000.00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}
