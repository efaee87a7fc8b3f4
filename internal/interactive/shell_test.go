package interactive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"mailassist/internal/agent"
	"mailassist/internal/model"
	"mailassist/internal/retrieval"
	"mailassist/pkg/util"
)

type call struct {
	name string
	arg  string
}

type fakeAssistant struct {
	calls  []call
	emails []*model.Message
}

func (f *fakeAssistant) List(_ context.Context, c model.Category, limit int) ([]*model.Message, error) {
	f.calls = append(f.calls, call{"list", fmt.Sprintf("%s/%d", c, limit)})
	if c == model.CategoryDone {
		return nil, nil
	}
	return f.emails, nil
}

func (f *fakeAssistant) Search(_ context.Context, text string, _ int, _ retrieval.Filters) ([]model.ScoredMessage, error) {
	f.calls = append(f.calls, call{"search", text})
	out := make([]model.ScoredMessage, 0, len(f.emails))
	for _, m := range f.emails {
		out = append(out, model.ScoredMessage{Message: m, Score: 0.5})
	}
	return out, nil
}

func (f *fakeAssistant) Payments(_ context.Context, sender string, _ int) ([]*model.Message, error) {
	f.calls = append(f.calls, call{"payments", sender})
	return nil, nil
}

func (f *fakeAssistant) Review(_ context.Context, id int64) (*agent.Report, error) {
	f.calls = append(f.calls, call{"review", fmt.Sprint(id)})
	if id == 404 {
		return nil, fmt.Errorf("get email 404: %w", util.ErrNotFound)
	}
	return &agent.Report{Mode: "review", Outcomes: []agent.Outcome{{EmailID: id, Status: agent.StatusSucceeded}}}, nil
}

func (f *fakeAssistant) ProcessPending(_ context.Context, mode string, _ int) (*agent.Report, error) {
	f.calls = append(f.calls, call{"process", mode})
	return &agent.Report{Mode: mode}, nil
}

func run(t *testing.T, input string) (*fakeAssistant, string) {
	t.Helper()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	f := &fakeAssistant{emails: []*model.Message{
		{ID: 11, Subject: "Retainer", ReceivedAt: at, Analyzed: true},
		{ID: 12, Subject: "Hearing date", ReceivedAt: at.Add(time.Hour)},
	}}
	var out bytes.Buffer
	sh := NewShell(f, strings.NewReader(input), &out, zaptest.NewLogger(t))
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return f, out.String()
}

func TestListDefaultsAndArguments(t *testing.T) {
	f, out := run(t, "list\nlist notify 3\nlist done\nlist bogus\nlist respond x\nexit\n")

	want := []call{{"list", "respond/5"}, {"list", "notify/3"}, {"list", "done/5"}}
	if fmt.Sprint(f.calls) != fmt.Sprint(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for _, s := range []string{
		"Found 2 emails in category 'respond'",
		"1. [✓] ID 11",
		"2. [✗] ID 12",
		"No emails found in category 'done'.",
		"Error: Unknown category 'bogus'",
		"Error: Invalid limit 'x'.",
		"Exiting interactive mode.",
	} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q\n%s", s, out)
		}
	}
}

func TestReviewCommand(t *testing.T) {
	f, out := run(t, "review\nreview abc\nreview 404\nreview 11\n")

	if fmt.Sprint(f.calls) != fmt.Sprint([]call{{"review", "404"}, {"review", "11"}}) {
		t.Fatalf("calls = %v", f.calls)
	}
	for _, s := range []string{
		"Error: Please specify an email ID to review.",
		"Error: Invalid email ID 'abc'.",
		"Error: Email with ID 404 not found.",
		"succeeded #11",
	} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q\n%s", s, out)
		}
	}
}

func TestSearchThenPickResult(t *testing.T) {
	f, out := run(t, "search settlement terms\n7\nx\n2\nexit\n")

	want := []call{{"search", "settlement terms"}, {"review", "12"}}
	if fmt.Sprint(f.calls) != fmt.Sprint(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for _, s := range []string{
		"Found 2 results:",
		"Error: Please enter a number between 1 and 2.",
		"Error: Please enter a valid number.",
		"Reviewing email ID: 12",
	} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q\n%s", s, out)
		}
	}
}

func TestSearchBack(t *testing.T) {
	f, _ := run(t, "search retainer\nback\nexit\n")
	if len(f.calls) != 1 {
		t.Fatalf("calls = %v", f.calls)
	}
}

func TestPaymentsProcessAndUnknown(t *testing.T) {
	f, out := run(t, "payments\npayments billing@harbor-legal.com\nprocess\nfrobnicate\nhelp\nquit\n")

	want := []call{{"payments", "billing@harbor-legal.com"}, {"process", "interactive"}}
	if fmt.Sprint(f.calls) != fmt.Sprint(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for _, s := range []string{
		"Error: Please specify a sender",
		"No payment references found.",
		"No new 'respond' emails to process.",
		"Unknown command: frobnicate",
		"payments <sender>",
	} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q\n%s", s, out)
		}
	}
}

func TestEOFExits(t *testing.T) {
	_, out := run(t, "help")
	if !strings.Contains(out, "Exiting interactive mode.") {
		t.Fatalf("got %s", out)
	}
}
