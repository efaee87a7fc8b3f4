// Package interactive implements the line-oriented operator shell.
package interactive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"mailassist/internal/agent"
	"mailassist/internal/model"
	"mailassist/internal/render"
	"mailassist/internal/retrieval"
	"mailassist/pkg/util"
)

const defaultListLimit = 5

// Assistant shell 命令映射到的 agent 能力
type Assistant interface {
	List(ctx context.Context, category model.Category, limit int) ([]*model.Message, error)
	Search(ctx context.Context, text string, k int, f retrieval.Filters) ([]model.ScoredMessage, error)
	Payments(ctx context.Context, sender string, limit int) ([]*model.Message, error)
	Review(ctx context.Context, id int64) (*agent.Report, error)
	ProcessPending(ctx context.Context, mode string, limit int) (*agent.Report, error)
}

type Shell struct {
	assistant Assistant
	in        *bufio.Scanner
	out       io.Writer
	printer   *render.Printer
	logger    *zap.Logger
}

func NewShell(assistant Assistant, in io.Reader, out io.Writer, logger *zap.Logger) *Shell {
	return &Shell{
		assistant: assistant,
		in:        bufio.NewScanner(in),
		out:       out,
		printer:   render.New(out),
		logger:    logger,
	}
}

const helpText = `
Available commands:
  list [category] [limit]   - List emails (default: respond, limit 5)
  review <id>               - Review a specific email
  search <query>            - Search emails semantically
  payments <sender>         - Search for payment references from sender
  process                   - Process all unprocessed 'respond' emails
  exit                      - Exit interactive mode
  help                      - Show this help message
`

// Run 读取命令直到 exit、输入结束或 ctx 取消
func (s *Shell) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, "Starting interactive mode.")
	fmt.Fprintln(s.out, "Type 'exit' to quit, 'help' for commands.")

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, ok := s.prompt("\n> ")
		if !ok {
			fmt.Fprintln(s.out, "\nExiting interactive mode.")
			return s.in.Err()
		}
		if line == "" {
			continue
		}
		if !s.dispatch(ctx, line) {
			fmt.Fprintln(s.out, "Exiting interactive mode.")
			return nil
		}
	}
}

func (s *Shell) prompt(p string) (string, bool) {
	fmt.Fprint(s.out, p)
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

// dispatch 返回 false 表示退出
func (s *Shell) dispatch(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "exit", "quit":
		return false
	case "help":
		fmt.Fprint(s.out, helpText)
	case "list":
		s.list(ctx, strings.Fields(rest))
	case "review":
		s.review(ctx, rest)
	case "search":
		s.search(ctx, rest)
	case "payments":
		s.payments(ctx, rest)
	case "process":
		s.process(ctx)
	default:
		fmt.Fprintf(s.out, "Unknown command: %s\n", cmd)
		fmt.Fprintln(s.out, "Type 'help' for available commands.")
	}
	return true
}

func (s *Shell) list(ctx context.Context, args []string) {
	category := model.CategoryRespond
	if len(args) > 0 {
		c, ok := model.ParseCategory(args[0])
		if !ok {
			fmt.Fprintf(s.out, "Error: Unknown category '%s' (active, respond, notify, done).\n", args[0])
			return
		}
		category = c
	}
	limit := defaultListLimit
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			fmt.Fprintf(s.out, "Error: Invalid limit '%s'.\n", args[1])
			return
		}
		limit = n
	}

	emails, err := s.assistant.List(ctx, category, limit)
	if err != nil {
		s.fail("list", err)
		return
	}
	if len(emails) == 0 {
		fmt.Fprintf(s.out, "No emails found in category '%s'.\n", category)
		return
	}
	fmt.Fprintf(s.out, "\nFound %d emails in category '%s':\n", len(emails), category)
	s.printer.Messages(emails)
}

func (s *Shell) review(ctx context.Context, arg string) {
	if arg == "" {
		fmt.Fprintln(s.out, "Error: Please specify an email ID to review.")
		return
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(s.out, "Error: Invalid email ID '%s'.\n", arg)
		return
	}
	s.reviewID(ctx, id)
}

func (s *Shell) reviewID(ctx context.Context, id int64) {
	fmt.Fprintf(s.out, "Reviewing email ID: %d\n", id)
	report, err := s.assistant.Review(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrNotFound):
			fmt.Fprintf(s.out, "Error: Email with ID %d not found.\n", id)
		case errors.Is(err, agent.ErrNotRespond):
			fmt.Fprintf(s.out, "Error: Email %d is not in the 'respond' category.\n", id)
		default:
			s.fail("review", err)
		}
		return
	}
	s.printer.Report(report, true)
}

func (s *Shell) search(ctx context.Context, query string) {
	if query == "" {
		fmt.Fprintln(s.out, "Error: Please specify a search query.")
		return
	}
	fmt.Fprintf(s.out, "Searching for: %s\n", query)
	results, err := s.assistant.Search(ctx, query, 0, retrieval.Filters{})
	if err != nil {
		s.fail("search", err)
		return
	}
	if len(results) == 0 {
		fmt.Fprintln(s.out, "No results found.")
		return
	}
	fmt.Fprintf(s.out, "\nFound %d results:\n", len(results))
	s.printer.Scored(results)

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.Message.ID
	}
	s.pick(ctx, ids)
}

func (s *Shell) payments(ctx context.Context, sender string) {
	if sender == "" {
		fmt.Fprintln(s.out, "Error: Please specify a sender to search for payment references.")
		return
	}
	fmt.Fprintf(s.out, "Searching for payment references from: %s\n", sender)
	emails, err := s.assistant.Payments(ctx, sender, 0)
	if err != nil {
		s.fail("payments", err)
		return
	}
	if len(emails) == 0 {
		fmt.Fprintln(s.out, "No payment references found.")
		return
	}
	fmt.Fprintf(s.out, "\nFound %d payment references:\n", len(emails))
	s.printer.Payments(emails)

	ids := make([]int64, len(emails))
	for i, m := range emails {
		ids[i] = m.ID
	}
	s.pick(ctx, ids)
}

// pick 让操作员从结果中选一封进行 review，输入 back 或空行返回
func (s *Shell) pick(ctx context.Context, ids []int64) {
	for {
		sel, ok := s.prompt("\nEnter result number to review (or 'back'): ")
		if !ok || sel == "" || strings.EqualFold(sel, "back") {
			return
		}
		n, err := strconv.Atoi(sel)
		if err != nil {
			fmt.Fprintln(s.out, "Error: Please enter a valid number.")
			continue
		}
		if n < 1 || n > len(ids) {
			fmt.Fprintf(s.out, "Error: Please enter a number between 1 and %d.\n", len(ids))
			continue
		}
		s.reviewID(ctx, ids[n-1])
		return
	}
}

func (s *Shell) process(ctx context.Context) {
	report, err := s.assistant.ProcessPending(ctx, "interactive", 0)
	if report != nil {
		s.printer.Report(report, true)
	}
	if err != nil {
		s.fail("process", err)
	}
}

func (s *Shell) fail(cmd string, err error) {
	s.logger.Warn("Interactive command failed", zap.String("command", cmd), zap.Error(err))
	fmt.Fprintf(s.out, "Error: %v\n", err)
}
