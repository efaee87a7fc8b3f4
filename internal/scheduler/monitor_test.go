package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"mailassist/internal/agent"
	"mailassist/pkg/util"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	errs  []error
	panic bool
}

func (f *fakeRunner) ProcessPending(ctx context.Context, mode string, _ int) (*agent.Report, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if ctx.Err() != nil {
		return nil, errors.New("pass received a canceled context")
	}
	if f.panic && n == 1 {
		panic("boom")
	}
	var err error
	if n <= len(f.errs) {
		err = f.errs[n-1]
	}
	return &agent.Report{PassID: fmt.Sprintf("pass-%d", n), Mode: mode}, err
}

type cycleResult struct {
	report *agent.Report
	err    error
}

func startMonitor(t *testing.T, runner Runner, mock *clock.Mock) (*Monitor, chan cycleResult, context.CancelFunc, chan error) {
	t.Helper()
	cycles := make(chan cycleResult, 16)
	m := NewMonitor(runner, time.Minute, zaptest.NewLogger(t),
		WithClock(mock),
		WithCycleHook(func(r *agent.Report, err error) { cycles <- cycleResult{r, err} }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return m, cycles, cancel, done
}

func waitCycle(t *testing.T, cycles chan cycleResult) cycleResult {
	t.Helper()
	select {
	case c := <-cycles:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for monitor cycle")
		return cycleResult{}
	}
}

func expectNoCycle(t *testing.T, cycles chan cycleResult) {
	t.Helper()
	select {
	case c := <-cycles:
		t.Fatalf("unexpected cycle %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitorRunsImmediatelyThenEveryInterval(t *testing.T) {
	mock := clock.NewMock()
	runner := &fakeRunner{}
	_, cycles, cancel, done := startMonitor(t, runner, mock)

	if c := waitCycle(t, cycles); c.report.PassID != "pass-1" || c.report.Mode != "monitor" {
		t.Fatalf("first cycle = %+v", c.report)
	}

	mock.Add(30 * time.Second)
	expectNoCycle(t, cycles)

	mock.Add(30 * time.Second)
	if c := waitCycle(t, cycles); c.report.PassID != "pass-2" {
		t.Fatalf("second cycle = %+v", c.report)
	}

	mock.Add(time.Minute)
	waitCycle(t, cycles)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestMonitorKeepsGoingAfterFailures(t *testing.T) {
	mock := clock.NewMock()
	runner := &fakeRunner{
		errs: []error{
			fmt.Errorf("%w: db down", util.ErrStoreUnavailable),
			fmt.Errorf("%w: bad key", util.ErrAnalysisFatal),
		},
	}
	_, cycles, cancel, done := startMonitor(t, runner, mock)
	defer func() {
		cancel()
		<-done
	}()

	if c := waitCycle(t, cycles); !errors.Is(c.err, util.ErrStoreUnavailable) {
		t.Fatalf("first cycle err = %v", c.err)
	}
	mock.Add(time.Minute)
	if c := waitCycle(t, cycles); !util.IsFatal(c.err) {
		t.Fatalf("second cycle err = %v", c.err)
	}
	mock.Add(time.Minute)
	if c := waitCycle(t, cycles); c.err != nil {
		t.Fatalf("third cycle err = %v", c.err)
	}
}

func TestMonitorRecoversPanickingCycle(t *testing.T) {
	mock := clock.NewMock()
	_, cycles, cancel, done := startMonitor(t, &fakeRunner{panic: true}, mock)
	defer func() {
		cancel()
		<-done
	}()

	if c := waitCycle(t, cycles); c.err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	mock.Add(time.Minute)
	if c := waitCycle(t, cycles); c.err != nil {
		t.Fatalf("second cycle err = %v", c.err)
	}
}

func TestMonitorTriggerWakesEarly(t *testing.T) {
	mock := clock.NewMock()
	m, cycles, cancel, done := startMonitor(t, &fakeRunner{}, mock)
	defer func() {
		cancel()
		<-done
	}()

	waitCycle(t, cycles)
	m.Trigger()
	m.Trigger()
	if c := waitCycle(t, cycles); c.report.PassID != "pass-2" {
		t.Fatalf("triggered cycle = %+v", c.report)
	}
}

func TestMonitorStopsBetweenCycles(t *testing.T) {
	mock := clock.NewMock()
	runner := &fakeRunner{}
	_, cycles, cancel, done := startMonitor(t, runner, mock)

	waitCycle(t, cycles)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls != 1 {
		t.Fatalf("calls = %d, want 1", runner.calls)
	}
}
