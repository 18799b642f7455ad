package executor

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type scriptedRun struct {
	out Output
	err error
}

type fakeRunner struct {
	runs  []scriptedRun
	calls int
	args  [][]string
}

func (f *fakeRunner) Run(ctx context.Context, operation string, args []string) (Output, error) {
	f.args = append(f.args, args)
	idx := f.calls
	f.calls++
	if idx >= len(f.runs) {
		idx = len(f.runs) - 1
	}
	return f.runs[idx].out, f.runs[idx].err
}

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

type countingObserver map[string]int

func (c countingObserver) ObserveAttempt(operation, outcome string) {
	c[operation+"/"+outcome]++
}

func newTestGateway(runner Runner, sleeper *recordingSleeper, opts ...Option) *Gateway {
	opts = append([]Option{WithSleeper(sleeper.sleep)}, opts...)
	return NewGateway(runner, zap.NewNop(), opts...)
}

func testCall() Call {
	return Call{
		Operation: OpFetchPosition,
		Args:      []string{"mint"},
		Policy:    Policy{MaxRetries: 3, BaseDelay: time.Second, Timeout: time.Minute},
	}
}

func failure(stderr string) scriptedRun {
	return scriptedRun{out: Output{Stderr: []byte(stderr), ExitCode: 1}}
}

func success(stdout string) scriptedRun {
	return scriptedRun{out: Output{Stdout: []byte(stdout)}}
}

func TestInvokeRetriesTransientWithBackoff(t *testing.T) {
	runner := &fakeRunner{runs: []scriptedRun{
		failure("rpc connection reset"),
		failure("429 too many requests"),
		success(`{"positionMint":"abc"}`),
	}}
	sleeper := &recordingSleeper{}
	observer := countingObserver{}
	gw := newTestGateway(runner, sleeper, WithObserver(observer))

	payload, err := gw.Invoke(context.Background(), testCall())
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(payload) != `{"positionMint":"abc"}` {
		t.Fatalf("payload = %s", payload)
	}
	if runner.calls != 3 {
		t.Fatalf("runs = %d, want 3", runner.calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if !reflect.DeepEqual(sleeper.delays, want) {
		t.Fatalf("delays = %v, want %v", sleeper.delays, want)
	}
	if observer["fetch-position/transient"] != 2 || observer["fetch-position/success"] != 1 {
		t.Fatalf("unexpected observations: %v", observer)
	}
}

func TestInvokeTerminalNotRetried(t *testing.T) {
	for _, msg := range []string{
		"Usage: fetch-position <mint>",
		"Invalid public key input",
		"No liquidity in position",
		"Simulation failed: custom program error",
	} {
		runner := &fakeRunner{runs: []scriptedRun{failure(msg)}}
		sleeper := &recordingSleeper{}
		gw := newTestGateway(runner, sleeper)

		_, err := gw.Invoke(context.Background(), testCall())
		if err == nil {
			t.Fatalf("%q: expected error", msg)
		}
		if runner.calls != 1 || len(sleeper.delays) != 0 {
			t.Fatalf("%q: runs=%d sleeps=%d, want 1 and 0", msg, runner.calls, len(sleeper.delays))
		}
		var opErr *OperationError
		if !errors.As(err, &opErr) || opErr.Kind != KindTerminal {
			t.Fatalf("%q: expected terminal OperationError, got %v", msg, err)
		}
		if opErr.Stderr != msg {
			t.Fatalf("%q: stderr = %q", msg, opErr.Stderr)
		}
	}
}

func TestInvokeExhaustionIsTerminal(t *testing.T) {
	runner := &fakeRunner{runs: []scriptedRun{failure("blockhash not found")}}
	sleeper := &recordingSleeper{}
	gw := newTestGateway(runner, sleeper)

	_, err := gw.Invoke(context.Background(), testCall())
	if err == nil {
		t.Fatalf("expected error")
	}
	if runner.calls != 3 {
		t.Fatalf("runs = %d, want 3", runner.calls)
	}
	if !IsTerminal(err) {
		t.Fatalf("exhausted error should be terminal: %v", err)
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Attempts != 3 || opErr.Stderr != "blockhash not found" {
		t.Fatalf("unexpected exhaustion error: %+v", opErr)
	}
	if !strings.Contains(err.Error(), "blockhash not found") {
		t.Fatalf("error should carry last failure: %v", err)
	}
}

func TestInvokeSuccessFalseTreatedAsFailure(t *testing.T) {
	runner := &fakeRunner{runs: []scriptedRun{
		success(`{"success":false,"error":"node is behind"}`),
		success(`{"success":true,"amountAWithdrawn":"10","amountBWithdrawn":"20"}`),
	}}
	sleeper := &recordingSleeper{}
	gw := newTestGateway(runner, sleeper)

	if _, err := gw.Invoke(context.Background(), testCall()); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if runner.calls != 2 {
		t.Fatalf("runs = %d, want 2", runner.calls)
	}

	runner = &fakeRunner{runs: []scriptedRun{success(`{"success":false,"error":"Invalid tick range"}`)}}
	gw = newTestGateway(runner, &recordingSleeper{})
	if _, err := gw.Invoke(context.Background(), testCall()); !IsTerminal(err) || runner.calls != 1 {
		t.Fatalf("expected one terminal attempt, got runs=%d err=%v", runner.calls, err)
	}
}

func TestInvokeMalformedOutputNotRetried(t *testing.T) {
	runner := &fakeRunner{runs: []scriptedRun{success("Loaded wallet\nnot json")}}
	gw := newTestGateway(runner, &recordingSleeper{})

	_, err := gw.Invoke(context.Background(), testCall())
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("runs = %d, want 1", runner.calls)
	}
}

func TestInvokeErrorMessagePrefersJSONField(t *testing.T) {
	runner := &fakeRunner{runs: []scriptedRun{{out: Output{
		Stdout:   []byte(`{"success":false,"error":"invalid position mint"}`),
		Stderr:   []byte("stack trace"),
		ExitCode: 1,
	}}}}
	gw := newTestGateway(runner, &recordingSleeper{})

	_, err := gw.Invoke(context.Background(), testCall())
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %v", err)
	}
	if opErr.Message != "invalid position mint" || opErr.Kind != KindTerminal {
		t.Fatalf("unexpected error: %+v", opErr)
	}
}

type slowRunner struct {
	calls int
}

func (s *slowRunner) Run(ctx context.Context, operation string, args []string) (Output, error) {
	s.calls++
	if s.calls == 1 {
		<-ctx.Done()
		return Output{}, ctx.Err()
	}
	return Output{Stdout: []byte(`{}`)}, nil
}

func TestInvokeTimeoutIsTransient(t *testing.T) {
	runner := &slowRunner{}
	sleeper := &recordingSleeper{}
	gw := newTestGateway(runner, sleeper)

	call := testCall()
	call.Timeout = 10 * time.Millisecond
	if _, err := gw.Invoke(context.Background(), call); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if runner.calls != 2 || len(sleeper.delays) != 1 {
		t.Fatalf("runs=%d sleeps=%d, want 2 and 1", runner.calls, len(sleeper.delays))
	}
}

func TestRetryHonoursTerminalMarker(t *testing.T) {
	gw := newTestGateway(nil, &recordingSleeper{})
	calls := 0
	err := gw.Retry(context.Background(), "swap", Policy{MaxRetries: 3, BaseDelay: time.Second}, func(ctx context.Context) error {
		calls++
		return Terminal(errors.New("confirmation timed out"))
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls=%d err=%v, want a single terminal attempt", calls, err)
	}
	if !IsTerminal(err) {
		t.Fatalf("expected terminal error: %v", err)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := NewGateway(nil, zap.NewNop())
	calls := 0
	err := gw.Retry(ctx, "swap", Policy{MaxRetries: 3, BaseDelay: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("connection refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestClassifyMessage(t *testing.T) {
	cases := map[string]ErrorKind{
		"USAGE: withdraw-all <mint>":    KindTerminal,
		"Account is INVALID":            KindTerminal,
		"no liquidity":                  KindTerminal,
		"Simulation Failed: 0x1771":     KindTerminal,
		"fetch failed: ECONNRESET":      KindTransient,
		"Transaction was not confirmed": KindTransient,
		"":                              KindTransient,
	}
	for msg, want := range cases {
		if got := ClassifyMessage(msg); got != want {
			t.Fatalf("ClassifyMessage(%q) = %s, want %s", msg, got, want)
		}
	}
}
