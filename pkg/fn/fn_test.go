package fn

import (
	"context"
	"errors"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() || e.Error() == nil {
		t.Fatal("Err should be err")
	}
}

func TestErrf(t *testing.T) {
	_, err := Errf[string]("batch %d", 3).Unwrap()
	if err == nil || err.Error() != "batch 3" {
		t.Fatal("Errf wrong message")
	}
}

func TestFromPair(t *testing.T) {
	if !FromPair(1, nil).IsOk() {
		t.Fatal("nil error should be ok")
	}
	if FromPair(1, errors.New("x")).IsOk() {
		t.Fatal("error should be err")
	}
}

// --- Retry ---

var fastRetry = RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), fastRetry, func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Errf[string]("not yet")
		}
		return Ok("done")
	})
	if !r.IsOk() || calls != 3 {
		t.Fatalf("expected success on third call, got ok=%v calls=%d", r.IsOk(), calls)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), fastRetry, func(context.Context) Result[int] {
		calls++
		return Errf[int]("always")
	})
	if r.IsOk() || calls != 3 {
		t.Fatalf("expected 3 failing calls, got %d", calls)
	}
}

func TestRetry_ShouldRetryStopsEarly(t *testing.T) {
	fatal := errors.New("fatal")
	opts := fastRetry
	opts.ShouldRetry = func(err error) bool { return !errors.Is(err, fatal) }
	calls := 0
	err := RetryErr(context.Background(), opts, func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("expected one call returning fatal, got %d calls err=%v", calls, err)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Second}
	r := Retry(ctx, opts, func(context.Context) Result[int] { return Errf[int]("x") })
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryStage(t *testing.T) {
	calls := 0
	stage := RetryStage(fastRetry, func(_ context.Context, n int) Result[int] {
		calls++
		if calls == 1 {
			return Errf[int]("flaky")
		}
		return Ok(n * 2)
	})
	v, err := stage(context.Background(), 21).Unwrap()
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestTracedStage_PassesThrough(t *testing.T) {
	stage := TracedStage("double", func(_ context.Context, n int) Result[int] { return Ok(n * 2) })
	if v, err := stage(context.Background(), 4).Unwrap(); err != nil || v != 8 {
		t.Fatalf("got %d, %v", v, err)
	}
	failing := TracedStage("fail", func(_ context.Context, n int) Result[int] { return Errf[int]("boom") })
	if failing(context.Background(), 1).IsOk() {
		t.Fatal("expected error to propagate")
	}
}

// --- Slices ---

func TestChunk(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	chunks := Chunk(items, 2)
	if len(chunks) != 3 || len(chunks[2]) != 1 || chunks[2][0] != 5 {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
	if Chunk(items, 0) != nil {
		t.Fatal("n <= 0 should return nil")
	}
	if len(Chunk([]int{}, 3)) != 0 {
		t.Fatal("empty input should give no chunks")
	}
}

func TestMap(t *testing.T) {
	strs := Map([]int{1, 2}, func(i int) string { return string(rune('a' + i)) })
	if strs[0] != "b" || strs[1] != "c" {
		t.Fatalf("Map: %v", strs)
	}
}
