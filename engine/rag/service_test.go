package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BanglaVai/ticketrag/engine/domain"
	"github.com/BanglaVai/ticketrag/engine/embed"
	"github.com/BanglaVai/ticketrag/engine/semantic"
	"github.com/BanglaVai/ticketrag/pkg/fn"
)

const header = "Ticket ID,Customer Name,Customer Email,Ticket Subject,Ticket Description,Ticket Type,Product Purchased,Ticket Status,Ticket Priority,Ticket Channel,Resolution,Customer Satisfaction Rating\n"

var fastRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeCSV(t *testing.T, rows ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickets.csv")
	if err := os.WriteFile(path, []byte(header+strings.Join(rows, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.CollectionRetry = fastRetry
	opts.AddRetry = fastRetry
	return opts
}

func newService(t *testing.T, deps Deps) *Service {
	t.Helper()
	if deps.Encoder == nil {
		deps.Encoder = embed.NewHashing(0)
	}
	if deps.Store == nil {
		store, err := semantic.OpenLocal(t.TempDir(), quietLogger())
		if err != nil {
			t.Fatal(err)
		}
		deps.Store = store
	}
	deps.Logger = quietLogger()
	svc, err := New(context.Background(), deps, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

// corpus returns n rows about distinct topics plus the login ticket T001.
func corpus(n int) []string {
	rows := []string{
		"T001,Rahim,rahim@example.com,Login issue,Cannot login to my account,Technical issue,Laptop,Closed,High,Email,Reset password via email link,5",
	}
	topics := []string{"refund", "shipping", "battery", "screen", "printer", "billing", "warranty", "speaker"}
	for i := 0; i < n; i++ {
		topic := topics[i%len(topics)]
		rows = append(rows, fmt.Sprintf("T%03d,Cust %d,c%d@example.com,%s question %d,Problem with %s number %d,Product inquiry,Gadget %d,Open,Low,Chat,,",
			i+100, i, i, topic, i, topic, i, i))
	}
	return rows
}

func TestSearch_LoginScenario(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	if _, err := svc.Initialize(ctx, writeCSV(t, corpus(8)...)); err != nil {
		t.Fatal(err)
	}

	results := svc.Search(ctx, "cannot access account", 3)
	if len(results) < 1 {
		t.Fatal("expected the login ticket to be found")
	}
	top := results[0]
	if top.TicketID != "T001" || top.ID != "ticket_T001" {
		t.Fatalf("top result = %+v", top)
	}
	if top.SimilarityScore <= DefaultMinScore || top.SimilarityScore > 1 {
		t.Fatalf("score out of range: %v", top.SimilarityScore)
	}
	if top.Resolution != "Reset password via email link" || top.CustomerSatisfaction != "5" {
		t.Fatalf("metadata not mapped: %+v", top)
	}
	if top.CombinedText != "Login issue Cannot login to my account Technical issue Laptop" {
		t.Fatalf("combined text = %q", top.CombinedText)
	}
}

func TestSearch_RoundTripExactText(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	rows := append(corpus(4), "T123,Karim,k@example.com,Printer jam,Paper stuck in tray,Technical issue,Printer X,Open,Medium,Phone,,")
	svc.Initialize(ctx, writeCSV(t, rows...))

	results := svc.Search(ctx, "Printer jam Paper stuck in tray Technical issue Printer X", 1)
	if len(results) != 1 || results[0].TicketID != "T123" {
		t.Fatalf("expected T123, got %+v", results)
	}
	if s := results[0].SimilarityScore; s < 0.99 || s > 1 {
		t.Fatalf("exact text should score ~1 and never above, got %v", s)
	}
}

func TestSearch_ExactTextNeverScoresAboveOne(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	svc.Initialize(ctx, writeCSV(t, corpus(40)...))

	topics := []string{"refund", "shipping", "battery", "screen", "printer", "billing", "warranty", "speaker"}
	for i := 0; i < 40; i++ {
		topic := topics[i%len(topics)]
		q := fmt.Sprintf("%s question %d Problem with %s number %d Product inquiry Gadget %d", topic, i, topic, i, i)
		for _, r := range svc.Search(ctx, q, 1) {
			if r.SimilarityScore > 1 || r.SimilarityScore < 0 {
				t.Fatalf("query %q scored %v", q, r.SimilarityScore)
			}
		}
	}
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		distance float32
		want     float64
	}{
		{-1e-7, 1},
		{0, 1},
		{0.25, 0.75},
		{1, 0},
		{1.5, 0},
	}
	for _, c := range cases {
		if got := similarity(c.distance); got != c.want {
			t.Errorf("similarity(%v) = %v, want %v", c.distance, got, c.want)
		}
	}
}

func TestSearch_ScoresSortedAndBounded(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	svc.Initialize(ctx, writeCSV(t, corpus(40)...))

	results := svc.Search(ctx, "problem with refund and shipping", 50)
	if len(results) > MaxResults {
		t.Fatalf("got %d results, cap is %d", len(results), MaxResults)
	}
	for i, r := range results {
		if r.SimilarityScore <= DefaultMinScore || r.SimilarityScore > 1 {
			t.Fatalf("result %d score %v out of range", i, r.SimilarityScore)
		}
		if i > 0 && r.SimilarityScore > results[i-1].SimilarityScore {
			t.Fatalf("results not sorted at %d", i)
		}
	}
}

func TestSearch_ClampsLowMax(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	svc.Initialize(ctx, writeCSV(t, corpus(8)...))
	if got := svc.Search(ctx, "refund question", 0); len(got) > 1 {
		t.Fatalf("maxResults 0 should clamp to 1, got %d", len(got))
	}
	if got := svc.Search(ctx, "refund question", -5); len(got) > 1 {
		t.Fatalf("negative maxResults should clamp to 1, got %d", len(got))
	}
}

func TestSearch_BlankQuery(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	svc.Initialize(ctx, writeCSV(t, corpus(2)...))
	for _, q := range []string{"", "   ", "\t\n"} {
		got, err := svc.SearchDetailed(ctx, q, 5)
		if err != nil || got == nil || len(got) != 0 {
			t.Fatalf("query %q: %v, %v", q, got, err)
		}
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	svc := newService(t, Deps{})
	got, err := svc.SearchDetailed(context.Background(), "anything", 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestSearch_DropsMissingDescriptionRows(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	n, err := svc.Initialize(ctx, writeCSV(t,
		"T1,a,a@x,Battery drains,Battery empty after an hour,Technical issue,Phone,Open,High,Chat,,",
		"T2,b,b@x,Battery drains,,Technical issue,Phone,Open,High,Chat,,",
	))
	if err != nil || n != 1 {
		t.Fatalf("got %d, %v", n, err)
	}
	for _, r := range svc.Search(ctx, "battery drains", 20) {
		if r.TicketID == "T2" {
			t.Fatal("ticket without description must not be indexed")
		}
	}
}

func TestInitialize_EmptyCorpus(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	svc.Initialize(ctx, writeCSV(t, corpus(3)...))
	n, err := svc.Initialize(ctx, writeCSV(t))
	if err != nil || n != 0 {
		t.Fatalf("got %d, %v", n, err)
	}
	if st := svc.Stats(ctx); st.TotalTickets != 0 {
		t.Fatalf("total = %d", st.TotalTickets)
	}
	if got := svc.Search(ctx, "refund", 5); len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	path := writeCSV(t, corpus(5)...)
	first, _ := svc.Initialize(ctx, path)
	second, _ := svc.Initialize(ctx, path)
	if first != 6 || second != 6 {
		t.Fatalf("loads returned %d and %d", first, second)
	}
	if st := svc.Stats(ctx); st.TotalTickets != 6 {
		t.Fatalf("total = %d", st.TotalTickets)
	}
}

func TestInitialize_DuplicateIDsCountedOnce(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	n, err := svc.Initialize(ctx, writeCSV(t,
		"T1,a,a@x,Login issue,Cannot login,Technical issue,Laptop,Open,High,Email,,",
		"T1,b,b@x,Refund,Item arrived broken,Refund request,Phone,Open,Low,Chat,,",
	))
	if err != nil || n != 1 {
		t.Fatalf("got %d, %v", n, err)
	}
	if st := svc.Stats(ctx); st.TotalTickets != n {
		t.Fatalf("loaded %d but index holds %d", n, st.TotalTickets)
	}
}

func TestInitialize_MissingFile(t *testing.T) {
	svc := newService(t, Deps{})
	_, err := svc.Initialize(context.Background(), filepath.Join(t.TempDir(), "none.csv"))
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("got %v", err)
	}
	if svc.State() != StateReady {
		t.Fatalf("state = %s", svc.State())
	}
}

// blockingEncoder holds Encode until release is closed.
type blockingEncoder struct {
	embed.Encoder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Encoder.Encode(ctx, texts)
}

func TestInitialize_RejectsConcurrentReload(t *testing.T) {
	ctx := context.Background()
	enc := &blockingEncoder{Encoder: embed.NewHashing(0), entered: make(chan struct{}), release: make(chan struct{})}
	svc := newService(t, Deps{Encoder: enc})
	path := writeCSV(t, corpus(2)...)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Initialize(ctx, path)
		done <- err
	}()
	<-enc.entered

	if svc.State() != StateReinitializing {
		t.Fatalf("state during reload = %s", svc.State())
	}
	if _, err := svc.Initialize(ctx, path); !errors.Is(err, ErrReindexInProgress) {
		t.Fatalf("expected ErrReindexInProgress, got %v", err)
	}
	close(enc.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if svc.State() != StateReady {
		t.Fatalf("state after reload = %s", svc.State())
	}
}

func TestInitialize_Notifies(t *testing.T) {
	ctx := context.Background()
	var got []ReloadEvent
	svc := newService(t, Deps{Notifier: NotifierFunc(func(_ context.Context, ev ReloadEvent) error {
		got = append(got, ev)
		return errors.New("bus down")
	})})
	path := writeCSV(t, corpus(2)...)
	if _, err := svc.Initialize(ctx, path); err != nil {
		t.Fatalf("notifier failure must not fail the reload: %v", err)
	}
	if len(got) != 1 || got[0].Count != 3 || got[0].Source != path || got[0].Collection != domain.DefaultCollection {
		t.Fatalf("events = %+v", got)
	}
	if st := svc.Stats(ctx); st.LastReload == nil || st.LastReload.Count != 3 {
		t.Fatalf("last reload not reported: %+v", st.LastReload)
	}
}

// brokenEncoder always fails.
type brokenEncoder struct{ embed.Encoder }

func (brokenEncoder) Encode(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model crashed")
}

// nopCloseStore lets two services share one store.
type nopCloseStore struct{ semantic.Store }

func (nopCloseStore) Close() error { return nil }

func TestSearch_SwallowsErrors(t *testing.T) {
	ctx := context.Background()
	good := newService(t, Deps{})
	good.Initialize(ctx, writeCSV(t, corpus(2)...))
	svc := newService(t, Deps{
		Encoder: brokenEncoder{Encoder: embed.NewHashing(0)},
		Store:   nopCloseStore{good.store},
	})

	if got := svc.Search(ctx, "refund", 5); got == nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
	if _, err := svc.SearchDetailed(ctx, "refund", 5); err == nil {
		t.Fatal("SearchDetailed should return the failure")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, Deps{})
	svc.Initialize(ctx, writeCSV(t, corpus(3)...))
	st := svc.Stats(ctx)
	if st.TotalTickets != 4 || st.CollectionName != domain.DefaultCollection {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.EncoderModelName != embed.HashingModel || st.EncoderDimension != embed.DefaultDimension {
		t.Fatalf("encoder info = %s/%d", st.EncoderModelName, st.EncoderDimension)
	}
	if st.DatabaseType != "badger" || st.DatabasePath == "" || st.DatabaseSizeBytes <= 0 {
		t.Fatalf("database info = %+v", st)
	}
	if !st.SingletonInitialized || st.State != StateReady || st.Error != "" {
		t.Fatalf("state info = %+v", st)
	}
}

// missingStore reports the collection as gone, as after an external wipe.
type missingStore struct{ nopCloseStore }

func (missingStore) Count(context.Context, string) (int, error) {
	return 0, semantic.ErrCollectionNotFound
}

func TestStats_ReportsErrors(t *testing.T) {
	svc := newService(t, Deps{})
	broken := newService(t, Deps{Store: missingStore{nopCloseStore{svc.store}}})
	st := broken.Stats(context.Background())
	if st.Error == "" || st.TotalTickets != 0 {
		t.Fatalf("expected error field, got %+v", st)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(context.Background(), Deps{}, testOptions()); err == nil {
		t.Fatal("expected error without encoder and store")
	}
}

func TestNewSearchResult_Defaults(t *testing.T) {
	r := newSearchResult(semantic.Match{ID: "ticket_x"}, 0.5)
	if r.TicketID != "unknown" || r.Subject != "No subject" || r.Description != "No description" ||
		r.Resolution != "No resolution" || r.CombinedText != "No text" || r.CustomerSatisfaction != "" {
		t.Fatalf("defaults not applied: %+v", r)
	}
}
