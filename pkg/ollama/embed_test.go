package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BanglaVai/ticketrag/pkg/resilience"
)

func fakeOllama(t *testing.T, calls *atomic.Int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/embeddings" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req ollamaEmbedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if status != http.StatusOK {
			http.Error(w, "model not found", status)
			return
		}
		// Length of the prompt in the first slot keeps outputs distinct.
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{float64(len(req.Prompt)), 1, 0}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEncode_ProbesAndEmbeds(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOllama(t, &calls, http.StatusOK)
	c := NewEmbedClient(srv.URL, "test-model")

	vecs, err := c.Encode(context.Background(), []string{"hello", "  ", "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Dimension() != 3 {
		t.Fatalf("dimension = %d", c.Dimension())
	}
	if vecs[0][0] != 5 || vecs[2][0] != 2 {
		t.Fatalf("unexpected vectors %v", vecs)
	}
	for _, v := range vecs[1] {
		if v != 0 {
			t.Fatalf("blank text should give zero vector, got %v", vecs[1])
		}
	}
	// probe + two non-blank texts
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
	if c.ModelName() != "ollama/test-model" {
		t.Fatal(c.ModelName())
	}
}

func TestEncode_StatusError(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOllama(t, &calls, http.StatusNotFound)
	c := NewEmbedClient(srv.URL, "missing")
	if _, err := c.Probe(context.Background()); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestEncode_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOllama(t, &calls, http.StatusInternalServerError)
	b := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	c := NewEmbedClient(srv.URL, "m", WithBreaker(b))

	c.Probe(context.Background())
	c.Probe(context.Background())
	_, err := c.Probe(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("open breaker should stop requests, calls=%d", calls.Load())
	}
}

func TestNewEmbedClient_Defaults(t *testing.T) {
	c := NewEmbedClient("", "", WithTimeout(time.Second))
	if c.baseURL != DefaultURL || c.model != DefaultModel || c.client.Timeout != time.Second {
		t.Fatalf("unexpected defaults: %s %s %v", c.baseURL, c.model, c.client.Timeout)
	}
}
