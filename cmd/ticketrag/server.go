package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BanglaVai/ticketrag/engine/domain"
	"github.com/BanglaVai/ticketrag/engine/ingest"
	"github.com/BanglaVai/ticketrag/engine/rag"
	"github.com/BanglaVai/ticketrag/pkg/config"
	"github.com/BanglaVai/ticketrag/pkg/metrics"
	"github.com/BanglaVai/ticketrag/pkg/mid"
)

// server holds the HTTP handlers of the search API.
type server struct {
	holder *rag.Holder
	corpus string
	logger *slog.Logger
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/admin/reindex", s.handleReindex)
	return mux
}

// handler wraps the routes in the middleware stack, outermost first.
func (s *server) handler(cfg config.ServerConfig, reg *metrics.Registry) http.Handler {
	return mid.Chain(s.routes(),
		mid.Recover(s.logger),
		mid.RequestID(),
		mid.Logger(s.logger),
		mid.Metrics(reg),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("ticketrag"),
		mid.RateLimit(mid.RateLimitOpts{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst}),
		mid.MaxBody(cfg.MaxBodyBytes),
	)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	mid.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"initialized": s.holder.Initialized(),
	})
}

func (s *server) service(w http.ResponseWriter, r *http.Request) (*rag.Service, bool) {
	svc, err := s.holder.Get(r.Context())
	if err != nil {
		s.logger.Error("search service unavailable", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
		mid.WriteError(w, http.StatusServiceUnavailable, "search index unavailable")
		return nil, false
	}
	return svc, true
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	st := svc.Stats(r.Context())
	st.SingletonInitialized = s.holder.Initialized()
	mid.WriteJSON(w, http.StatusOK, st)
}

// SearchRequest is the JSON body for POST /api/search. An absent
// max_results selects rag.DefaultResults; any given value is clamped.
type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults *int   `json:"max_results,omitempty"`
}

// SearchResponse is the JSON response for POST /api/search.
type SearchResponse struct {
	Query        string             `json:"query"`
	Results      []rag.SearchResult `json:"results"`
	TotalResults int                `json:"total_results"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		mid.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	k := rag.DefaultResults
	if req.MaxResults != nil {
		k = *req.MaxResults
	}
	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	results, err := svc.SearchDetailed(r.Context(), req.Query, k)
	if err != nil {
		s.logger.Error("search failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
		mid.WriteError(w, http.StatusInternalServerError, "search failed")
		return
	}
	mid.WriteJSON(w, http.StatusOK, SearchResponse{
		Query:        req.Query,
		Results:      results,
		TotalResults: len(results),
	})
}

// ReloadRequest asks for the index to be rebuilt. An empty CSVPath uses the
// configured corpus.
type ReloadRequest struct {
	CSVPath string `json:"csv_path,omitempty"`
}

// ReloadReply summarises a finished rebuild.
type ReloadReply struct {
	Collection     string  `json:"collection"`
	Source         string  `json:"source"`
	Read           int     `json:"read"`
	Dropped        int     `json:"dropped"`
	Inserted       int     `json:"inserted"`
	SkippedBatches int     `json:"skipped_batches"`
	DurationSec    float64 `json:"duration_seconds"`
}

func newReloadReply(source string, rep ingest.Report) ReloadReply {
	return ReloadReply{
		Collection:     rep.Collection,
		Source:         source,
		Read:           rep.Read,
		Dropped:        rep.Dropped,
		Inserted:       rep.Inserted,
		SkippedBatches: rep.SkippedBatches,
		DurationSec:    rep.Duration.Seconds(),
	}
}

// reload rebuilds the index. It is shared by the HTTP and NATS surfaces.
func (s *server) reload(ctx context.Context, req ReloadRequest) (ReloadReply, error) {
	path := req.CSVPath
	if path == "" {
		path = s.corpus
	}
	svc, err := s.holder.Get(ctx)
	if err != nil {
		return ReloadReply{}, err
	}
	rep, err := svc.InitializeReport(ctx, path)
	if err != nil {
		return ReloadReply{}, err
	}
	return newReloadReply(path, rep), nil
}

func (s *server) handleReindex(w http.ResponseWriter, r *http.Request) {
	var req ReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		mid.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A rebuild outlives the server's write timeout and must not stop
	// halfway when the client goes away.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})
	ctx := context.WithoutCancel(r.Context())

	reply, err := s.reload(ctx, req)
	if err != nil {
		s.logger.Error("reindex failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
		mid.WriteError(w, reloadStatus(err), err.Error())
		return
	}
	mid.WriteJSON(w, http.StatusOK, reply)
}

func reloadStatus(err error) int {
	switch {
	case errors.Is(err, rag.ErrReindexInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMissingColumn):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
