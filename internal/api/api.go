// Package api serves the stored enrichment results as read-only JSON.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/legis-enrich/internal/model"
	"github.com/sells-group/legis-enrich/internal/store"
)

// Reader is the subset of store.Store the API reads from.
type Reader interface {
	Ping(ctx context.Context) error
	GetProposition(ctx context.Context, id int64) (*model.Proposition, error)
	GetCleanedText(ctx context.Context, propositionID int64) (*model.CleanedText, error)
	ListExtractions(ctx context.Context, propositionID int64) ([]model.ExtractionResult, error)
	GetTopicAssignment(ctx context.Context, propositionID int64) (*model.TopicAssignment, error)
	GetWordCloud(ctx context.Context, propositionID int64) ([]model.WordCount, error)
	TopicCounts(ctx context.Context) ([]model.TopicCount, error)
	ListBatchRuns(ctx context.Context, filter store.RunFilter) ([]model.BatchRun, error)
}

// TextView describes a proposition's cleaned text without the text body.
type TextView struct {
	Status    model.TextStatus `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	RawChars  int              `json:"raw_chars"`
	Chars     int              `json:"chars"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ExtractionView is one extraction result with its decoded payload.
type ExtractionView struct {
	Status    model.ExtractionStatus `json:"status"`
	Attempts  int                    `json:"attempts"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// PropositionView is the response of GET /propositions/{id}.
type PropositionView struct {
	model.Proposition
	Label       string                    `json:"label"`
	Text        *TextView                 `json:"text,omitempty"`
	Extractions map[string]ExtractionView `json:"extractions"`
	Topics      *model.TopicAssignment    `json:"topics,omitempty"`
	WordCloud   []model.WordCount         `json:"word_cloud,omitempty"`
}

type server struct {
	store Reader
}

// NewRouter builds the HTTP handler. allowedOrigins configures CORS for
// browser dashboards.
func NewRouter(st Reader, allowedOrigins []string) http.Handler {
	s := &server{store: st}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/propositions/{id}", s.proposition)
	r.Get("/topics", s.topics)
	r.Get("/runs", s.runs)
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) proposition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid proposition id")
		return
	}
	ctx := r.Context()

	p, err := s.store.GetProposition(ctx, id)
	if err != nil {
		s.internalError(w, "get proposition", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "proposition not found")
		return
	}

	view := PropositionView{
		Proposition: *p,
		Label:       p.Label(),
		Extractions: make(map[string]ExtractionView),
	}

	text, err := s.store.GetCleanedText(ctx, id)
	if err != nil {
		s.internalError(w, "get cleaned text", err)
		return
	}
	if text != nil {
		view.Text = &TextView{
			Status:    text.Status,
			Reason:    text.Reason,
			RawChars:  text.RawChars,
			Chars:     len(text.Text),
			UpdatedAt: text.UpdatedAt,
		}
	}

	results, err := s.store.ListExtractions(ctx, id)
	if err != nil {
		s.internalError(w, "list extractions", err)
		return
	}
	for _, res := range results {
		view.Extractions[string(res.Kind)] = ExtractionView{
			Status:    res.Status,
			Attempts:  res.Attempts,
			Payload:   res.Payload,
			LastError: res.LastError,
			UpdatedAt: res.UpdatedAt,
		}
	}

	if view.Topics, err = s.store.GetTopicAssignment(ctx, id); err != nil {
		s.internalError(w, "get topics", err)
		return
	}
	if view.WordCloud, err = s.store.GetWordCloud(ctx, id); err != nil {
		s.internalError(w, "get word cloud", err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *server) topics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.TopicCounts(r.Context())
	if err != nil {
		s.internalError(w, "topic counts", err)
		return
	}
	if counts == nil {
		counts = []model.TopicCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *server) runs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Stage:  model.Stage(q.Get("stage")),
		Status: model.RunStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	runs, err := s.store.ListBatchRuns(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []model.BatchRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}
