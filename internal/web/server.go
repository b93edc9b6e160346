package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trident-re/mailroom/internal/config"
	"github.com/trident-re/mailroom/internal/pipeline"
	"github.com/trident-re/mailroom/internal/property"
	"github.com/trident-re/mailroom/internal/queue"
	"github.com/trident-re/mailroom/internal/respond"
)

const (
	defaultRateLimit  = 30
	defaultRateWindow = time.Minute
	defaultListLimit  = 100
)

// RateLimiter throttles requests per client address with a sliding window
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) filterRecent(times []time.Time, windowStart time.Time) []time.Time {
	n := 0
	for _, t := range times {
		if t.After(windowStart) {
			times[n] = t
			n++
		}
	}
	return times[:n]
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := rl.filterRecent(rl.requests[key], now.Add(-rl.window))

	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		windowStart := time.Now().Add(-rl.window)
		for key, times := range rl.requests {
			recent := rl.filterRecent(times, windowStart)
			if len(recent) == 0 {
				delete(rl.requests, key)
			} else {
				rl.requests[key] = recent
			}
		}
		rl.mu.Unlock()
	}
}

// Server is the JSON control surface consumed by the dashboard. It only
// binds to loopback; the dashboard proxies it.
type Server struct {
	config      *config.Config
	queue       *queue.Store
	props       *property.Store
	orch        *pipeline.Orchestrator
	dispatcher  *respond.Dispatcher
	rateLimiter *RateLimiter
	httpServer  *http.Server
	port        int
}

func NewServer(cfg *config.Config, qs *queue.Store, ps *property.Store, orch *pipeline.Orchestrator, dispatcher *respond.Dispatcher) *Server {
	return &Server{
		config:      cfg,
		queue:       qs,
		props:       ps,
		orch:        orch,
		dispatcher:  dispatcher,
		rateLimiter: NewRateLimiter(defaultRateLimit, defaultRateWindow),
		port:        cfg.Admin.Port,
	}
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("[web] admin API listening on http://127.0.0.1:%d", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.throttle)

	r.Route("/api", func(r chi.Router) {
		r.Post("/pipeline/start", s.handleStart)
		r.Post("/pipeline/stop", s.handleStop)
		r.Get("/pipeline/status", s.handleStatus)

		r.Get("/queue", s.handleQueueList)
		r.Get("/queue/{emailID}", s.handleQueueDetail)
		r.Post("/queue/{emailID}/reprocess", s.handleReprocess)
		r.Post("/queue/{emailID}/assign", s.handleAssign)

		r.Get("/stats", s.handleStats)

		r.Get("/documents/{docID}", s.handleDocumentDownload)

		r.Get("/drafts", s.handleDraftList)
		r.Post("/drafts/{draftID}/approve", s.handleDraftApprove)
		r.Post("/drafts/{draftID}/discard", s.handleDraftDiscard)
	})

	return r
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.rateLimiter.Allow(host) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[web] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ==================== pipeline control ====================

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	started := s.orch.Start()
	writeJSON(w, http.StatusOK, map[string]bool{"running": true, "started": started})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.orch.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false, "stopped": stopped})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":    s.orch.Running(),
		"last_cycle": s.orch.LastCycle(),
	})
}

// ==================== queue ====================

type queueItem struct {
	ID              int64   `json:"id"`
	From            string  `json:"from"`
	Subject         string  `json:"subject"`
	ReceivedAt      string  `json:"received_at"`
	Status          string  `json:"status"`
	Error           string  `json:"error,omitempty"`
	PropertyID      string  `json:"property_id,omitempty"`
	MatchConfidence float64 `json:"match_confidence,omitempty"`
	MatchMethod     string  `json:"match_method,omitempty"`
	NeedsReview     bool    `json:"needs_review,omitempty"`
	DocumentsSaved  int     `json:"documents_saved"`
	TasksCreated    int     `json:"tasks_created"`
	EventsCreated   int     `json:"events_created"`
	NotesAdded      int     `json:"notes_added"`
	ResponseSent    bool    `json:"response_sent"`
}

func toQueueItem(r *queue.EmailRecord) queueItem {
	item := queueItem{
		ID:             r.ID,
		From:           r.From,
		Subject:        r.Subject,
		ReceivedAt:     r.ReceivedAt.Format(time.RFC3339),
		Status:         string(r.Status),
		Error:          r.Error,
		PropertyID:     r.PropertyID,
		MatchMethod:    string(r.MatchMethod),
		NeedsReview:    r.NeedsReview,
		DocumentsSaved: r.DocumentsSaved,
		TasksCreated:   r.TasksCreated,
		EventsCreated:  r.EventsCreated,
		NotesAdded:     r.NotesAdded,
		ResponseSent:   r.ResponseSent,
	}
	if r.MatchConfidence.Valid {
		item.MatchConfidence = r.MatchConfidence.Float64
	}
	return item
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	status := queue.Status(r.URL.Query().Get("status"))
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.queue.ListEmails(status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]queueItem, 0, len(records))
	for i := range records {
		items = append(items, toQueueItem(&records[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": items})
}

func (s *Server) emailFromPath(w http.ResponseWriter, r *http.Request) *queue.EmailRecord {
	id, err := strconv.ParseInt(chi.URLParam(r, "emailID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email id")
		return nil
	}
	rec, err := s.queue.GetEmail(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "email not found")
		return nil
	}
	return rec
}

func (s *Server) handleQueueDetail(w http.ResponseWriter, r *http.Request) {
	rec := s.emailFromPath(w, r)
	if rec == nil {
		return
	}

	docs, err := s.queue.ListDocumentsByEmail(rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	artifacts, err := s.queue.ListArtifacts(rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type docItem struct {
		ID         int64   `json:"id"`
		Filename   string  `json:"filename"`
		MimeType   string  `json:"mime_type"`
		SizeBytes  int64   `json:"size_bytes"`
		FileHash   string  `json:"file_hash"`
		DocType    string  `json:"doc_type,omitempty"`
		Confidence float64 `json:"confidence,omitempty"`
		PageStart  int     `json:"page_start,omitempty"`
		PageEnd    int     `json:"page_end,omitempty"`
		Duplicate  bool    `json:"duplicate,omitempty"`
		FiledDocID string  `json:"filed_doc_id,omitempty"`
	}
	docItems := make([]docItem, 0, len(docs))
	for _, d := range docs {
		docItems = append(docItems, docItem{
			ID: d.ID, Filename: d.Filename, MimeType: d.MimeType,
			SizeBytes: d.SizeBytes, FileHash: d.FileHash, DocType: d.DocType,
			Confidence: d.Confidence, PageStart: d.PageStart, PageEnd: d.PageEnd,
			Duplicate: d.Duplicate, FiledDocID: d.FiledDocID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"email":           toQueueItem(rec),
		"classify_reason": rec.ClassifyReason,
		"match_detail":    rec.MatchDetail,
		"documents":       docItems,
		"artifacts":       artifacts,
	})
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	rec := s.emailFromPath(w, r)
	if rec == nil {
		return
	}

	if err := s.orch.Reprocess(r.Context(), rec.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	fresh, err := s.queue.GetEmail(rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"email": toQueueItem(fresh)})
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	rec := s.emailFromPath(w, r)
	if rec == nil {
		return
	}

	var body struct {
		PropertyID string `json:"property_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PropertyID == "" {
		writeError(w, http.StatusBadRequest, "property_id is required")
		return
	}

	if err := s.orch.AssignProperty(r.Context(), rec.ID, body.PropertyID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	fresh, err := s.queue.GetEmail(rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"email": toQueueItem(fresh)})
}

// ==================== stats ====================

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 0 {
			writeError(w, http.StatusBadRequest, "invalid since_hours")
			return
		}
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	stats, err := s.queue.Stats(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"by_status":  stats,
		"running":    s.orch.Running(),
		"last_cycle": s.orch.LastCycle(),
	})
}

// ==================== documents ====================

// handleDocumentDownload streams a filed document's binary payload
func (s *Server) handleDocumentDownload(w http.ResponseWriter, r *http.Request) {
	doc, err := s.props.GetFiledDocument(chi.URLParam(r, "docID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Content)))
	w.Write(doc.Content)
}

// ==================== drafts ====================

func (s *Server) handleDraftList(w http.ResponseWriter, r *http.Request) {
	status := queue.DraftStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = queue.DraftPending
	}

	drafts, err := s.queue.ListDrafts(status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

func (s *Server) draftFromPath(w http.ResponseWriter, r *http.Request) *queue.Draft {
	draft, err := s.queue.GetDraft(chi.URLParam(r, "draftID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if draft == nil {
		writeError(w, http.StatusNotFound, "draft not found")
		return nil
	}
	return draft
}

func (s *Server) handleDraftApprove(w http.ResponseWriter, r *http.Request) {
	draft := s.draftFromPath(w, r)
	if draft == nil {
		return
	}
	if draft.Status != queue.DraftPending {
		writeError(w, http.StatusConflict, fmt.Sprintf("draft is %s", draft.Status))
		return
	}

	if err := s.dispatcher.SendDraft(r.Context(), draft); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(queue.DraftApproved)})
}

func (s *Server) handleDraftDiscard(w http.ResponseWriter, r *http.Request) {
	draft := s.draftFromPath(w, r)
	if draft == nil {
		return
	}
	if draft.Status != queue.DraftPending {
		writeError(w, http.StatusConflict, fmt.Sprintf("draft is %s", draft.Status))
		return
	}

	if err := s.queue.SetDraftStatus(draft.ID, queue.DraftDiscarded); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(queue.DraftDiscarded)})
}
