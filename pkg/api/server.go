package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/steward-sh/steward/pkg/approval"
	"github.com/steward-sh/steward/pkg/coordinator"
	"github.com/steward-sh/steward/pkg/orchestrator"
	"github.com/steward-sh/steward/pkg/reputation"
	"github.com/steward-sh/steward/pkg/skill"
	"github.com/steward-sh/steward/pkg/surfacing"
)

const maxBodyBytes = 1 << 20

// Server exposes the governance pipeline over HTTP.
type Server struct {
	orch     *orchestrator.Orchestrator
	coord    *coordinator.Coordinator
	ledger   *reputation.Ledger
	grants   *approval.Grants
	buffer   *surfacing.Buffer
	quiet    *surfacing.Calculator
	feedback *surfacing.FeedbackTracker
	window   surfacing.Window
	logger   *slog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(
	orch *orchestrator.Orchestrator,
	coord *coordinator.Coordinator,
	ledger *reputation.Ledger,
	grants *approval.Grants,
	buffer *surfacing.Buffer,
	quiet *surfacing.Calculator,
	feedback *surfacing.FeedbackTracker,
	window surfacing.Window,
) *Server {
	return &Server{
		orch:     orch,
		coord:    coord,
		ledger:   ledger,
		grants:   grants,
		buffer:   buffer,
		quiet:    quiet,
		feedback: feedback,
		window:   window,
		logger:   slog.Default().With("component", "api"),
	}
}

// Routes builds the handler with logging and per-IP rate limiting applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/runs", s.handleRuns)
	mux.HandleFunc("/v1/runs/reopen", s.handleReopen)
	mux.HandleFunc("/v1/briefing", s.handleBriefing)
	mux.HandleFunc("/v1/grants", s.handleGrants)
	mux.HandleFunc("/v1/feedback", s.handleFeedback)
	mux.HandleFunc("/v1/surfacing/next", s.handleSurfacingNext)
	mux.HandleFunc("/v1/quiet/override", s.handleQuietOverride)
	mux.HandleFunc("/v1/retrievals", s.handleRetrievals)
	mux.HandleFunc("/v1/status", s.handleStatus)

	limiter := NewGlobalRateLimiter(50, 100)
	return s.logRequests(limiter.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if req.Action == "" {
		WriteBadRequest(w, "action is required")
		return
	}

	result, err := s.orch.Handle(r.Context(), req)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, result)
}

type reopenRequest struct {
	ActionID        string `json:"action_id"`
	ConfidentRevert bool   `json:"confident_revert"`
}

// handleReopen cancels the provisional reward for an action whose outcome
// turned out not to hold. The reopen penalty lands immediately; a
// confident_revert claim applies the steeper revert penalty instead.
func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req reopenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if req.ActionID == "" {
		WriteBadRequest(w, "action_id is required")
		return
	}

	cancelled, err := s.ledger.ReopenAction(r.Context(), req.ActionID, req.ConfidentRevert)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, map[string]any{"cancelled": cancelled})
}

func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	briefing, err := s.coord.EnsureSessionStarted(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, briefing)
}

type grantRequest struct {
	ActionID   string `json:"action_id"`
	IssuedBy   string `json:"issued_by"`
	TTLMinutes int    `json:"ttl_minutes"`
}

func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if req.ActionID == "" || req.IssuedBy == "" {
		WriteBadRequest(w, "action_id and issued_by are required")
		return
	}
	ttl := time.Duration(req.TTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = approval.DefaultTTL
	}

	grant, err := s.grants.Issue(r.Context(), req.ActionID, req.IssuedBy, ttl)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, grant)
}

type feedbackRequest struct {
	EventID string `json:"event_id"`
	Tag     string `json:"tag"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	switch surfacing.Tag(req.Tag) {
	case surfacing.TagHelpful, surfacing.TagNeutral, surfacing.TagDistracting, surfacing.TagWrong:
	default:
		WriteBadRequest(w, "tag must be one of helpful, neutral, distracting, wrong")
		return
	}

	if err := s.feedback.Record(r.Context(), req.EventID, surfacing.Tag(req.Tag)); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "recorded"})
}

// handleSurfacingNext pops what may surface right now, honouring quiet mode.
// Every surfaced batch is counted against the frequency window.
func (s *Server) handleSurfacingNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	ctx := r.Context()
	contextText := r.URL.Query().Get("context")

	mode := s.quiet.Decide(ctx, s.ledger.GlobalScore(ctx), contextText)
	var events []surfacing.Event
	switch mode {
	case surfacing.ModeNormal:
		events = s.buffer.Pop(5, "", 0)
	case surfacing.ModeCriticalOnly:
		events = s.buffer.Pop(5, "", 90)
	case surfacing.ModeQuiet:
		// Nothing surfaces; events stay buffered.
	}

	if len(events) > 0 {
		if err := s.window.Record(ctx); err != nil {
			s.logger.WarnContext(ctx, "frequency window record failed", "error", err)
		}
	}
	writeJSON(w, map[string]any{"mode": mode, "events": events})
}

type quietOverrideRequest struct {
	Mode    string `json:"mode"`
	Minutes int    `json:"minutes"`
}

func (s *Server) handleQuietOverride(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req quietOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	mode := surfacing.Mode(req.Mode)
	switch mode {
	case surfacing.ModeNormal, surfacing.ModeQuiet, surfacing.ModeCriticalOnly:
	default:
		WriteBadRequest(w, "mode must be one of normal, quiet, critical_only")
		return
	}

	s.quiet.SetOverride(mode, time.Duration(req.Minutes)*time.Minute)
	writeJSON(w, map[string]string{"status": "set"})
}

type retrievalRequest struct {
	Source  string               `json:"source"`
	Results []skill.SearchResult `json:"results"`
}

func (s *Server) handleRetrievals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req retrievalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	reinforced := s.coord.TrackRetrieval(r.Context(), req.Results, req.Source)
	writeJSON(w, map[string]int{"reinforced": reinforced})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	ctx := r.Context()
	domains, err := s.ledger.Domains(ctx)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	pending, err := s.ledger.PendingRewards(ctx)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	unsettled := 0
	for _, reward := range pending {
		if !reward.Matured && !reward.Cancelled {
			unsettled++
		}
	}

	writeJSON(w, map[string]any{
		"global_score":     s.ledger.GlobalScore(ctx),
		"domains":          domains,
		"unsettled":        unsettled,
		"buffered_events":  s.buffer.Len(),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
