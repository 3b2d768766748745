package server

import (
	"context"
	"dqaudit/internal/audit"
	"dqaudit/internal/engine"
	"dqaudit/internal/rules"
	"dqaudit/internal/sla"
	"dqaudit/internal/trend"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// ErrResponse is the error body of every API endpoint.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errResponse(code int, err error) *ErrResponse {
	resp := &ErrResponse{HTTPStatusCode: code, StatusText: http.StatusText(code)}
	if err != nil {
		resp.ErrorText = err.Error()
	}
	return resp
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, audit.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrInvalidRuleSet):
		return http.StatusBadRequest
	case errors.Is(err, trend.ErrNoTotal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrBatchAborted), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func renderErr(w http.ResponseWriter, r *http.Request, err error) {
	_ = render.Render(w, r, errResponse(statusFor(err), err))
}

type healthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, healthResponse{Status: "ok", Version: s.version, Timestamp: time.Now().UTC()})
}

type evaluationResponse struct {
	engine.Evaluation
	ExitCode int `json:"exit_code"`
}

func newEvaluationResponse(ev engine.Evaluation) evaluationResponse {
	if ev.Verdicts == nil {
		ev.Verdicts = []sla.Verdict{}
	}
	return evaluationResponse{Evaluation: ev, ExitCode: engine.ExitCode(ev)}
}

// verdicts evaluates the latest record per rule, or ?batch=<id>.
func (s *Server) verdicts(w http.ResponseWriter, r *http.Request) {
	ev, err := s.backend.Evaluate(r.Context(), r.URL.Query().Get("batch"))
	if err != nil {
		renderErr(w, r, err)
		return
	}
	render.JSON(w, r, newEvaluationResponse(ev))
}

type runRequest struct {
	Rules string `json:"rules"`
}

// triggerRun executes one batch. The rule selection comes from ?rules= or a
// JSON body {"rules": "a,b"}; empty selects the configured default.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	req := runRequest{Rules: r.URL.Query().Get("rules")}
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			_ = render.Render(w, r, errResponse(http.StatusBadRequest, err))
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.runTimeout)
	defer cancel()

	ev, err := s.backend.Execute(ctx, req.Rules)
	if err != nil {
		renderErr(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newEvaluationResponse(ev))
}

func (s *Server) batches(w http.ResponseWriter, r *http.Request) {
	limit := defaultBatchesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			_ = render.Render(w, r, errResponse(http.StatusBadRequest, errors.New("limit must be a non-negative integer")))
			return
		}
		limit = n
	}
	list, err := s.backend.Batches(r.Context(), limit)
	if err != nil {
		renderErr(w, r, err)
		return
	}
	if list == nil {
		list = []audit.BatchInfo{}
	}
	render.JSON(w, r, list)
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	ev, err := s.backend.Evaluate(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		renderErr(w, r, err)
		return
	}
	render.JSON(w, r, newEvaluationResponse(ev))
}

type ruleView struct {
	Name        string         `json:"name"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Options     []rules.Option `json:"options,omitempty"`
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	list := s.backend.ListRules()
	out := make([]ruleView, 0, len(list))
	for _, rule := range list {
		v := ruleView{Name: rule.Name(), Title: rule.Title(), Description: rule.Description()}
		if cr, ok := rule.(rules.ConfigurableRule); ok {
			v.Options = cr.Options()
		}
		out = append(out, v)
	}
	render.JSON(w, r, out)
}

func (s *Server) ruleHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.backend.History(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		renderErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	render.JSON(w, r, recs)
}

func (s *Server) ruleTrend(w http.ResponseWriter, r *http.Request) {
	series, err := s.backend.Trend(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		renderErr(w, r, err)
		return
	}
	if series.Points == nil {
		series.Points = []trend.Point{}
	}
	render.JSON(w, r, series)
}

func (s *Server) trends(w http.ResponseWriter, r *http.Request) {
	all, err := s.backend.Trends(r.Context())
	if err != nil {
		renderErr(w, r, err)
		return
	}
	if all == nil {
		all = []trend.Series{}
	}
	render.JSON(w, r, all)
}
