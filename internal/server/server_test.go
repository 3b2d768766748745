package server

import (
	"context"
	"dqaudit/internal/audit"
	"dqaudit/internal/dataset"
	"dqaudit/internal/engine"
	"dqaudit/internal/rules"
	"dqaudit/internal/sla"
	"dqaudit/internal/trend"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var batchTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRule struct{ name string }

func (r fakeRule) Name() string        { return r.name }
func (r fakeRule) Title() string       { return strings.ToUpper(r.name) }
func (r fakeRule) Description() string { return "" }
func (r fakeRule) Evaluate(ctx context.Context, snap dataset.Snapshot) (int64, error) {
	return 0, nil
}

type fakeBackend struct {
	evaluations map[string]engine.Evaluation
	executed    []string
	executeErr  error
	history     map[string][]audit.Record
	series      map[string]trend.Series
	trendErr    error
}

func newFakeBackend() *fakeBackend {
	maxRows := int64(0)
	latest := engine.Evaluation{
		BatchID:   "b2",
		Timestamp: batchTime,
		Verdicts: []sla.Verdict{{
			CheckName:      "duplicate_email",
			FailedRows:     12,
			MaxFailedRows:  &maxRows,
			Severity:       sla.SeverityHigh,
			Status:         sla.StatusFail,
			CheckTimestamp: batchTime,
		}},
		Summary: sla.Summary{Failed: 1},
	}
	return &fakeBackend{
		evaluations: map[string]engine.Evaluation{"": latest, "b2": latest},
		history: map[string][]audit.Record{
			"duplicate_email": {{ID: 1, BatchID: "b2", CheckName: "duplicate_email", FailedRows: 12, TotalRows: 5000, CheckTimestamp: batchTime}},
		},
		series: map[string]trend.Series{
			"duplicate_email": {CheckName: "duplicate_email", Points: []trend.Point{{Timestamp: batchTime, FailedRows: 12, TotalRows: 5000, PctFailed: 0.0024}}},
		},
	}
}

func (f *fakeBackend) Execute(ctx context.Context, selector string) (engine.Evaluation, error) {
	f.executed = append(f.executed, selector)
	if f.executeErr != nil {
		return engine.Evaluation{}, f.executeErr
	}
	if _, ok := ctx.Deadline(); !ok {
		return engine.Evaluation{}, fmt.Errorf("run context has no deadline")
	}
	return f.evaluations[""], nil
}

func (f *fakeBackend) Evaluate(ctx context.Context, batchID string) (engine.Evaluation, error) {
	ev, ok := f.evaluations[batchID]
	if !ok {
		return engine.Evaluation{}, fmt.Errorf("%w: %s", audit.ErrNotFound, batchID)
	}
	return ev, nil
}

func (f *fakeBackend) ListRules() []rules.Rule {
	return []rules.Rule{fakeRule{"duplicate_email"}, fakeRule{"missing_email"}}
}

func (f *fakeBackend) History(ctx context.Context, name string) ([]audit.Record, error) {
	return f.history[name], nil
}

func (f *fakeBackend) Batches(ctx context.Context, limit int) ([]audit.BatchInfo, error) {
	all := []audit.BatchInfo{{ID: "b2", Timestamp: batchTime, Records: 1}, {ID: "b1", Timestamp: batchTime.Add(-time.Hour), Records: 1}}
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeBackend) Trend(ctx context.Context, name string) (trend.Series, error) {
	if f.trendErr != nil {
		return trend.Series{}, f.trendErr
	}
	return f.series[name], nil
}

func (f *fakeBackend) Trends(ctx context.Context) ([]trend.Series, error) {
	return []trend.Series{f.series["duplicate_email"]}, nil
}

func (f *fakeBackend) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	h := New(newFakeBackend(), WithVersion("1.2.3")).Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestServer_Verdicts(t *testing.T) {
	h := New(newFakeBackend()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/verdicts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body struct {
		BatchID  string `json:"batch_id"`
		ExitCode int    `json:"exit_code"`
		Verdicts []struct {
			CheckName     string `json:"check_name"`
			Status        string `json:"sla_status"`
			Severity      string `json:"severity"`
			MaxFailedRows *int64 `json:"max_failed_rows"`
		} `json:"verdicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "b2", body.BatchID)
	assert.Equal(t, 1, body.ExitCode)
	require.Len(t, body.Verdicts, 1)
	assert.Equal(t, "duplicate_email", body.Verdicts[0].CheckName)
	assert.Equal(t, "FAIL", body.Verdicts[0].Status)
	assert.Equal(t, "high", body.Verdicts[0].Severity)
	require.NotNil(t, body.Verdicts[0].MaxFailedRows)
	assert.EqualValues(t, 0, *body.Verdicts[0].MaxFailedRows)
}

func TestServer_UnknownBatchIs404(t *testing.T) {
	h := New(newFakeBackend()).Handler()

	for _, target := range []string{"/api/v1/verdicts?batch=nope", "/api/v1/batches/nope"} {
		rec := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "audit batch not found", target)
	}
}

func TestServer_TriggerRun(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		body     string
		selector string
	}{
		{name: "default selection", target: "/api/v1/runs", selector: ""},
		{name: "query selection", target: "/api/v1/runs?rules=missing_email", selector: "missing_email"},
		{name: "body selection", target: "/api/v1/runs", body: `{"rules":"duplicate_email,missing_email"}`, selector: "duplicate_email,missing_email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			rec := do(t, New(b).Handler(), http.MethodPost, tt.target, tt.body)

			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			require.Len(t, b.executed, 1)
			assert.Equal(t, tt.selector, b.executed[0])
		})
	}
}

func TestServer_TriggerRunErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "bad selection", err: fmt.Errorf("%w: rule not found: x", rules.ErrInvalidRuleSet), want: http.StatusBadRequest},
		{name: "aborted", err: fmt.Errorf("%w: context canceled", engine.ErrBatchAborted), want: http.StatusServiceUnavailable},
		{name: "append failed", err: fmt.Errorf("%w: disk full", audit.ErrAppendFailed), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			b.executeErr = tt.err
			rec := do(t, New(b).Handler(), http.MethodPost, "/api/v1/runs", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := do(t, New(newFakeBackend()).Handler(), http.MethodPost, "/api/v1/runs", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Rules(t *testing.T) {
	rec := do(t, New(newFakeBackend()).Handler(), http.MethodGet, "/api/v1/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []ruleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "duplicate_email", body[0].Name)
	assert.Equal(t, "DUPLICATE_EMAIL", body[0].Title)
}

func TestServer_HistoryAndTrend(t *testing.T) {
	h := New(newFakeBackend()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/rules/duplicate_email/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []audit.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist, 1)
	assert.EqualValues(t, 12, hist[0].FailedRows)

	rec = do(t, h, http.MethodGet, "/api/v1/rules/unknown_rule/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/rules/duplicate_email/trend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var series trend.Series
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	require.Len(t, series.Points, 1)
	assert.InDelta(t, 0.0024, series.Points[0].PctFailed, 1e-12)

	rec = do(t, h, http.MethodGet, "/api/v1/trends", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_TrendWithoutTotalIs422(t *testing.T) {
	b := newFakeBackend()
	b.trendErr = fmt.Errorf("%w: duplicate_email", trend.ErrNoTotal)

	rec := do(t, New(b).Handler(), http.MethodGet, "/api/v1/rules/duplicate_email/trend", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_Batches(t *testing.T) {
	h := New(newFakeBackend()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/batches?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []audit.BatchInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "b2", list[0].ID)

	rec = do(t, h, http.MethodGet, "/api/v1/batches?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	rec := do(t, New(newFakeBackend()).Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(newFakeBackend()).ListenAndServe(ctx, "127.0.0.1:0")
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
