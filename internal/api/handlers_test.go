package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/metrics"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/service"
	"github.com/hedge-snapshots/internal/types"
)

var today = time.Date(2024, 3, 10, 15, 4, 0, 0, time.UTC)

type fakeHistory struct {
	accounts  []*models.AccountSnapshot
	stats     *service.SummaryStats
	series    []service.VariancePoint
	chainLen  int
	err       error
	gotFrom   time.Time
	gotTo     time.Time
	gotEntity string
}

func (f *fakeHistory) AccountSnapshots(_ context.Context, id string, from, to time.Time) ([]*models.AccountSnapshot, error) {
	f.gotEntity, f.gotFrom, f.gotTo = id, from, to
	return f.accounts, f.err
}

func (f *fakeHistory) CompanySnapshots(_ context.Context, id string, from, to time.Time) ([]*models.CompanySnapshot, error) {
	f.gotEntity, f.gotFrom, f.gotTo = id, from, to
	return nil, f.err
}

func (f *fakeHistory) AccountSummaryStats(_ context.Context, id string, from, to time.Time) (*service.SummaryStats, error) {
	f.gotEntity, f.gotFrom, f.gotTo = id, from, to
	return f.stats, f.err
}

func (f *fakeHistory) VarianceSeries(_ context.Context, id string, from, to time.Time) ([]service.VariancePoint, error) {
	return f.series, f.err
}

func (f *fakeHistory) VerifyAccountChain(_ context.Context, id string) (int, error) {
	return f.chainLen, f.err
}

func (f *fakeHistory) VerifyCompanyChain(_ context.Context, id string) (int, error) {
	return f.chainLen, f.err
}

type fakeRunner struct {
	summary      *service.RunSummary
	err          error
	gotRef       time.Time
	gotCompanies []string
	gotAccount   string
}

func (f *fakeRunner) Run(_ context.Context, refDate time.Time, companyIDs []string) (*service.RunSummary, error) {
	f.gotRef, f.gotCompanies = refDate, companyIDs
	return f.summary, f.err
}

func (f *fakeRunner) RedoAccountRange(_ context.Context, accountID string, from, to time.Time) (*service.RunSummary, error) {
	f.gotAccount = accountID
	return f.summary, f.err
}

func createTestServer(history HistoryReader, runner SnapshotRunner, checks map[string]HealthCheck) *Server {
	s := NewServer(&ServerConfig{Host: "127.0.0.1", Port: "0", RequestsPerSec: 1000, Burst: 1000}, history, runner, checks, nil)
	s.now = func() time.Time { return today }
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	ok := createTestServer(&fakeHistory{}, nil, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	w := serve(ok, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	down := createTestServer(&fakeHistory{}, nil, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	w = serve(down, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "ok", body.Dependencies["postgres"])
	assert.Equal(t, "connection refused", body.Dependencies["redis"])
}

func TestAccountSnapshots_NaNMarginIsNull(t *testing.T) {
	h := &fakeHistory{accounts: []*models.AccountSnapshot{
		{AccountID: "a1", SnapshotTime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Margin: math.NaN()},
		{AccountID: "a1", SnapshotTime: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Margin: 12.5},
	}}
	s := createTestServer(h, nil, nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/a1/snapshots?from=2024-03-01&to=2024-03-02", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Snapshots []map[string]interface{} `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Snapshots, 2)
	assert.Nil(t, body.Snapshots[0]["margin"])
	assert.Equal(t, 12.5, body.Snapshots[1]["margin"])

	assert.Equal(t, "a1", h.gotEntity)
	assert.True(t, h.gotFrom.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, h.gotTo.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))
}

func TestAccountSnapshots_DefaultRange(t *testing.T) {
	h := &fakeHistory{}
	s := createTestServer(h, nil, nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/companies/c1/snapshots", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.gotTo.Equal(types.StartOfDay(today)))
	assert.True(t, h.gotFrom.Equal(types.StartOfDay(today).AddDate(0, 0, -defaultRangeDays)))
}

func TestInvalidDate(t *testing.T) {
	s := createTestServer(&fakeHistory{}, nil, nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/a1/summary?from=03/01/2024", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeInvalidParameter, decodeError(t, w).Code)
}

func TestAccountSummary(t *testing.T) {
	h := &fakeHistory{stats: &service.SummaryStats{AccountID: "a1", MarginStart: 40, MarginEnd: math.NaN(), RollCosts: -4}}
	s := createTestServer(h, nil, nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/a1/summary?from=2024-03-01&to=2024-03-03", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 40.0, body["marginStart"])
	assert.Nil(t, body["marginEnd"])
	assert.Equal(t, -4.0, body["rollCosts"])
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
		code   string
	}{
		{
			name:   "too few snapshots",
			path:   "/api/v1/accounts/a1/summary",
			err:    apperrors.NewNotFoundError("snapshots", "a1"),
			status: http.StatusNotFound,
			code:   apperrors.CodeNotFound,
		},
		{
			name:   "broken chain",
			path:   "/api/v1/accounts/a1/chain",
			err:    apperrors.NewChainBrokenError(types.EntityKey{Kind: types.EntityAccount, ID: "a1"}, "gap"),
			status: http.StatusConflict,
			code:   apperrors.CodeChainBroken,
		},
		{
			name:   "unexpected",
			path:   "/api/v1/companies/c1/chain",
			err:    errors.New("pool exhausted"),
			status: http.StatusInternalServerError,
			code:   ErrCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestServer(&fakeHistory{err: tt.err}, nil, nil)
			w := serve(s, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			svcErr := decodeError(t, w)
			assert.Equal(t, tt.code, svcErr.Code)
			assert.NotContains(t, svcErr.Message, "pool exhausted")
		})
	}
}

func TestVerifyChain(t *testing.T) {
	s := createTestServer(&fakeHistory{chainLen: 3}, nil, nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/a1/chain", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body chainVerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, chainVerifyResponse{Entity: "account", ID: "a1", Length: 3, Valid: true}, body)
}

func TestRun(t *testing.T) {
	runner := &fakeRunner{summary: &service.RunSummary{
		RunID: "r1",
		Results: []service.EntityResult{
			{Entity: types.EntityKey{Kind: types.EntityAccount, ID: "a1"}, Outcome: metrics.OutcomeCreated},
			{Entity: types.EntityKey{Kind: types.EntityCompany, ID: "c1"}, Outcome: metrics.OutcomeCreated},
			{Entity: types.EntityKey{Kind: types.EntityAccount, ID: "a2"}, Outcome: metrics.OutcomeFailed, Error: "boom"},
		},
	}}
	s := createTestServer(&fakeHistory{}, runner, nil)

	body, _ := json.Marshal(map[string]interface{}{"date": "2024-03-05", "companies": []string{"c1"}})
	w := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.True(t, runner.gotRef.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{"c1"}, runner.gotCompanies)

	var resp struct {
		RunID   string `json:"runId"`
		Created int    `json:"created"`
		Failed  int    `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp.RunID)
	assert.Equal(t, 2, resp.Created)
	assert.Equal(t, 1, resp.Failed)
}

func TestRun_DefaultsToToday(t *testing.T) {
	runner := &fakeRunner{summary: &service.RunSummary{}}
	s := createTestServer(&fakeHistory{}, runner, nil)

	w := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, runner.gotRef.Equal(types.StartOfDay(today)))
	assert.Nil(t, runner.gotCompanies)
}

func TestRun_Disabled(t *testing.T) {
	s := createTestServer(&fakeHistory{}, nil, nil)
	w := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRun_InvalidJSON(t *testing.T) {
	s := createTestServer(&fakeHistory{}, &fakeRunner{}, nil)
	w := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader([]byte("invalid json"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrCodeInvalidInput, decodeError(t, w).Code)
}

func TestRedoAccount(t *testing.T) {
	runner := &fakeRunner{summary: &service.RunSummary{Results: []service.EntityResult{
		{Outcome: metrics.OutcomeReplaced}, {Outcome: metrics.OutcomeReplaced},
	}}}
	s := createTestServer(&fakeHistory{}, runner, nil)

	body := []byte(`{"from":"2024-03-01","to":"2024-03-02"}`)
	w := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/a1/redo", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "a1", runner.gotAccount)

	var resp struct {
		Replaced int `json:"replaced"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Replaced)

	backwards := []byte(`{"from":"2024-03-05","to":"2024-03-02"}`)
	w = serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/a1/redo", bytes.NewReader(backwards)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimit(t *testing.T) {
	s := NewServer(&ServerConfig{RequestsPerSec: 1, Burst: 2}, &fakeHistory{}, nil, nil, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/a1/chain", nil)
		req.Header.Set("X-Client-ID", "ops")
		codes = append(codes, serve(s, req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/a1/chain", nil)
	other.Header.Set("X-Client-ID", "someone-else")
	assert.Equal(t, http.StatusOK, serve(s, other).Code)

	// health is outside the limited subrouter
	assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestCompression(t *testing.T) {
	s := createTestServer(&fakeHistory{chainLen: 1}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/a1/chain", nil)
	req.Header.Set("Accept-Encoding", "br, gzip;q=0.8")
	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var body chainVerifyResponse
	require.NoError(t, json.NewDecoder(gz).Decode(&body))
	assert.Equal(t, 1, body.Length)
}

func TestRequestIDEchoed(t *testing.T) {
	s := createTestServer(&fakeHistory{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	assert.Equal(t, "req-42", serve(s, req).Header().Get("X-Request-ID"))
}
