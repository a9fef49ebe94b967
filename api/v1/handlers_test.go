package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartshieldai-idps/ddosguard/internal/detection/ml"
	"github.com/smartshieldai-idps/ddosguard/internal/models"
	"github.com/smartshieldai-idps/ddosguard/internal/monitoring"
	"github.com/smartshieldai-idps/ddosguard/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockPredictor struct{ mock.Mock }

func (m *mockPredictor) Predict(ctx context.Context, req models.PredictRequest) (*models.PredictResponse, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*models.PredictResponse)
	return resp, args.Error(1)
}

type mockAdmin struct{ mock.Mock }

func (m *mockAdmin) Reload() (*ml.ModelInfo, error) {
	args := m.Called()
	info, _ := args.Get(0).(*ml.ModelInfo)
	return info, args.Error(1)
}

func (m *mockAdmin) GetStats() *ml.ModelInfo {
	info, _ := m.Called().Get(0).(*ml.ModelInfo)
	return info
}

type mockLogs struct{ mock.Mock }

func (m *mockLogs) QueryLogs(ctx context.Context, f models.LogFilter) ([]models.DetectionLog, error) {
	args := m.Called(f)
	logs, _ := args.Get(0).([]models.DetectionLog)
	return logs, args.Error(1)
}

func (m *mockLogs) TrafficStats(ctx context.Context) ([]models.TimeBucket, error) {
	args := m.Called()
	b, _ := args.Get(0).([]models.TimeBucket)
	return b, args.Error(1)
}

func (m *mockLogs) RiskStats(ctx context.Context) ([]models.TimeBucket, error) {
	args := m.Called()
	b, _ := args.Get(0).([]models.TimeBucket)
	return b, args.Error(1)
}

func (m *mockLogs) AttackTypeStats(ctx context.Context) ([]models.AttackCount, error) {
	args := m.Called()
	c, _ := args.Get(0).([]models.AttackCount)
	return c, args.Error(1)
}

func (m *mockLogs) MapData(ctx context.Context) ([]models.MapPoint, error) {
	args := m.Called()
	p, _ := args.Get(0).([]models.MapPoint)
	return p, args.Error(1)
}

type mockExplainer struct{ mock.Mock }

func (m *mockExplainer) Explain(features ml.FeatureVector) (*ml.Explanation, error) {
	args := m.Called(features)
	exp, _ := args.Get(0).(*ml.Explanation)
	return exp, args.Error(1)
}

type fakeEvents struct {
	ch     chan []byte
	recent []*models.DetectionLog
}

func (f *fakeEvents) Subscribe(ctx context.Context) (<-chan []byte, error) { return f.ch, nil }

func (f *fakeEvents) GetRecent(ctx context.Context, since time.Duration) ([]*models.DetectionLog, error) {
	return f.recent, nil
}

type testAPI struct {
	router    *gin.Engine
	predictor *mockPredictor
	admin     *mockAdmin
	logs      *mockLogs
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	api := &testAPI{
		router:    gin.New(),
		predictor: new(mockPredictor),
		admin:     new(mockAdmin),
		logs:      new(mockLogs),
	}
	if opts.Logs == nil {
		opts.Logs = api.logs
	}
	NewHandler(api.predictor, api.admin, zap.NewNop(), opts).RegisterRoutes(api.router)
	return api
}

func (a *testAPI) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestPredict_Success(t *testing.T) {
	api := newTestAPI(t, Options{})
	port := 80
	api.predictor.On("Predict", models.PredictRequest{
		Features: []float64{1, 2, 3},
		SrcIP:    "1.2.3.4",
		DstPort:  &port,
	}).Return(&models.PredictResponse{
		AttackType: "Syn (0.91)",
		Confidence: 0.97,
		RiskScore:  86.5,
		Guide:      "guide",
		Country:    "South Korea",
	}, nil)

	w := api.do(http.MethodPost, "/api/v1/predict/ddos", `{"features":[1,2,3],"src_ip":"1.2.3.4","dst_port":80}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.PredictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Syn (0.91)", resp.AttackType)
	assert.Equal(t, 86.5, resp.RiskScore)
	api.predictor.AssertExpectations(t)
}

func TestPredict_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"Mismatch", &ml.FeatureCountMismatchError{Expected: 17, Got: 3}, http.StatusBadRequest, `"expected":17`},
		{"InvalidValue", fmt.Errorf("%w: feature 4 is NaN", ml.ErrInvalidFeatureValue), http.StatusBadRequest, "invalid feature value"},
		{"ModelUnavailable", ml.ErrModelUnavailable, http.StatusServiceUnavailable, "model unavailable"},
		{"Deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "cancelled"},
		{"Other", errors.New("boom"), http.StatusInternalServerError, "prediction failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, Options{})
			api.predictor.On("Predict", mock.Anything).Return(nil, tt.err)

			w := api.do(http.MethodPost, "/api/v1/predict/ddos", `{"features":[1,2,3]}`)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestPredict_BadRequests(t *testing.T) {
	api := newTestAPI(t, Options{MaxRequestSize: 64})

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/v1/predict/ddos", `{"src_ip":"1.2.3.4"}`).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/v1/predict/ddos", `{"features":`).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/v1/predict/ddos",
		`{"features":[`+strings.Repeat("1,", 100)+`1]}`).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict/ddos", strings.NewReader(`{"features":[1]}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	api.predictor.AssertNotCalled(t, "Predict", mock.Anything)
}

func TestExplain(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		explainer := new(mockExplainer)
		explainer.On("Explain", ml.FeatureVector{1, 2, 3}).Return(&ml.Explanation{
			IsAttack:   true,
			Confidence: 0.95,
			Summary:    "High confidence detection (95.0% confidence). Key factors: flow_duration (100.0% contribution)",
			Importance: []ml.FeatureImportance{{Index: 0, Name: "flow_duration", Share: 1, TowardAttack: true}},
		}, nil)
		api := newTestAPI(t, Options{Explainer: explainer})

		w := api.do(http.MethodPost, "/api/v1/explain/ddos", `{"features":[1,2,3]}`)
		require.Equal(t, http.StatusOK, w.Code)

		var exp ml.Explanation
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exp))
		assert.Equal(t, "flow_duration", exp.Importance[0].Name)
		explainer.AssertExpectations(t)
	})

	t.Run("Unsupported", func(t *testing.T) {
		explainer := new(mockExplainer)
		explainer.On("Explain", mock.Anything).Return(nil, ml.ErrExplanationUnsupported)
		api := newTestAPI(t, Options{Explainer: explainer})

		w := api.do(http.MethodPost, "/api/v1/explain/ddos", `{"features":[1,2,3]}`)
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})

	t.Run("Mismatch", func(t *testing.T) {
		explainer := new(mockExplainer)
		explainer.On("Explain", mock.Anything).Return(nil, &ml.FeatureCountMismatchError{Expected: 17, Got: 3})
		api := newTestAPI(t, Options{Explainer: explainer})

		w := api.do(http.MethodPost, "/api/v1/explain/ddos", `{"features":[1,2,3]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), `"got":3`)
	})

	t.Run("NotConfigured", func(t *testing.T) {
		api := newTestAPI(t, Options{})
		w := api.do(http.MethodPost, "/api/v1/explain/ddos", `{"features":[1,2,3]}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestReloadModel(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		api := newTestAPI(t, Options{})
		api.admin.On("Reload").Return(&ml.ModelInfo{Version: "1.1.0", Arity: 17}, nil)

		w := api.do(http.MethodPost, "/api/v1/admin/reload-model", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"version":"1.1.0"`)
	})

	t.Run("FailureKeepsActive", func(t *testing.T) {
		api := newTestAPI(t, Options{})
		api.admin.On("Reload").Return(nil, fmt.Errorf("%w: no classes", ml.ErrModelUnavailable))
		api.admin.On("GetStats").Return(&ml.ModelInfo{Version: "1.0.0"})

		w := api.do(http.MethodPost, "/api/v1/admin/reload-model", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), `"version":"1.0.0"`)
	})

	t.Run("RequiresToken", func(t *testing.T) {
		api := newTestAPI(t, Options{AdminToken: "s3cret"})
		api.admin.On("Reload").Return(&ml.ModelInfo{Version: "1.1.0"}, nil)

		assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/api/v1/admin/reload-model", "").Code)
		assert.Equal(t, http.StatusOK,
			api.do(http.MethodPost, "/api/v1/admin/reload-model", "", "Authorization", "Bearer s3cret").Code)
	})
}

func TestModelInfo(t *testing.T) {
	api := newTestAPI(t, Options{})
	api.admin.On("GetStats").Return(&ml.ModelInfo{Version: "1.0.0", Arity: 17, Classes: []string{"Syn"}})

	w := api.do(http.MethodGet, "/api/v1/model", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"arity":17`)
}

func TestLogs(t *testing.T) {
	api := newTestAPI(t, Options{})
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	minRisk := 70.0
	api.logs.On("QueryLogs", models.LogFilter{
		AttackType: "Syn (0.91)",
		MinRisk:    &minRisk,
		Start:      &start,
		Limit:      10,
	}).Return([]models.DetectionLog{{SrcIP: "1.2.3.4", RiskScore: 86.5}}, nil)

	w := api.do(http.MethodGet, "/api/v1/logs?attack_type=Syn+(0.91)&min_risk=70&start=2024-05-01T00:00:00Z&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"src_ip":"1.2.3.4"`)
	api.logs.AssertExpectations(t)
}

func TestLogs_BadParameters(t *testing.T) {
	api := newTestAPI(t, Options{})
	api.logs.On("QueryLogs", mock.Anything).Return(nil, fmt.Errorf("%w: limit must be between 1 and 500", store.ErrInvalidFilter))

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/v1/logs?limit=ten", "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/v1/logs?min_risk=high", "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/v1/logs?start=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/v1/logs?limit=1000", "").Code)
}

func TestStats(t *testing.T) {
	api := newTestAPI(t, Options{})
	minute := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	api.logs.On("TrafficStats").Return([]models.TimeBucket{{Minute: minute, Value: 42}}, nil)
	api.logs.On("RiskStats").Return([]models.TimeBucket{{Minute: minute, Value: 61.25}}, nil)
	api.logs.On("AttackTypeStats").Return([]models.AttackCount{{AttackType: "Syn (0.91)", Count: 3}}, nil)
	api.logs.On("MapData").Return(nil, errors.New("connection reset"))

	w := api.do(http.MethodGet, "/api/v1/stats/traffic", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":42`)

	w = api.do(http.MethodGet, "/api/v1/stats/risk", "")
	assert.Contains(t, w.Body.String(), `"avg_risk":61.25`)

	w = api.do(http.MethodGet, "/api/v1/stats/by-attack", "")
	assert.Contains(t, w.Body.String(), `"count":3`)

	w = api.do(http.MethodGet, "/api/v1/mapdata", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestQueriesWithoutStorage(t *testing.T) {
	api := &testAPI{router: gin.New(), predictor: new(mockPredictor), admin: new(mockAdmin)}
	NewHandler(api.predictor, api.admin, zap.NewNop(), Options{}).RegisterRoutes(api.router)

	for _, path := range []string{"/api/v1/logs", "/api/v1/stats/traffic", "/api/v1/mapdata", "/api/v1/ws"} {
		assert.Equal(t, http.StatusServiceUnavailable, api.do(http.MethodGet, path, "").Code, path)
	}
}

func TestHealth(t *testing.T) {
	checker := monitoring.NewHealthChecker(func() *monitoring.ModelStatus { return nil })
	api := newTestAPI(t, Options{Health: checker})

	w := api.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), monitoring.StatusUnhealthy)
}

func TestStream(t *testing.T) {
	events := &fakeEvents{
		ch: make(chan []byte, 1),
		recent: []*models.DetectionLog{
			{AttackType: "newer"},
			{AttackType: "older"},
		},
	}
	api := newTestAPI(t, Options{Events: events})

	srv := httptest.NewServer(api.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first, second models.DetectionLog
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "older", first.AttackType)
	assert.Equal(t, "newer", second.AttackType)

	events.ch <- []byte(`{"attack_type":"live"}`)
	var live models.DetectionLog
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, "live", live.AttackType)
}
