package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/config"
	"github.com/Renetatomm/renetato-s-executor/internal/keymanager"
	"github.com/Renetatomm/renetato-s-executor/internal/logger"
	"github.com/Renetatomm/renetato-s-executor/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testOwnerIP = "190.82.118.145"

// MockManager is a mock implementation of the keymanager.Manager interface.
type MockManager struct {
	mock.Mock
}

func (m *MockManager) Generate(address string) (model.KeyRecord, error) {
	args := m.Called(address)
	return args.Get(0).(model.KeyRecord), args.Error(1)
}

func (m *MockManager) Validate(token string) error {
	args := m.Called(token)
	return args.Error(0)
}

func (m *MockManager) List() []model.KeyRecord {
	args := m.Called()
	return args.Get(0).([]model.KeyRecord)
}

func (m *MockManager) Stats() keymanager.Stats {
	args := m.Called()
	return args.Get(0).(keymanager.Stats)
}

func (m *MockManager) Sweep() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockManager) PruneCooldowns() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockManager) Cooldowns() []model.RateLimitEntry {
	args := m.Called()
	return args.Get(0).([]model.RateLimitEntry)
}

func (m *MockManager) Close() {
	m.Called()
}

// stubLister returns a fixed commit listing.
type stubLister struct {
	commits []model.Commit
}

func (s stubLister) List(ctx context.Context) []model.Commit {
	return s.commits
}

func setupTestRouter(km keymanager.Manager, throttle gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(km, stubLister{commits: []model.Commit{{SHA: "cafe01"}}}, testOwnerIP, logger.Discard())
	SetupRoutes(router, handler, throttle)
	return router
}

func doRequest(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestGenerateKeyHandler(t *testing.T) {
	expiresAt := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		km := new(MockManager)
		km.On("Generate", "203.0.113.7").Return(model.KeyRecord{Token: "TOKEN", ExpiresAt: expiresAt}, nil)
		router := setupTestRouter(km, nil)

		rr := doRequest(router, http.MethodPost, "/api/keys/generate", "", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"})

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"success":true,"key":"TOKEN","expiresAt":"2025-06-02T12:00:00Z"}`, rr.Body.String())
		km.AssertExpectations(t)
	})

	t.Run("cooldown", func(t *testing.T) {
		km := new(MockManager)
		km.On("Generate", "unknown").Return(model.KeyRecord{}, &keymanager.CooldownError{Remaining: 150 * time.Second})
		router := setupTestRouter(km, nil)

		rr := doRequest(router, http.MethodPost, "/keys/generate", "", nil)

		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, "150", rr.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"success":false,"error":"Cooldown active","cooldownRemaining":3}`, rr.Body.String())
	})

	t.Run("internal error", func(t *testing.T) {
		km := new(MockManager)
		km.On("Generate", mock.Anything).Return(model.KeyRecord{}, errors.New("entropy source failed"))
		router := setupTestRouter(km, nil)

		rr := doRequest(router, http.MethodPost, "/api/keys/generate", "", nil)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.JSONEq(t, `{"success":false,"error":"Internal server error"}`, rr.Body.String())
	})
}

func TestValidateKeyHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"valid", `{"key":"K"}`, nil, http.StatusOK, `{"valid":true,"message":"Key validated successfully"}`},
		{"not found", `{"key":"K"}`, keymanager.ErrKeyNotFound, http.StatusNotFound, `{"valid":false,"error":"Invalid key"}`},
		{"already used", `{"key":"K"}`, keymanager.ErrKeyAlreadyUsed, http.StatusForbidden, `{"valid":false,"error":"Key already used"}`},
		{"expired", `{"key":"K"}`, keymanager.ErrKeyExpired, http.StatusForbidden, `{"valid":false,"error":"Key expired"}`},
		{"unexpected", `{"key":"K"}`, errors.New("boom"), http.StatusInternalServerError, `{"valid":false,"error":"Internal server error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km := new(MockManager)
			km.On("Validate", "K").Return(tt.err)
			router := setupTestRouter(km, nil)

			rr := doRequest(router, http.MethodPost, "/api/keys/validate", tt.body, nil)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
			km.AssertExpectations(t)
		})
	}

	for _, body := range []string{`{}`, `{"key":""}`, `not json`, `{"key": 12}`} {
		t.Run("bad request "+body, func(t *testing.T) {
			km := new(MockManager)
			router := setupTestRouter(km, nil)

			rr := doRequest(router, http.MethodPost, "/keys/validate", body, nil)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.JSONEq(t, `{"valid":false,"error":"Key is required"}`, rr.Body.String())
			km.AssertNotCalled(t, "Validate", mock.Anything)
		})
	}
}

func TestValidatePlainHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"valid", nil, http.StatusOK, PlainValid},
		{"not found", keymanager.ErrKeyNotFound, http.StatusNotFound, PlainInvalid},
		{"already used", keymanager.ErrKeyAlreadyUsed, http.StatusForbidden, PlainInvalid},
		{"expired", keymanager.ErrKeyExpired, http.StatusForbidden, PlainInvalid},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, PlainInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km := new(MockManager)
			km.On("Validate", "abc").Return(tt.err)
			router := setupTestRouter(km, nil)

			rr := doRequest(router, http.MethodGet, "/api/validate?key=abc", "", nil)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantBody, rr.Body.String())
			assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
		})
	}

	t.Run("missing key", func(t *testing.T) {
		km := new(MockManager)
		router := setupTestRouter(km, nil)

		rr := doRequest(router, http.MethodGet, "/validate", "", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, PlainInvalid, rr.Body.String())
		km.AssertNotCalled(t, "Validate", mock.Anything)
	})
}

func TestOwnerCheckHandler(t *testing.T) {
	router := setupTestRouter(new(MockManager), nil)

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"owner via forwarded-for", map[string]string{"X-Forwarded-For": testOwnerIP + ", 10.0.0.1"}, `{"isOwner":true,"ip":"190.82.118.145"}`},
		{"owner via real-ip", map[string]string{"X-Real-IP": testOwnerIP}, `{"isOwner":true,"ip":"190.82.118.145"}`},
		{"stranger", map[string]string{"CF-Connecting-IP": "203.0.113.7"}, `{"isOwner":false,"ip":"203.0.113.7"}`},
		{"no headers", nil, `{"isOwner":false,"ip":"unknown"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(router, http.MethodGet, "/api/owner-check", "", tt.headers)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.JSONEq(t, tt.want, rr.Body.String())
		})
	}
}

func TestCommitsAndHealth(t *testing.T) {
	router := setupTestRouter(new(MockManager), nil)

	rr := doRequest(router, http.MethodGet, "/api/commits", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	var commits []model.Commit
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &commits))
	require.Len(t, commits, 1)
	assert.Equal(t, "cafe01", commits[0].SHA)

	rr = doRequest(router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestThrottleGuardsValidateOnly(t *testing.T) {
	km := new(MockManager)
	km.On("Generate", mock.Anything).Return(model.KeyRecord{Token: "T"}, nil)
	blocked := func(c *gin.Context) {
		c.AbortWithStatus(http.StatusTooManyRequests)
	}
	router := setupTestRouter(km, blocked)

	assert.Equal(t, http.StatusTooManyRequests, doRequest(router, http.MethodGet, "/validate?key=x", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router, http.MethodPost, "/api/keys/validate", `{"key":"x"}`, nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/api/keys/generate", "", nil).Code)
	km.AssertNotCalled(t, "Validate", mock.Anything)
}

// TestKeyLifecycle runs the real KeyManager behind the routes.
func TestKeyLifecycle(t *testing.T) {
	cfg := &config.Config{Keys: config.KeysConfig{TTL: "24h", Cooldown: "5m", Length: 32}}
	km := keymanager.NewKeyManager(cfg, nil, logger.Discard())
	defer km.Close()
	router := setupTestRouter(km, nil)
	headers := map[string]string{"X-Real-IP": "198.51.100.20"}

	rr := doRequest(router, http.MethodPost, "/api/keys/generate", "", headers)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	key, _ := body["key"].(string)
	require.Len(t, key, 32)

	expiresAt, err := time.Parse(time.RFC3339Nano, body["expiresAt"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, time.Minute)

	rr = doRequest(router, http.MethodPost, "/api/keys/generate", "", headers)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, float64(5), decode(t, rr)["cooldownRemaining"])

	// Many desktop clients racing on the same key: exactly one VALID.
	const clients = 16
	var wg sync.WaitGroup
	results := make(chan string, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- doRequest(router, http.MethodGet, "/validate?key="+key, "", nil).Body.String()
		}()
	}
	wg.Wait()
	close(results)

	valid := 0
	for r := range results {
		if r == PlainValid {
			valid++
		}
	}
	assert.Equal(t, 1, valid)

	payload, _ := json.Marshal(map[string]string{"key": key})
	rr = doRequest(router, http.MethodPost, "/api/keys/validate", string(payload), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Key already used", decode(t, rr)["error"])
}
