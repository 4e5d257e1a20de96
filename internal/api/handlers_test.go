package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termport/termport/internal/auth"
	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/internal/events/bus"
	"github.com/termport/termport/internal/registry"
)

const testKey = "api-test-key"

func newTestAPI(t *testing.T) (*gin.Engine, *registry.Registry, *auth.Guard) {
	t.Helper()
	log := logger.Default()

	store, err := auth.NewFileStore(t.TempDir())
	require.NoError(t, err)
	guard := auth.NewGuard(store, "api-key", log)
	require.NoError(t, guard.SetKey(testKey))

	memBus := bus.NewMemoryEventBus(log)
	reg := registry.New(100, nil, memBus, log)

	handlers := NewHandlers(reg, guard, memBus, log)
	gin.SetMode(gin.TestMode)
	router := NewRouter(handlers, guard, log)
	return router, reg, guard
}

func doRequest(router *gin.Engine, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("X-Termport-Key", key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthRequiresKey(t *testing.T) {
	router, _, _ := newTestAPI(t)

	w := doRequest(router, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/health", testKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["event_bus"])
}

func TestListRequiresKey(t *testing.T) {
	router, _, _ := newTestAPI(t)

	w := doRequest(router, http.MethodGet, "/api/v1/terminals", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "UNAUTHORIZED", body.Code)
	assert.NotEmpty(t, body.TraceID)
	assert.Equal(t, body.TraceID, w.Header().Get("X-Trace-ID"))
}

func TestListTerminals(t *testing.T) {
	router, reg, _ := newTestAPI(t)
	reg.Register(registry.TerminalSession{Name: "a"})
	reg.Register(registry.TerminalSession{Name: "b"})

	w := doRequest(router, http.MethodGet, "/api/v1/terminals", testKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Terminals []registry.TerminalSession `json:"terminals"`
		ActiveID  string                     `json:"active_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Terminals, 2)
	assert.Equal(t, "a", body.Terminals[0].Name)
	assert.Equal(t, "", body.ActiveID)
}

func TestSelectUnknownTerminal(t *testing.T) {
	router, _, _ := newTestAPI(t)

	w := doRequest(router, http.MethodPost, "/api/v1/terminals/ghost/select", testKey, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Code)
	assert.False(t, body.Timestamp.IsZero())
}

func TestSelectAndList(t *testing.T) {
	router, reg, _ := newTestAPI(t)
	id := reg.Register(registry.TerminalSession{Name: "a"})

	w := doRequest(router, http.MethodPost, "/api/v1/terminals/"+id+"/select", testKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, reg.ActiveID())
}

func TestSendInputValidation(t *testing.T) {
	router, reg, _ := newTestAPI(t)
	id := reg.Register(registry.TerminalSession{Name: "a"})

	w := doRequest(router, http.MethodPost, "/api/v1/terminals/"+id+"/input", testKey,
		map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/terminals/"+id+"/input", testKey,
		map[string]string{"data": "ls\n"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestResizeValidation(t *testing.T) {
	router, reg, _ := newTestAPI(t)
	id := reg.Register(registry.TerminalSession{Name: "a"})

	w := doRequest(router, http.MethodPost, "/api/v1/terminals/"+id+"/resize", testKey,
		map[string]int{"cols": 0, "rows": 24})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_ARGUMENT", body.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/terminals/"+id+"/resize", testKey,
		map[string]int{"cols": 120, "rows": 40})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetBuffer(t *testing.T) {
	router, reg, _ := newTestAPI(t)
	id := reg.Register(registry.TerminalSession{Name: "a"})
	reg.AppendOutput(id, "one")
	reg.AppendOutput(id, "two")
	reg.AppendOutput(id, "three")

	w := doRequest(router, http.MethodGet, "/api/v1/terminals/"+id+"/buffer?lines=2", testKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		TerminalID string          `json:"terminal_id"`
		Lines      []registry.Line `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Lines, 2)
	assert.Equal(t, "two", body.Lines[0].Data)
	assert.Equal(t, "three", body.Lines[1].Data)
}

func TestGetBufferBadLinesParam(t *testing.T) {
	router, reg, _ := newTestAPI(t)
	id := reg.Register(registry.TerminalSession{Name: "a"})

	w := doRequest(router, http.MethodGet, "/api/v1/terminals/"+id+"/buffer?lines=abc", testKey, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRotateKey(t *testing.T) {
	router, _, guard := newTestAPI(t)

	w := doRequest(router, http.MethodPost, "/api/v1/auth/rotate", testKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Key string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Key)

	assert.False(t, guard.Validate(testKey))
	assert.True(t, guard.Validate(body.Key))

	// The old key no longer opens the control plane.
	w = doRequest(router, http.MethodGet, "/api/v1/terminals", testKey, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/terminals", body.Key, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
