package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestHTTPRequests(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	handler := middleware.RequestID(HTTPRequests(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auction/discover/en-US", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	require.Equal(t, "http request", entry["message"])
	require.Equal(t, "GET", entry["method"])
	require.Equal(t, "/v1/auction/discover/en-US", entry["path"])
	require.InDelta(t, http.StatusTeapot, entry["status"], 0)
	require.InDelta(t, len("short and stout"), entry["bytes"], 0)
	require.NotEmpty(t, entry["request_id"])
}

func TestSetupLevels(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, Setup(false).GetLevel())
	require.Equal(t, zerolog.DebugLevel, Setup(true).GetLevel())
}
