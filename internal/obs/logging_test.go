package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tzsmmpay/internal/obs"
)

func TestRequestLoggerAttachesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := obs.RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusBadRequest)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment/tzsmmpay", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inner map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inner))
	require.Equal(t, "inside", inner["message"])

	var access map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &access))
	require.Equal(t, "http_request", access["message"])
	require.Equal(t, float64(http.StatusBadRequest), access["status"])
	require.Equal(t, "10.1.2.3", access["client_ip"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	_ = obs.NewLogger("json", "not-a-level")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
