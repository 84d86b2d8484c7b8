package common

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIPIgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/webhooks/payment/tzsmmpay", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	require.Equal(t, "203.0.113.7", ClientIP(req))

	req.RemoteAddr = "203.0.113.8"
	require.Equal(t, "203.0.113.8", ClientIP(req))
	require.Empty(t, ClientIP(nil))
}
