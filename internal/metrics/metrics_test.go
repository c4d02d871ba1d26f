package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegister_ExposesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := Register(reg)
	require.NoError(t, err)

	// segunda llamada no falla
	_, err = Register(reg)
	require.NoError(t, err)

	RecordLogin("radius", "accept")
	RecordTokenIssued("refresh_token")
	RecordTokenConsumed("authorization_code", false)
	done := HTTPStart("GET")
	done("/healthz", 200)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	require.True(t, strings.Contains(out, `idcore_logins_total{protocol="radius",result="accept"} 1`), out)
	require.True(t, strings.Contains(out, `idcore_tokens_consumed_total{kind="authorization_code",result="inactive"} 1`))
	require.True(t, strings.Contains(out, `http_requests_total{method="GET",path="/healthz",status="200"} 1`))
}
