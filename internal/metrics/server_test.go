package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerHandlerExposesCollectors(t *testing.T) {
	LeaksTotal.WithLabelValues("hash").Inc()

	s := NewServer(":0", "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `leakwatch_leaks_total{action="hash"}`))
	assert.True(t, strings.Contains(body, "leakwatch_automaton_patterns"))
}

func TestServerStopWithoutStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", "/m").Stop(t.Context()))
}
