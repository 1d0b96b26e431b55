package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/roomcast/internal/platform/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_ExposesBuildInfo(t *testing.T) {
	reg := NewRegistry()
	info := version.Get()

	expected := `
# HELP roomcast_build_info Always 1; labels describe the running build
# TYPE roomcast_build_info gauge
roomcast_build_info{commit="` + info.Commit + `",go_version="` + info.GoVersion + `",version="` + info.Version + `"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "roomcast_build_info"))
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := NewRegistry()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "roomcast_build_info")
	assert.Contains(t, string(body), "go_goroutines")
	assert.Contains(t, string(body), "promhttp_metric_handler_errors_total", "handler errors are counted on the served registry")
}
