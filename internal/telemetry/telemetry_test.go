package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/provsync/internal/common"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), common.TelemetryConfig{}, "test", common.NewSilentLogger())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_MetricsOnly(t *testing.T) {
	shutdown, err := Init(context.Background(), common.TelemetryConfig{Enabled: true, ServiceName: "provsync-test"}, "test", common.NewSilentLogger())
	require.NoError(t, err)
	defer shutdown(context.Background())

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
