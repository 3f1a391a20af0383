package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/sensorpub/internal/config"
)

func TestRecorder_Observe(t *testing.T) {
	r := NewRecorder()

	r.Observe(OutcomeSuccess, 120*time.Millisecond)
	r.Observe(OutcomeConnection, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.publishTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.publishTotal.WithLabelValues(OutcomeConnection)))
	assert.Greater(t, testutil.ToFloat64(r.lastSuccess), 0.0)

	n, err := testutil.GatherAndCount(r.Registry(), "sensorpub_publish_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecorder_FailureLeavesLastSuccessUnset(t *testing.T) {
	r := NewRecorder()
	r.Observe(OutcomeConfirmation, time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.lastSuccess))
}

func TestRecorder_PushDisabled(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.Push(context.Background(), config.MetricsConfig{}, "home/sensor1"))
}

func TestRecorder_Push(t *testing.T) {
	var (
		method string
		path   string
		body   string
		agent  string
	)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		method, path, agent = req.Method, req.URL.Path, req.UserAgent()
		b, _ := io.ReadAll(req.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	r := NewRecorder()
	r.Observe(OutcomeSuccess, 50*time.Millisecond)

	err := r.Push(context.Background(), config.MetricsConfig{PushgatewayURL: gw.URL}, "home/sensor1")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/"+config.DefaultMetricsJob+"/topic"), path)
	assert.NotEmpty(t, body)
	assert.True(t, strings.HasPrefix(agent, "sensorpub/"), agent)
}

func TestRecorder_PushGatewayError(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gw.Close()

	r := NewRecorder()
	r.Observe(OutcomePublish, time.Millisecond)

	err := r.Push(context.Background(), config.MetricsConfig{PushgatewayURL: gw.URL, Job: "door"}, "home/door")
	require.Error(t, err)
	assert.Contains(t, err.Error(), gw.URL)
}
