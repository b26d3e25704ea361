package observability

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lumen/pkg/contextkeys"
)

type staticSource struct {
	db  *sql.DB
	err error
}

func (s staticSource) DB() (*sql.DB, error) { return s.db, s.err }

func TestLogger_FieldsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("hidden")
	logger.WithComponent("gateway").WithError(errors.New("boom")).Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"gateway"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"service":"lumen"`)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
	}
	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, want, ParseLogLevel(input))
		})
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUserID(ctx, "user-1")

	FromContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Contains(t, buf.String(), `"user_id":"user-1"`)
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("no dependencies", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, "test")
		rr := httptest.NewRecorder()
		checker.Readiness(rr, httptest.NewRequest("GET", "/health/ready", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("database not configured", func(t *testing.T) {
		checker := NewHealthChecker(staticSource{err: errors.New("not configured")}, nil, "test")
		rr := httptest.NewRecorder()
		checker.Readiness(rr, httptest.NewRequest("GET", "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

		var status HealthStatus
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
		assert.Equal(t, StatusUnhealthy, status.Dependencies["database"].Status)
	})

	t.Run("database healthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectPing()

		status := NewHealthChecker(staticSource{db: db}, nil, "test").Check(context.Background())
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, "test", status.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis down degrades", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()
		mr.Close()

		status := NewHealthChecker(nil, client, "test").Check(context.Background())
		assert.Equal(t, StatusDegraded, status.Status)
		assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
	})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/api/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("DELETE")

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("DELETE", "/api/projects/abc", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("DELETE", "/api/projects/def", nil))

	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("DELETE", "/api/projects/{id}", "404"))
	assert.Equal(t, float64(2), count)
}

func TestMetrics_ObserveStorage(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.ObserveStorage("put", "input-images", time.Now(), nil)
	metrics.ObserveStorage("put", "input-images", time.Now(), errors.New("denied"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("put", "input-images", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("put", "input-images", "error")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveStorage("put", "x", time.Now(), nil) })
}

func TestPanicRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := PanicRecoveryMiddleware(NewLogger(InfoLevel, &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rr.Body.String())
	assert.Contains(t, buf.String(), "kaboom")
}

func TestShutdownManager(t *testing.T) {
	var buf bytes.Buffer
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(NewLogger(InfoLevel, &buf), time.Second, server)

	called := make(chan string, 2)
	sm.RegisterShutdownFunc("database", func(ctx context.Context) error {
		called <- "database"
		return nil
	})
	sm.RegisterShutdownFunc("redis", func(ctx context.Context) error {
		called <- "redis"
		return errors.New("already closed")
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: already closed")
	assert.Len(t, called, 2)
}

func TestShutdownOTel_Nil(t *testing.T) {
	assert.NoError(t, ShutdownOTel(context.Background(), nil))
}

func TestInitOTel_Disabled(t *testing.T) {
	var buf bytes.Buffer
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NewLogger(InfoLevel, &buf))
	assert.NoError(t, err)
	assert.Nil(t, providers)
	assert.True(t, strings.Contains(buf.String(), "disabled"))
}
