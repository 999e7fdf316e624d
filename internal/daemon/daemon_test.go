package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/internal/config"
	"veil/internal/detect"
)

func patternOnly(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.AuditLog = filepath.Join(t.TempDir(), "audit.log")
	cfg.Engines.Presidio.Enabled = false
	cfg.Engines.Spacy.Enabled = false
	cfg.Engines.Transformers.Enabled = false
	return cfg
}

func TestBuildLoadsEnabledEngines(t *testing.T) {
	svc, err := Build(context.Background(), patternOnly(t), zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	assert.True(t, svc.Registry.Available(detect.KindPattern))
	assert.False(t, svc.Registry.Available(detect.KindPresidio))

	res, err := svc.Orchestrator.Analyze(context.Background(), "ping ops@example.com", detect.DefaultConfig(detect.Hybrid()))
	require.NoError(t, err)
	assert.Equal(t, "ping [EMAIL_ADDRESS]", res.AnonymizedText)
}

func TestBuildRejectsUnwritableAuditLog(t *testing.T) {
	cfg := patternOnly(t)
	cfg.AuditLog = t.TempDir()
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, err := Build(context.Background(), patternOnly(t), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHandlerServesHealth(t *testing.T) {
	svc, err := Build(context.Background(), patternOnly(t), zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	rec := httptest.NewRecorder()
	svc.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pattern":true`)
}
