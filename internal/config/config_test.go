package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OCR_ENGINE", "")
	t.Setenv("SERVER_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "tesseract", cfg.OCR.Engine)
	assert.Equal(t, "accurate", cfg.OCR.Level)
	assert.Equal(t, "eng", cfg.OCR.Language)
	assert.True(t, cfg.OCR.LanguageCorrection)
	assert.Equal(t, []string{".pdf"}, cfg.Storage.AllowedTypes)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ALLOWED_TYPES", ".PDF, .png ,")
	t.Setenv("OCR_LANGUAGE_CORRECTION", "false")
	t.Setenv("OCR_ENGINE", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OCR_API_KEY", "")
	t.Setenv("RESULT_CACHE_TTL", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{".pdf", ".png"}, cfg.Storage.AllowedTypes)
	assert.False(t, cfg.OCR.LanguageCorrection)
	assert.Equal(t, "sk-test", cfg.OCR.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Redis.ResultTTL)
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("OCR_ENGINE", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OCR_API_KEY", "")
	t.Setenv("OCR_LEVEL", "turbo")

	cfg, err := Load()
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OCR_LEVEL")
	assert.Contains(t, err.Error(), "OCR_API_KEY")
}
