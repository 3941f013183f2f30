package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "hello")
	assert.Equal(t, "hello", envStr("TEST_STR", "fallback"))
	assert.Equal(t, "fallback", envStr("TEST_STR_MISSING", "fallback"))

	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, envInt("TEST_INT", 0))
	assert.Equal(t, 99, envInt("TEST_INT_MISSING", 99))

	t.Setenv("TEST_INT_BAD", "abc")
	assert.Equal(t, 7, envInt("TEST_INT_BAD", 7), "unparseable value falls back to default")

	t.Setenv("TEST_DUR", "5s")
	assert.Equal(t, 5*time.Second, envDuration("TEST_DUR", 0))
	assert.Equal(t, time.Minute, envDuration("TEST_DUR_MISSING", time.Minute))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.ExtractionTimeout)
	assert.Equal(t, "accordo_patterns", cfg.QdrantCollection)
	assert.Empty(t, cfg.LLMBaseURL, "LLM extractor disabled by default")
}

func TestValidate(t *testing.T) {
	valid := Config{
		DatabaseURL:         "postgres://localhost/accordo",
		ExtractionTimeout:   time.Second,
		MaxRequestBodyBytes: 1024,
		LLMModel:            "gpt-4o-mini",
	}
	require.NoError(t, valid.Validate())

	missing := valid
	missing.DatabaseURL = ""
	assert.Error(t, missing.Validate())

	badTimeout := valid
	badTimeout.ExtractionTimeout = 0
	assert.Error(t, badTimeout.Validate())

	noModel := valid
	noModel.LLMBaseURL = "https://api.openai.com"
	noModel.LLMModel = ""
	assert.Error(t, noModel.Validate())
}
