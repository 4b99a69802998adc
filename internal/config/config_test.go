package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, parseOrigins(" http://a.test , ,http://b.test"))
}

func TestLoadGradingDefaults(t *testing.T) {
	t.Setenv("GRADING_SERVICE_URL", "http://grader.test/")
	t.Setenv("GRADING_TIMEOUT_SECONDS", "5")

	cfg := Load()
	assert.Equal(t, "http://grader.test", cfg.GradingServiceURL)
	assert.Equal(t, 5*time.Second, cfg.GradingTimeout)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "exam:e1:proctor", CacheKey.ProctorChannel("e1"))
	assert.Equal(t, "student:s1:exam:e1:proctor_session", CacheKey.ActiveProctorSessionKey("e1", "s1"))
}
