package utils

import (
	"crypto/tls"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNFromEnv(t *testing.T) {
	t.Setenv("PG_DSN", "")
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PORT", "")
	t.Setenv("PG_USER", "survey")
	t.Setenv("PG_PASSWORD", "p@ss")
	t.Setenv("PG_DB", "")
	t.Setenv("PG_SSLMODE", "")
	dsn := BuildPostgresDSNFromEnv()
	assert.Equal(t, "postgres://survey:p%40ss@db:5432/geosurvey?sslmode=disable", dsn)

	t.Setenv("PG_DSN", "postgres://x")
	assert.Equal(t, "postgres://x", BuildPostgresDSNFromEnv())
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("GS_INT", "12")
	t.Setenv("GS_BAD", "x")
	t.Setenv("GS_FLOAT", "55.5")
	t.Setenv("GS_BOOL", "false")
	assert.Equal(t, 12, EnvInt("GS_INT", 1))
	assert.Equal(t, 1, EnvInt("GS_BAD", 1))
	assert.Equal(t, 55.5, EnvFloat("GS_FLOAT", 0))
	assert.Equal(t, 12*time.Second, EnvSeconds("GS_INT", time.Minute))
	assert.Equal(t, time.Minute, EnvSeconds("GS_BAD", time.Minute))
	assert.False(t, EnvBool("GS_BOOL", true))
	assert.True(t, EnvBool("GS_BAD", true))
	assert.Equal(t, "def", EnvOr("GS_MISSING_KEY", "def"))
}

func TestOpenRedisFromEnvDisabled(t *testing.T) {
	t.Setenv("REDIS_ENABLE", "false")
	assert.Nil(t, OpenRedisFromEnv())
	assert.Nil(t, OpenRedis("", "", 0))
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "certs", "server.crt")
	key := filepath.Join(dir, "keys", "server.key")
	require.NoError(t, EnsureSelfSignedCert(cert, key, "geo-survey.local"))

	pair, err := tls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)
	require.NotEmpty(t, pair.Certificate)

	// 已存在时不覆盖
	require.NoError(t, EnsureSelfSignedCert(cert, key, "other"))
	again, err := tls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)
	assert.Equal(t, pair.Certificate[0], again.Certificate[0])
}
