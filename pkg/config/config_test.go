package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	require.NotNil(t, cfg)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StorageBackendGridFS, cfg.Storage.Backend)
	assert.Equal(t, int64(25*1024*1024), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, 15*time.Minute, cfg.Storage.DownloadURLTTL)
	assert.Equal(t, 10*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 5, cfg.OTP.MaxAttempts)
	assert.Equal(t, "papers", cfg.Mongo.Bucket)
	assert.Nil(t, cfg.CORS.AllowedOrigins)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("STORAGE_BACKEND", "LOCAL")
	v.Set("OTP_TTL", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	v.Set("PUBLIC_BASE_URL", "https://papers.example/")
	v.Set("MAX_UPLOAD_SIZE", -1)

	cfg := fromViper(v)
	assert.Equal(t, StorageBackendLocal, cfg.Storage.Backend)
	assert.Equal(t, 10*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "https://papers.example", cfg.PublicBaseURL)
	assert.Equal(t, int64(25*1024*1024), cfg.Storage.MaxUploadBytes)
}
