package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("CSRF_SECRET", "csrf")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "listing-images", cfg.S3Bucket)
	assert.Equal(t, "s3", cfg.StorageDriver)
	assert.Equal(t, int64(5<<20), cfg.ListingMaxImageBytes)
	assert.Equal(t, 30*time.Minute, cfg.DraftTTL)
	assert.False(t, cfg.ListingCleanupOrphans)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsUnknownStorageDriver(t *testing.T) {
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("STORAGE_DRIVER", "ftp")

	_, err := LoadConfig()
	require.Error(t, err)
}
