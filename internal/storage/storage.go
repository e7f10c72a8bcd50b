// Package storage uploads listing images to an S3-compatible bucket and
// resolves their public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned for empty or unsafe object keys.
var ErrInvalidKey = errors.New("storage: invalid object key")

// ObjectStore is the object storage boundary used by the listing editor.
type ObjectStore interface {
	// Upload writes data under key. The key is bucket-relative.
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	// PublicURL returns the URL under which key is publicly readable.
	PublicURL(key string) string
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Config selects and configures an ObjectStore.
type Config struct {
	Driver        string // "s3" | "memory"
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	UsePathStyle  bool
}

// New builds the ObjectStore named by cfg.Driver.
func New(cfg Config) (ObjectStore, error) {
	switch cfg.Driver {
	case "s3", "":
		return NewS3(cfg)
	case "memory":
		return NewMemory(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
}

// ObjectKey returns "<owner>/<uuid><ext>", keeping the original file extension.
func ObjectKey(ownerID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return ownerID + "/" + uuid.NewString() + ext
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
