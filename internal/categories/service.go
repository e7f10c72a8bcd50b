package categories

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/vitrin/marketplace/internal/platform/cache"
)

const activeCacheKey = "categories:active"

// Service loads the active category list for the listing form.
type Service struct {
	repo   Repository
	cache  *cache.JSONCache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, c *cache.JSONCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, logger: logger}
}

// ListActive returns the active categories. Failures are logged and yield an
// empty list so the form still renders; the required selector then blocks submission.
func (s *Service) ListActive(ctx context.Context) []Category {
	// Waiters share one load, so it must not die with the first caller's request.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(activeCacheKey, func() (any, error) {
		var out []Category
		err := s.cache.Fetch(loadCtx, activeCacheKey, &out, func(ctx context.Context) (any, error) {
			return s.repo.ListActive(ctx)
		})
		return out, err
	})
	if err != nil {
		s.logger.Warn("load active categories", slog.Any("error", err))
		return nil
	}
	list, _ := v.([]Category)
	return list
}

// IsActive reports whether id names an active category.
func (s *Service) IsActive(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	for _, c := range s.ListActive(ctx) {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Invalidate drops the cached list.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx, activeCacheKey)
}
