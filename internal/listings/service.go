package listings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/vitrin/marketplace/internal/shared"
	"github.com/vitrin/marketplace/internal/storage"
)

const idempotencyModule = "listings"

// CategoryChecker reports whether a category may be selected.
type CategoryChecker interface {
	IsActive(ctx context.Context, id string) bool
}

// SubmissionGuard claims submission keys so a draft is published once.
type SubmissionGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Auditor records audit trail entries.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// OrphanCleaner schedules deletion of objects that no listing references.
type OrphanCleaner interface {
	EnqueueOrphanCleanup(ctx context.Context, keys []string) error
}

// Recorder receives submit and upload outcomes for metrics.
type Recorder interface {
	ObserveUpload(result string)
	ObserveSubmit(result string)
}

// InsertError wraps a failed insert/update. Its message is the backend's own.
type InsertError struct {
	Err error
}

func (e *InsertError) Error() string { return e.Err.Error() }

func (e *InsertError) Unwrap() error { return e.Err }

// ServiceConfig collects optional collaborators.
type ServiceConfig struct {
	Guard       SubmissionGuard
	Auditor     Auditor
	Cleaner     OrphanCleaner
	Recorder    Recorder
	MaxImageLen int64
}

// Service implements the listing submit flow.
type Service struct {
	repo       Repository
	store      storage.ObjectStore
	categories CategoryChecker
	cfg        ServiceConfig
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, store storage.ObjectStore, categories CategoryChecker, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		store:      store,
		categories: categories,
		cfg:        cfg,
		validate:   validator.New(),
		logger:     logger,
	}
}

// MaxImageBytes is the per-file limit applied when staging.
func (s *Service) MaxImageBytes() int64 {
	return s.cfg.MaxImageLen
}

// CleansOrphans reports whether objects left by a failed insert are deleted.
func (s *Service) CleansOrphans() bool {
	return s.cfg.Cleaner != nil
}

// Validate checks d without side effects.
func (s *Service) Validate(ctx context.Context, d *Draft) error {
	_, err := s.check(ctx, d)
	return err
}

func (s *Service) check(ctx context.Context, d *Draft) (submission, error) {
	sub, err := coerce(s.validate, d)
	var verr *ValidationError
	if err != nil && !errors.As(err, &verr) {
		return sub, err
	}
	if sub.CategoryID != "" && s.categories != nil && !s.categories.IsActive(ctx, sub.CategoryID) {
		if verr == nil {
			verr = &ValidationError{Fields: map[string]string{}}
		}
		verr.Fields["category_id"] = fieldMessages["CategoryID"]
	}
	if verr != nil {
		return sub, verr
	}
	return sub, nil
}

// Submit uploads the staged images one by one and stores the listing.
//
// Upload failures are skipped: the listing keeps the images that made it and
// the per-image outcome is returned. When the insert fails the uploaded objects
// stay in storage unless an OrphanCleaner is configured; the returned result
// still lists them.
func (s *Service) Submit(ctx context.Context, userID string, d *Draft) (*SubmitResult, error) {
	if userID == "" {
		return nil, ErrNoSession
	}
	sub, err := s.check(ctx, d)
	if err != nil {
		s.observeSubmit("invalid")
		return nil, err
	}

	if s.cfg.Guard != nil && d.SubmissionKey != "" {
		if err := s.cfg.Guard.CheckAndInsert(ctx, d.SubmissionKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				s.observeSubmit("duplicate")
				return nil, ErrAlreadySubmitted
			}
			return nil, fmt.Errorf("listings: claim submission: %w", err)
		}
	}

	uploads := s.UploadImages(ctx, userID, d.Staging.Images)

	listing := Listing{
		ID:                  d.ListingID,
		UserID:              userID,
		Title:               sub.Title,
		Description:         sub.Description,
		Price:               sub.Price,
		Stock:               sub.Stock,
		CategoryID:          sub.CategoryID,
		Platform:            sub.Platform,
		Tags:                sub.Tags,
		Images:              SuccessfulURLs(uploads),
		AutoDelivery:        sub.AutoDelivery,
		AutoDeliveryContent: sub.AutoDeliveryContent,
		Status:              StatusActive,
	}

	var saved *Listing
	if d.IsEdit() {
		saved, err = s.repo.Update(ctx, listing)
	} else {
		saved, err = s.repo.Insert(ctx, listing)
	}
	if err != nil {
		s.observeSubmit("failed")
		s.afterFailedInsert(ctx, d, uploads)
		if errors.Is(err, ErrNotOwner) || errors.Is(err, ErrNotFound) {
			return &SubmitResult{Uploads: uploads}, err
		}
		return &SubmitResult{Uploads: uploads}, &InsertError{Err: err}
	}

	s.observeSubmit("ok")
	if s.cfg.Auditor != nil {
		action := "listing.create"
		if d.IsEdit() {
			action = "listing.update"
		}
		if err := s.cfg.Auditor.Record(ctx, shared.AuditLog{
			ActorID:  userID,
			Action:   action,
			Entity:   "listing",
			EntityID: saved.ID,
			Meta: map[string]any{
				"images":        len(saved.Images),
				"failed_images": FailedUploads(uploads),
			},
		}); err != nil {
			s.logger.Warn("audit listing submit", slog.String("listing_id", saved.ID), slog.Any("error", err))
		}
	}
	return &SubmitResult{Listing: saved, Uploads: uploads}, nil
}

// UploadImages stores each staged image in order and reports one result per
// image. Images stored by an earlier submit are passed through. A failure
// does not stop later uploads; a cancelled context does.
func (s *Service) UploadImages(ctx context.Context, userID string, images []StagedImage) []UploadResult {
	results := make([]UploadResult, 0, len(images))
	for _, img := range images {
		res := UploadResult{ImageID: img.ID, FileName: img.FileName}
		if img.Stored() {
			res.URL = img.URL
			res.Reused = true
			results = append(results, res)
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}
		res.Key = storage.ObjectKey(userID, img.FileName)
		if err := s.store.Upload(ctx, res.Key, img.Data, img.ContentType); err != nil {
			s.logger.Warn("upload listing image",
				slog.String("key", res.Key),
				slog.String("file", img.FileName),
				slog.Any("error", err))
			res.Err = err
			s.observeUpload("failed")
		} else {
			res.URL = s.store.PublicURL(res.Key)
			s.observeUpload("ok")
		}
		results = append(results, res)
	}
	return results
}

func (s *Service) afterFailedInsert(ctx context.Context, d *Draft, uploads []UploadResult) {
	if s.cfg.Guard != nil && d.SubmissionKey != "" {
		if err := s.cfg.Guard.Delete(context.WithoutCancel(ctx), d.SubmissionKey); err != nil {
			s.logger.Warn("release submission key", slog.Any("error", err))
		}
	}
	keys := NewKeys(uploads)
	if len(keys) == 0 {
		return
	}
	if s.cfg.Cleaner == nil {
		s.logger.Warn("listing insert failed, uploaded images left in storage", slog.Any("keys", keys))
		return
	}
	if err := s.cfg.Cleaner.EnqueueOrphanCleanup(context.WithoutCancel(ctx), keys); err != nil {
		s.logger.Error("enqueue orphan cleanup", slog.Any("keys", keys), slog.Any("error", err))
	}
}

// Get loads a listing owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*Listing, error) {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, ErrNotOwner
	}
	return l, nil
}

// ListByOwner returns the dashboard listings of userID.
func (s *Service) ListByOwner(ctx context.Context, userID string) ([]Listing, error) {
	return s.repo.ListByOwner(ctx, userID, 100)
}

func (s *Service) observeUpload(result string) {
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.ObserveUpload(result)
	}
}

func (s *Service) observeSubmit(result string) {
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.ObserveSubmit(result)
	}
}
