package listings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DraftStore keeps in-progress drafts between form posts, keyed by session.
type DraftStore interface {
	Load(ctx context.Context, sessionID, listingID string) (*Draft, error)
	Save(ctx context.Context, sessionID string, d *Draft) error
	Discard(ctx context.Context, sessionID, listingID string) error
}

// RedisDraftStore stores drafts as JSON with a sliding TTL.
type RedisDraftStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDraftStore constructs a RedisDraftStore.
func NewRedisDraftStore(client *redis.Client, ttl time.Duration) *RedisDraftStore {
	return &RedisDraftStore{client: client, ttl: ttl}
}

// Load returns the stored draft, or nil when none exists.
func (s *RedisDraftStore) Load(ctx context.Context, sessionID, listingID string) (*Draft, error) {
	payload, err := s.client.Get(ctx, draftKey(sessionID, listingID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("listings: load draft: %w", err)
	}
	var d Draft
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("listings: decode draft: %w", err)
	}
	return &d, nil
}

// Save writes d and refreshes its TTL.
func (s *RedisDraftStore) Save(ctx context.Context, sessionID string, d *Draft) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("listings: encode draft: %w", err)
	}
	if err := s.client.Set(ctx, draftKey(sessionID, d.ListingID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("listings: save draft: %w", err)
	}
	return nil
}

// Discard removes the draft.
func (s *RedisDraftStore) Discard(ctx context.Context, sessionID, listingID string) error {
	if err := s.client.Del(ctx, draftKey(sessionID, listingID)).Err(); err != nil {
		return fmt.Errorf("listings: discard draft: %w", err)
	}
	return nil
}

func draftKey(sessionID, listingID string) string {
	if listingID == "" {
		listingID = "new"
	}
	return "draft:" + sessionID + ":" + listingID
}

var _ DraftStore = (*RedisDraftStore)(nil)
