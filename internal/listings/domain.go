package listings

import (
	"errors"
	"time"
)

// Status values stored in listings.status.
const (
	StatusActive = "active"
)

// MaxImages caps the staged images per listing.
const MaxImages = 5

var (
	// ErrTooManyImages rejects a batch that would push the staged set past MaxImages.
	ErrTooManyImages = errors.New("listings: at most 5 images per listing")
	// ErrImageTooLarge rejects a batch containing an oversized file.
	ErrImageTooLarge = errors.New("listings: image exceeds size limit")
	// ErrEmptyImage rejects a zero-byte file.
	ErrEmptyImage = errors.New("listings: image is empty")
	// ErrImageNotFound reports an unknown staged image id or index.
	ErrImageNotFound = errors.New("listings: staged image not found")
	// ErrNoSession rejects a submit without an authenticated user.
	ErrNoSession = errors.New("listings: no active session")
	// ErrNotOwner rejects edits of another user's listing.
	ErrNotOwner = errors.New("listings: listing belongs to another user")
	// ErrNotFound reports a missing listing.
	ErrNotFound = errors.New("listings: listing not found")
	// ErrAlreadySubmitted reports a replayed submission key.
	ErrAlreadySubmitted = errors.New("listings: draft already submitted")
)

// Listing is a row of the listings table.
type Listing struct {
	ID                  string
	UserID              string
	Title               string
	Description         string
	Price               float64
	Stock               int
	CategoryID          string
	Platform            string
	Tags                []string
	Images              []string
	AutoDelivery        bool
	AutoDeliveryContent string
	Status              string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NetAmount returns the seller payout shown for this listing.
func (l Listing) NetAmount() float64 {
	return NetFromPrice(l.Price)
}

// UploadResult is the outcome of storing one staged image.
type UploadResult struct {
	ImageID  string
	FileName string
	Key      string
	URL      string
	// Reused is set for images that were already stored before this submit.
	Reused bool
	Err    error
}

// OK reports whether the image has a usable URL.
func (r UploadResult) OK() bool {
	return r.Err == nil && r.URL != ""
}

// SuccessfulURLs returns the URLs of successful results in staging order.
func SuccessfulURLs(results []UploadResult) []string {
	urls := make([]string, 0, len(results))
	for _, r := range results {
		if r.OK() {
			urls = append(urls, r.URL)
		}
	}
	return urls
}

// FailedUploads counts results carrying an error.
func FailedUploads(results []UploadResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// NewKeys returns the object keys written during this submit.
func NewKeys(results []UploadResult) []string {
	var keys []string
	for _, r := range results {
		if r.OK() && !r.Reused && r.Key != "" {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

// SubmitResult describes a completed or partially completed submit.
type SubmitResult struct {
	Listing *Listing
	Uploads []UploadResult
}
