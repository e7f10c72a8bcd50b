package listings

import (
	"strconv"

	"github.com/google/uuid"
)

// Draft is the editable state of the listing form. Every field except the
// staged images holds the raw text the user typed.
type Draft struct {
	ListingID           string  `json:"listing_id,omitempty"`
	Title               string  `json:"title"`
	Description         string  `json:"description"`
	Price               string  `json:"price"`
	Stock               string  `json:"stock"`
	CategoryID          string  `json:"category_id"`
	Platform            string  `json:"platform"`
	Tags                string  `json:"tags"`
	AutoDelivery        bool    `json:"auto_delivery"`
	AutoDeliveryContent string  `json:"auto_delivery_content"`
	Staging             Staging `json:"staging"`
	// SubmissionKey identifies one publish attempt of this draft.
	SubmissionKey string `json:"submission_key"`
}

// NewDraft returns an empty create-mode draft.
func NewDraft() *Draft {
	return &Draft{Stock: "1", SubmissionKey: uuid.NewString()}
}

// DraftFromListing prefills a draft for editing l.
func DraftFromListing(l *Listing) *Draft {
	d := &Draft{
		ListingID:           l.ID,
		Title:               l.Title,
		Description:         l.Description,
		Price:               strconv.FormatFloat(l.Price, 'f', -1, 64),
		Stock:               strconv.Itoa(l.Stock),
		CategoryID:          l.CategoryID,
		Platform:            l.Platform,
		Tags:                JoinTags(l.Tags),
		AutoDelivery:        l.AutoDelivery,
		AutoDeliveryContent: l.AutoDeliveryContent,
		SubmissionKey:       uuid.NewString(),
	}
	for _, u := range l.Images {
		d.Staging.Images = append(d.Staging.Images, StagedImage{ID: uuid.NewString(), FileName: fileNameFromURL(u), URL: u})
	}
	return d
}

// Fields are the text inputs of the form.
type Fields struct {
	Title               string
	Description         string
	Price               string
	Stock               string
	CategoryID          string
	Platform            string
	Tags                string
	AutoDelivery        bool
	AutoDeliveryContent string
}

// Apply overwrites the text fields, leaving staged images untouched.
func (d *Draft) Apply(f Fields) {
	d.Title = f.Title
	d.Description = f.Description
	d.Price = f.Price
	d.Stock = f.Stock
	d.CategoryID = f.CategoryID
	d.Platform = f.Platform
	d.Tags = f.Tags
	d.AutoDelivery = f.AutoDelivery
	d.AutoDeliveryContent = f.AutoDeliveryContent
}

// IsEdit reports whether the draft edits an existing listing.
func (d *Draft) IsEdit() bool {
	return d.ListingID != ""
}

// NetAmount derives the payout preview from the draft price.
func (d *Draft) NetAmount() (float64, bool) {
	return NetAmount(d.Price)
}

// RenewSubmissionKey starts a new publish attempt.
func (d *Draft) RenewSubmissionKey() {
	d.SubmissionKey = uuid.NewString()
}

func fileNameFromURL(u string) string {
	for i := len(u) - 1; i >= 0; i-- {
		if u[i] == '/' {
			return u[i+1:]
		}
	}
	return u
}
