package listings

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// StagedImage is one entry of the image staging area. Entries carry either
// raw file data awaiting upload or, when editing, the URL of an image that is
// already stored.
type StagedImage struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Stored reports whether the image was uploaded by an earlier submit.
func (img StagedImage) Stored() bool {
	return img.URL != "" && len(img.Data) == 0
}

// Preview returns the src attribute used to render the thumbnail.
func (img StagedImage) Preview() string {
	if img.Stored() {
		return img.URL
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Preview is a rendered thumbnail bound to its staged entry.
type Preview struct {
	ID       string
	Index    int
	FileName string
	Src      string
}

// Staging is the ordered set of images attached to a draft. File and preview
// live in the same entry, so removal can never misalign them.
type Staging struct {
	Images []StagedImage `json:"images"`
}

// Len returns the number of staged images.
func (s *Staging) Len() int {
	return len(s.Images)
}

// Add appends batch in order. The whole batch is rejected when it would
// exceed MaxImages or when any file is empty or larger than maxBytes.
func (s *Staging) Add(batch []StagedImage, maxBytes int64) error {
	if len(s.Images)+len(batch) > MaxImages {
		return ErrTooManyImages
	}
	for _, img := range batch {
		if img.Stored() {
			continue
		}
		if len(img.Data) == 0 {
			return ErrEmptyImage
		}
		if maxBytes > 0 && int64(len(img.Data)) > maxBytes {
			return ErrImageTooLarge
		}
	}
	for _, img := range batch {
		if img.ID == "" {
			img.ID = uuid.NewString()
		}
		s.Images = append(s.Images, img)
	}
	return nil
}

// RemoveAt deletes the entry at index, keeping the order of the rest.
func (s *Staging) RemoveAt(index int) error {
	if index < 0 || index >= len(s.Images) {
		return ErrImageNotFound
	}
	s.Images = append(s.Images[:index:index], s.Images[index+1:]...)
	return nil
}

// Remove deletes the entry with the given id.
func (s *Staging) Remove(id string) error {
	for i, img := range s.Images {
		if img.ID == id {
			return s.RemoveAt(i)
		}
	}
	return ErrImageNotFound
}

// Previews lists thumbnails in staging order.
func (s *Staging) Previews() []Preview {
	out := make([]Preview, len(s.Images))
	for i, img := range s.Images {
		out[i] = Preview{ID: img.ID, Index: i, FileName: img.FileName, Src: img.Preview()}
	}
	return out
}
