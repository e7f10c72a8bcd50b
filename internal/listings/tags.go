package listings

import "strings"

// ParseTags splits comma separated tags, trimming each entry and dropping empties.
// Order is preserved.
func ParseTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// JoinTags is the inverse of ParseTags for prefilling the form.
func JoinTags(tags []string) string {
	return strings.Join(tags, ", ")
}
