package validation

import (
	"mime"
	"strings"
)

// ImageAccept is the file picker filter offered to users. Files outside it
// can still be selected and sent; they only get no preview.
const ImageAccept = "image/*"

// MatchesAccept reports whether contentType falls inside an accept list such as
// "image/*" or "image/png,image/jpeg".
func MatchesAccept(accept, contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, pattern := range strings.Split(accept, ",") {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "*/*" || pattern == mediaType:
			return true
		case strings.HasSuffix(pattern, "/*") &&
			strings.HasPrefix(mediaType, strings.TrimSuffix(pattern, "*")):
			return true
		}
	}
	return false
}
