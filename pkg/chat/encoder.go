package chat

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformedAttachment is returned when an attachment cannot be turned into
// a content part. The send is rejected before any network activity.
var ErrMalformedAttachment = errors.New("malformed attachment")

// Attachment is a user-supplied file staged in the compose buffer. It lives
// only until it is folded into an outgoing message or removed.
type Attachment struct {
	ID        string
	Name      string
	MediaType string
	Size      int64

	// Part is the content part derived at upload time. A zero Part (empty
	// Type) marks an attachment the client could not classify.
	Part ContentPart
}

// ProcessAttachment classifies raw upload bytes into an attachment with a
// derived content part. JSON and text-like files become inline documents
// (workflow node-graph JSON included), images become base64 image parts.
// Anything else is rejected with ErrMalformedAttachment.
func ProcessAttachment(name, mediaType string, data []byte) (Attachment, error) {
	att := Attachment{
		ID:        uuid.NewString(),
		Name:      name,
		MediaType: mediaType,
		Size:      int64(len(data)),
	}

	switch {
	case isJSONType(name, mediaType):
		if !json.Valid(data) {
			return Attachment{}, fmt.Errorf("%w: %s is not valid JSON", ErrMalformedAttachment, name)
		}
		att.Part = ContentPart{Type: ContentTypeDocument, Document: &DocumentPart{
			MediaType: "application/json",
			Data:      string(data),
		}}

	case isTextType(name, mediaType):
		att.Part = ContentPart{Type: ContentTypeDocument, Document: &DocumentPart{
			MediaType: normalizeTextType(mediaType),
			Data:      string(data),
		}}

	case strings.HasPrefix(mediaType, "image/"):
		att.Part = ContentPart{Type: ContentTypeImage, Image: &ImagePart{
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(data),
		}}

	default:
		return Attachment{}, fmt.Errorf("%w: unsupported type %q for %s", ErrMalformedAttachment, mediaType, name)
	}

	return att, nil
}

// EncodeContent produces the ordered content part sequence for an outgoing
// message: a text part first (only if the text is non-empty), then one part
// per attachment in upload order. An attachment without a derived part fails
// the whole encode; nothing is silently dropped.
func EncodeContent(text string, atts []Attachment) ([]ContentPart, error) {
	var parts []ContentPart
	if strings.TrimSpace(text) != "" {
		parts = append(parts, NewTextPart(text))
	}
	for _, att := range atts {
		if att.Part.Type == "" {
			return nil, fmt.Errorf("%w: %s has no content part", ErrMalformedAttachment, att.Name)
		}
		parts = append(parts, att.Part)
	}
	return parts, nil
}

func isJSONType(name, mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(strings.ToLower(name), ".json")
}

var textExtensions = []string{".txt", ".md", ".csv", ".html", ".css", ".js", ".ts", ".yaml", ".yml"}

func isTextType(name, mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range textExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func normalizeTextType(mediaType string) string {
	if strings.HasPrefix(mediaType, "text/") {
		return mediaType
	}
	return "text/plain"
}
