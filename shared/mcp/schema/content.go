package schema

type Role = string

// Role constants
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Annotations contain metadata about objects.
type Annotations struct {
	// Describes who the intended customer of this object or data is.
	// It can include multiple entries to indicate content useful for multiple audiences (e.g., `["user", "assistant"]`).
	Audience []Role `json:"audience,omitempty"`
	// Describes how important this data is for operating the server.
	// A value of 1 means "most important" while 0 means "least important".
	// Minimum: 0, Maximum: 1.
	Priority *float64 `json:"priority,omitempty"`
}

// ResourceContent contains the content of a resource, either text or binary.
type ResourceContent struct {
	URI      string  `json:"uri"`                // Resource URI
	MimeType string  `json:"mimeType,omitempty"` // MIME type if known
	Text     *string `json:"text,omitempty"`     // Resource text content
	Blob     *string `json:"blob,omitempty"`     // A base64-encoded string representing the binary data of the item
}

// Content represents various types of message content.
type Content struct {
	// The type discriminator ('text', 'image', 'audio', 'resource').
	Type string `json:"type"`
	// Optional annotations for the client.
	Annotations *Annotations `json:"annotations,omitempty"`
	// Text content (only for type: "text").
	Text *string `json:"text,omitempty"`
	// Base64-encoded data (only for type: "image", "audio").
	Data *string `json:"data,omitempty"`
	// MIME type of the data (only for type: "image", "audio").
	MimeType *string `json:"mimeType,omitempty"`
	// Embedded resource content (only for type: "resource").
	Resource *ResourceContent `json:"resource,omitempty"`
}

// NewTextContent creates a new text content slice.
func NewTextContent(text string) []Content {
	return []Content{
		{
			Type: "text",
			Text: &text,
		},
	}
}

// NewImageContent creates a new image content slice.
func NewImageContent(data string, mimeType string) []Content {
	return []Content{
		{
			Type:     "image",
			Data:     &data,
			MimeType: &mimeType,
		},
	}
}

// NewAudioContent creates a new audio content slice.
func NewAudioContent(data string, mimeType string) []Content {
	return []Content{
		{
			Type:     "audio",
			Data:     &data,
			MimeType: &mimeType,
		},
	}
}
