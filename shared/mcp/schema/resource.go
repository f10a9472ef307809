package schema

// Resource describes a resource the server can read.
type Resource struct {
	Annotations *Annotations `json:"annotations,omitempty"`
	Description string       `json:"description,omitempty"` // Resource description
	MimeType    string       `json:"mimeType,omitempty"`    // MIME type if known
	Name        string       `json:"name"`                  // Human-readable name
	Size        int          `json:"size,omitempty"`        // Size in bytes if known
	URI         string       `json:"uri"`                   // Resource URI
}

// ListResourcesRequestParams contains parameters for resource listing requests.
type ListResourcesRequestParams struct {
	PaginatedRequestParams // Embeds pagination cursor
}

// ListResourcesResult is the response to a resources list request.
type ListResourcesResult struct {
	PaginatedResult            // Embeds next cursor
	Meta            Meta       `json:"_meta,omitempty"` // Reserved for metadata
	Resources       []Resource `json:"resources"`       // Available resources
}

// ReadResourceRequestParams contains parameters for resource reading.
type ReadResourceRequestParams struct {
	URI string `json:"uri"` // The URI of the resource to read
}

// ReadResourceResult contains the content of a requested resource.
type ReadResourceResult struct {
	Meta     Meta              `json:"_meta,omitempty"` // Reserved for metadata
	Contents []ResourceContent `json:"contents"`        // Resource contents (Text or Blob)
}

// ResourceListChangedNotification informs that available resources have changed.
type ResourceListChangedNotification struct {
	Method string                 `json:"method"` // const: "notifications/resources/list_changed"
	Params map[string]interface{} `json:"params,omitempty"`
}
