package schema

// Root represents a root directory or file that the server can operate on.
type Root struct {
	// The URI identifying the root. This *must* start with file:// for now.
	URI string `json:"uri"` // @format uri
	// An optional name for the root.
	Name string `json:"name,omitempty"`
}

// ListRootsRequestParams contains parameters for root listing requests.
type ListRootsRequestParams struct {
	PaginatedRequestParams // Embeds pagination cursor
}

// ListRootsResult is the response to a roots/list request.
type ListRootsResult struct {
	Meta  Meta   `json:"_meta,omitempty"` // Reserved for metadata
	Roots []Root `json:"roots"`           // Available roots
}

// RootsListChangedNotification informs that available roots have changed.
type RootsListChangedNotification struct {
	Method string                 `json:"method"` // const: "notifications/roots/list_changed"
	Params map[string]interface{} `json:"params,omitempty"`
}
