package models

// FileMetadata is the {name, MIME type, size} tuple for a path. Each field is
// nil when its lookup failed; Err joins the reasons.
type FileMetadata struct {
	Name     *string `json:"name,omitempty"`
	MimeType *string `json:"mime_type,omitempty"`
	Size     *int64  `json:"size,omitempty"`
	Err      error   `json:"-"`
}

// Complete reports whether every field was resolved.
func (m FileMetadata) Complete() bool {
	return m.Name != nil && m.MimeType != nil && m.Size != nil && m.Err == nil
}
