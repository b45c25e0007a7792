package model

type DocumentVersion struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	DocumentID    string `json:"document_id"`
	Version       int    `json:"version"`
	Content       string `json:"content"`
	DiffAdded     int    `json:"diff_added"`
	DiffRemoved   int    `json:"diff_removed"`
	PrevVersionID string `json:"prev_version_id,omitempty"`
	Ctime         int64  `json:"ctime"`
	Mtime         int64  `json:"mtime"`
}

// VersionEntry is one row of the unified history view: every historical
// version in ascending order plus a synthetic final entry for the live
// document content.
type VersionEntry struct {
	Version     int    `json:"version"`
	Content     string `json:"content"`
	DiffAdded   int    `json:"diff_added"`
	DiffRemoved int    `json:"diff_removed"`
	Ctime       int64  `json:"ctime"`
	IsCurrent   bool   `json:"is_current"`
}
