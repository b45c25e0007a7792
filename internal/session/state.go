package session

type Status string

const (
	StatusIdle       Status = "idle"
	StatusDebouncing Status = "debouncing"
	StatusSaving     Status = "saving"
	StatusSaved      Status = "saved"
	StatusError      Status = "error"
)

// SaveState is the per-session persistence status. It is ephemeral: the
// Version Store stays the single source of truth and this cache is rebuilt
// whenever an editor session opens.
type SaveState struct {
	Status        Status `json:"status"`
	LastSavedAt   int64  `json:"last_saved_at,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	IsDirty       bool   `json:"is_dirty"`
	PendingCreate bool   `json:"pending_create"`
}

type Mode string

const (
	ModeEdit        Mode = "edit"
	ModeDiffPreview Mode = "diff-preview"
)
