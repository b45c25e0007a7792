package model

const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

type Document struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	ChatID     string `json:"chat_id,omitempty"`
	IsCurrent  int    `json:"is_current"`
	Visibility string `json:"visibility"`
	Slug       string `json:"slug,omitempty"`
	State      int    `json:"state"`
	Ctime      int64  `json:"ctime"`
	Mtime      int64  `json:"mtime"`
}
