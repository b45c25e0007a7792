package idutil

import (
	"strings"

	"github.com/google/uuid"

	appErr "github.com/xxxsen/mdraft/internal/pkg/errors"
)

// Placeholder identifiers that editor clients use for documents that do not
// exist yet. They must never reach the store.
var placeholders = map[string]struct{}{
	"init":      {},
	"undefined": {},
	"null":      {},
}

func NewID() string {
	return uuid.NewString()
}

// ValidateDocID rejects empty ids, client-side placeholders and anything
// that is not a well-formed UUID.
func ValidateDocID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return appErr.ErrInvalid
	}
	if _, ok := placeholders[strings.ToLower(trimmed)]; ok {
		return appErr.ErrInvalid
	}
	if _, err := uuid.Parse(trimmed); err != nil {
		return appErr.ErrInvalid
	}
	return nil
}

func IsPlaceholder(id string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(id))]
	return ok
}
