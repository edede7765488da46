package common

import (
	"github.com/google/uuid"
)

// NewDownloadID generates a unique download job ID with the "dl_" prefix
// Format: dl_<uuid>
func NewDownloadID() string {
	return "dl_" + uuid.New().String()
}

// NewHistoryID generates a unique history entry ID with the "hist_" prefix
func NewHistoryID() string {
	return "hist_" + uuid.New().String()
}
