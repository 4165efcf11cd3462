package upload

import (
	"fmt"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// FileUpload is one tracked ingestion request. Status moves
// pending → processing → completed/failed; a released retry goes back
// to pending.
type FileUpload struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	Status       string    `json:"status"`
	SchemaName   string    `json:"schema_name"`
	FileType     string    `json:"file_type,omitempty"`
	Location     string    `json:"storage_location,omitempty"`
	StorageKey   string    `json:"storage_key,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	IsProcessing bool      `json:"is_processing"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NotFoundError covers every claim that finds no pending row: wrong id,
// already claimed by another worker, or already finished. Retrying cannot
// fix any of those.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cannot find file upload %d", e.ID)
}

func (e *NotFoundError) Permanent() bool { return true }

// DuplicateError rejects a second upload of the same filename for the
// same schema.
type DuplicateError struct {
	Filename   string
	SchemaName string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("file %s already uploaded for schema %s", e.Filename, e.SchemaName)
}

// DisallowedTypeError rejects a file whose extension the schema does not
// accept.
type DisallowedTypeError struct {
	Extension  string
	SchemaName string
}

func (e *DisallowedTypeError) Error() string {
	return fmt.Sprintf("file type %s is not allowed for schema %s", e.Extension, e.SchemaName)
}

func (e *DisallowedTypeError) Permanent() bool { return true }
