package staging

import "time"

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
	StatusSuccess    = "success"
)

// StagingRow is one parsed file row staged for downstream processing.
// RequestID ties it back to the file upload; (RequestID, RequestSchema,
// RowNum) is unique so a redelivered job can never double-insert.
type StagingRow struct {
	ID            int64          `json:"id"`
	Status        string         `json:"status"`
	RequestID     int64          `json:"request_id"`
	RequestSchema string         `json:"request_schema"`
	RowNum        int            `json:"row_num"`
	Mapped        map[string]any `json:"mapped_fields,omitempty"`
	RawData       map[string]any `json:"raw_data"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
