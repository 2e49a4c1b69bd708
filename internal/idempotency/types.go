package idempotency

import "time"

// Status values for request idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// DefaultTTL is how long a processed webhook event is remembered.
const DefaultTTL = 15 * time.Minute

// IdempotencyRecord is the shape persisted in the request idempotency table.
// It lets a retried request (same Idempotency-Key header) get the first response back.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`   // small responses only
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // e.g., 200
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// ProcessedEvent is the shape persisted in the processed-events table.
type ProcessedEvent struct {
	DedupeKey  string `dynamodbav:"dedupe_key"`  // PK
	ReceivedAt int64  `dynamodbav:"received_at"` // epoch millis
	ExpiresAt  int64  `dynamodbav:"expires_at"`  // TTL epoch seconds
}
