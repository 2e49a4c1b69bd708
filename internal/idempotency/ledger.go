package idempotency

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Ledger remembers which external events were already applied.
type Ledger interface {
	// AlreadyProcessed reports whether key was marked within the TTL.
	AlreadyProcessed(ctx context.Context, key string) (bool, error)
	// MarkProcessed records key. fresh is false when key was already present,
	// which makes it an insert-or-ignore claim.
	MarkProcessed(ctx context.Context, key string) (fresh bool, err error)
	// Forget removes key so a redelivery is applied again.
	Forget(ctx context.Context, key string) error
}

// TransactionalLedger can claim a key inside the DynamoDB transaction that
// applies the guarded change.
type TransactionalLedger interface {
	Ledger
	ClaimItem(key string) types.TransactWriteItem
}

// DedupeKey derives the ledger key of a webhook event. Absent parts are empty.
func DedupeKey(eventID, providerRef, orderNumber string) string {
	return strings.Join([]string{eventID, providerRef, orderNumber}, ":")
}
