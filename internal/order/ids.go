package order

import "github.com/google/uuid"

// newSettlementID mints the correlation id attached to a settlement record
// and its journal rows.
func newSettlementID() string {
	return uuid.New().String()
}
