package enums

import "fmt"

// LedgerEntryType classifies the signed entries in the customer credit ledger.
type LedgerEntryType string

const (
	LedgerEntryTypeOrderCreated        LedgerEntryType = "order_created"
	LedgerEntryTypePriceAdjustment     LedgerEntryType = "price_adjustment"
	LedgerEntryTypePayment             LedgerEntryType = "payment"
	LedgerEntryTypeCancellationRestore LedgerEntryType = "cancellation_restore"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypeOrderCreated,
	LedgerEntryTypePriceAdjustment,
	LedgerEntryTypePayment,
	LedgerEntryTypeCancellationRestore,
}

// String implements fmt.Stringer.
func (t LedgerEntryType) String() string {
	return string(t)
}

// IsValid reports whether the value matches the canonical entry type set.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
