package escrow

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewContractCode builds the external reference for a deposit contract:
// a normalized fragment of the tenant's name, the amount, the creation
// date, and a high-entropy suffix. Uniqueness comes from the suffix
// (base-36 timestamp plus a uuid fragment), never from retrying on a
// collision, so concurrent creations have no check to race on.
//
//	NewContractCode("Budi Santoso", 5000000, ...) -> "DEP-BUDI-5000000-20260831-LX3K9QD4A1"
func NewContractCode(tenantName string, amount decimal.Decimal, at time.Time) string {
	frag := nameFragment(tenantName)
	ts := strings.ToUpper(strconv.FormatInt(at.UnixNano(), 36))
	entropy := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

	return strings.Join([]string{
		"DEP",
		frag,
		amount.Truncate(0).String(),
		at.Format("20060102"),
		ts + entropy,
	}, "-")
}

// nameFragment keeps the first four letters of the name, uppercased.
// Falls back to "XXXX" for names with no usable letters.
func nameFragment(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
			if b.Len() == 4 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "XXXX"
	}
	return b.String()
}
