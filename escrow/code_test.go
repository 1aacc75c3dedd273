package escrow_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaprent/depositapi/escrow"
)

func TestContractCodeShape(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC)
	code := escrow.NewContractCode("Budi Santoso", decimal.NewFromInt(5000000), at)

	parts := strings.Split(code, "-")
	require.Len(t, parts, 5)
	assert.Equal(t, "DEP", parts[0])
	assert.Equal(t, "BUDI", parts[1])
	assert.Equal(t, "5000000", parts[2])
	assert.Equal(t, "20260831", parts[3])
	assert.NotEmpty(t, parts[4])
}

func TestContractCodeNormalizesName(t *testing.T) {
	at := time.Now()
	amount := decimal.NewFromInt(100)

	code := escrow.NewContractCode("  a. b! c?  d e", amount, at)
	assert.Equal(t, "ABCD", strings.Split(code, "-")[1])

	code = escrow.NewContractCode("123 !!", amount, at)
	assert.Equal(t, "XXXX", strings.Split(code, "-")[1])
}

func TestContractCodeTruncatesAmount(t *testing.T) {
	code := escrow.NewContractCode("Sari", decimal.RequireFromString("2500000.50"), time.Now())
	assert.Equal(t, "2500000", strings.Split(code, "-")[2])
}

// Uniqueness must not depend on retry-on-collision: codes generated for
// the same tenant, amount and instant must still differ.
func TestContractCodeUniqueness(t *testing.T) {
	at := time.Now()
	amount := decimal.NewFromInt(750000)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code := escrow.NewContractCode("Budi Santoso", amount, at)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}
