package escrow_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zaprent/depositapi/escrow"
	"github.com/zaprent/depositapi/models"
)

type mockDocs struct {
	calls int
	path  string
	err   error
}

func (m *mockDocs) Generate(contract *models.DepositContract) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.path, nil
}

type mockNotifier struct {
	userEvents  []string
	adminEvents []string
	err         error
}

func (m *mockNotifier) NotifyUser(userID uint, event string, contract *models.DepositContract) error {
	m.userEvents = append(m.userEvents, event)
	return m.err
}

func (m *mockNotifier) NotifyAdmins(event string, contract *models.DepositContract) error {
	m.adminEvents = append(m.adminEvents, event)
	return m.err
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.DepositContract{}, &models.PaymentAttempt{}))
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMachine(t *testing.T) (*escrow.Machine, *escrow.Store, *mockDocs, *mockNotifier) {
	db := setupTestDB(t)
	store := escrow.NewStore(db)
	docs := &mockDocs{path: "documents/receipt.txt"}
	notifier := &mockNotifier{}
	dispatcher := escrow.NewDispatcher(docs, notifier, store, testLogger())
	machine := escrow.NewMachine(store, dispatcher, testLogger())
	return machine, store, docs, notifier
}

func newContract(t *testing.T, store *escrow.Store, expiresAt time.Time) *models.DepositContract {
	amount := decimal.NewFromInt(5000000)
	contract := &models.DepositContract{
		ContractCode: escrow.NewContractCode("Budi Santoso", amount, time.Now()),
		TenantID:     1,
		LandlordID:   2,
		PropertyID:   3,
		TenantName:   "Budi Santoso",
		LandlordName: "Ibu Sari",
		PropertyName: "Kost Melati 12",
		Amount:       amount,
		Channel:      models.ChannelBank,
		Status:       models.StatusPending,
		ExpiresAt:    expiresAt,
	}
	require.NoError(t, store.Create(contract))
	return contract
}

func attemptsWithStatus(t *testing.T, store *escrow.Store, contractID uint, status string) int {
	attempts, err := store.Attempts(contractID)
	require.NoError(t, err)
	n := 0
	for _, a := range attempts {
		if a.Status == status {
			n++
		}
	}
	return n
}

// paid_at must be set iff the contract is paid, checked after every
// transition in these tests.
func assertPaidAtInvariant(t *testing.T, store *escrow.Store, code string) {
	contract, err := store.GetByCode(code)
	require.NoError(t, err)
	if contract.Status == models.StatusPaid {
		assert.NotNil(t, contract.PaidAt)
	} else {
		assert.Nil(t, contract.PaidAt)
	}
}

func TestHappyPathBankTransfer(t *testing.T) {
	machine, store, docs, notifier := newTestMachine(t)
	contract := newContract(t, store, time.Now().Add(30*time.Minute))

	// Created pending, paid_at unset, one pending attempt.
	assert.Equal(t, models.StatusPending, contract.Status)
	assert.Nil(t, contract.PaidAt)
	assert.Equal(t, 1, attemptsWithStatus(t, store, contract.ID, "pending"))
	assertPaidAtInvariant(t, store, contract.ContractCode)

	// Tenant says "I have paid".
	updated, err := machine.Apply(contract.ContractCode, escrow.EventMarkPaid,
		escrow.Actor{UserID: 1, Role: escrow.RoleTenant}, escrow.TransitionMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitingConfirmation, updated.Status)
	assertPaidAtInvariant(t, store, contract.ContractCode)

	// Landlord of record confirms receipt.
	updated, err = machine.Apply(contract.ContractCode, escrow.EventConfirm,
		escrow.Actor{UserID: 2, Role: escrow.RoleLandlord},
		escrow.TransitionMeta{TransactionID: "manual-001"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, updated.Status)
	require.NotNil(t, updated.PaidAt)
	require.NotNil(t, updated.TransactionID)
	assert.Equal(t, "manual-001", *updated.TransactionID)
	assertPaidAtInvariant(t, store, contract.ContractCode)

	// One document, both parties notified.
	assert.Equal(t, 1, docs.calls)
	assert.Equal(t, []string{escrow.NotifDepositPaid, escrow.NotifDepositPaid}, notifier.userEvents)

	stored, err := store.GetByCode(contract.ContractCode)
	require.NoError(t, err)
	require.NotNil(t, stored.DocumentURL)
	assert.Equal(t, "documents/receipt.txt", *stored.DocumentURL)

	assert.Equal(t, 1, attemptsWithStatus(t, store, contract.ID, "paid"))
}

func TestConfirmIsIdempotent(t *testing.T) {
	machine, store, docs, notifier := newTestMachine(t)
	contract := newContract(t, store, time.Now().Add(time.Hour))

	_, err := machine.Apply(contract.ContractCode, escrow.EventConfirm,
		escrow.Actor{Gateway: true}, escrow.TransitionMeta{TransactionID: "gw-1"})
	require.NoError(t, err)

	// Replayed confirmation is rejected without touching anything.
	_, err = machine.Apply(contract.ContractCode, escrow.EventConfirm,
		escrow.Actor{Gateway: true}, escrow.TransitionMeta{TransactionID: "gw-1"})
	assert.ErrorIs(t, err, escrow.ErrInvalidTransition)

	assert.Equal(t, 1, attemptsWithStatus(t, store, contract.ID, "paid"))
	assert.Equal(t, 1, docs.calls)
	assert.Len(t, notifier.userEvents, 2) // one dispatch: landlord + tenant

	// Terminal state is sticky.
	stored, err := store.GetByCode(contract.ContractCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
}

// A gateway webhook and a manual landlord confirmation racing on the
// same pending contract: exactly one wins, the loser sees an invalid
// transition, and the audit trail and dispatcher each record one paid.
func TestConcurrentConfirmations(t *testing.T) {
	db := setupTestDB(t)
	// In-memory sqlite gives every pooled connection its own database;
	// one connection keeps both goroutines on the same tables.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := escrow.NewStore(db)
	docs := &mockDocs{path: "documents/receipt.txt"}
	notifier := &mockNotifier{}
	dispatcher := escrow.NewDispatcher(docs, notifier, store, testLogger())
	machine := escrow.NewMachine(store, dispatcher, testLogger())

	contract := newContract(t, store, time.Now().Add(time.Hour))

	start := make(chan struct{})
	results := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, err := machine.Apply(contract.ContractCode, escrow.EventConfirm,
			escrow.Actor{Gateway: true}, escrow.TransitionMeta{TransactionID: "gw-race"})
		results <- err
	}()
	go func() {
		defer wg.Done()
		<-start
		_, err := machine.Apply(contract.ContractCode, escrow.EventConfirm,
			escrow.Actor{UserID: 2, Role: escrow.RoleLandlord},
			escrow.TransitionMeta{TransactionID: "manual-race"})
		results <- err
	}()

	close(start)
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, escrow.ErrInvalidTransition):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	stored, err := store.GetByCode(contract.ContractCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)

	assert.Equal(t, 1, attemptsWithStatus(t, store, contract.ID, "paid"))
	assert.Equal(t, 1, docs.calls)
	assert.Len(t, notifier.userEvents, 2)
}

func TestAuthorization(t *testing.T) {
	machine, store, _, _ := newTestMachine(t)
	contract := newContract(t, store, time.Now().Add(time.Hour))

	// A different tenant cannot claim payment.
	_, err := machine.Apply(contract.ContractCode, escrow.EventMarkPaid,
		escrow.Actor{UserID: 99, Role: escrow.RoleTenant}, escrow.TransitionMeta{})
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	// The tenant of record cannot confirm their own payment.
	_, err = machine.Apply(contract.ContractCode, escrow.EventConfirm,
		escrow.Actor{UserID: 1, Role: escrow.RoleTenant}, escrow.TransitionMeta{})
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	// A landlord from another contract cannot confirm.
	_, err = machine.Apply(contract.ContractCode, escrow.EventConfirm,
		escrow.Actor{UserID: 77, Role: escrow.RoleLandlord}, escrow.TransitionMeta{})
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	// Nothing moved.
	stored, err := store.GetByCode(contract.ContractCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, 0, attemptsWithStatus(t, store, contract.ID, "paid"))

	// Admin confirmation is allowed.
	_, err = machine.Apply(contract.ContractCode, escrow.EventConfirm,
		escrow.Actor{UserID: 5, Role: escrow.RoleAdmin}, escrow.TransitionMeta{})
	assert.NoError(t, err)
}

func TestCancelOnlyFromPending(t *testing.T) {
	machine, store, _, _ := newTestMachine(t)
	contract := newContract(t, store, time.Now().Add(time.Hour))

	_, err := machine.Apply(contract.ContractCode, escrow.EventMarkPaid,
		escrow.Actor{UserID: 1, Role: escrow.RoleTenant}, escrow.TransitionMeta{})
	require.NoError(t, err)

	// Cannot cancel once the contract left pending.
	_, err = machine.Apply(contract.ContractCode, escrow.EventCancel,
		escrow.Actor{UserID: 1, Role: escrow.RoleTenant}, escrow.TransitionMeta{})
	assert.ErrorIs(t, err, escrow.ErrInvalidTransition)
}

func TestCancelPending(t *testing.T) {
	machine, store, docs, _ := newTestMachine(t)
	contract := newContract(t, store, time.Now().Add(time.Hour))

	updated, err := machine.Apply(contract.ContractCode, escrow.EventCancel,
		escrow.Actor{UserID: 1, Role: escrow.RoleTenant}, escrow.TransitionMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, updated.Status)
	assert.Equal(t, 1, attemptsWithStatus(t, store, contract.ID, "cancelled"))
	assert.Equal(t, 0, docs.calls)
	assertPaidAtInvariant(t, store, contract.ContractCode)

	// A confirmation after cancellation is rejected.
	_, err = machine.Apply(contract.ContractCode, escrow.EventConfirm,
		escrow.Actor{Gateway: true}, escrow.TransitionMeta{})
	assert.ErrorIs(t, err, escrow.ErrInvalidTransition)
}

func TestUnknownContract(t *testing.T) {
	machine, _, _, _ := newTestMachine(t)

	_, err := machine.Apply("DEP-NOPE", escrow.EventConfirm,
		escrow.Actor{Gateway: true}, escrow.TransitionMeta{})
	assert.ErrorIs(t, err, escrow.ErrNotFound)
}

func TestDispatcherFailureDoesNotFailConfirmation(t *testing.T) {
	db := setupTestDB(t)
	store := escrow.NewStore(db)
	docs := &mockDocs{err: errors.New("renderer down")}
	notifier := &mockNotifier{err: errors.New("smtp down")}
	dispatcher := escrow.NewDispatcher(docs, notifier, store, testLogger())
	machine := escrow.NewMachine(store, dispatcher, testLogger())

	contract := newContract(t, store, time.Now().Add(time.Hour))

	updated, err := machine.Apply(contract.ContractCode, escrow.EventConfirm,
		escrow.Actor{Gateway: true}, escrow.TransitionMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, updated.Status)

	stored, err := store.GetByCode(contract.ContractCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
	assert.Nil(t, stored.DocumentURL)
}

func TestRecordFailureKeepsStatus(t *testing.T) {
	machine, store, docs, _ := newTestMachine(t)
	contract := newContract(t, store, time.Now().Add(time.Hour))

	err := machine.RecordFailure(contract.ContractCode, []byte(`{"state":"failed"}`))
	require.NoError(t, err)

	stored, err := store.GetByCode(contract.ContractCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, 1, attemptsWithStatus(t, store, contract.ID, "failed"))
	assert.Equal(t, 0, docs.calls)

	// Still payable after a failed attempt.
	_, err = machine.Apply(contract.ContractCode, escrow.EventConfirm,
		escrow.Actor{Gateway: true}, escrow.TransitionMeta{})
	assert.NoError(t, err)
}

func TestPaidAtUsesMachineClock(t *testing.T) {
	machine, store, _, _ := newTestMachine(t)
	fixed := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	machine.WithClock(func() time.Time { return fixed })

	contract := newContract(t, store, fixed.Add(time.Hour))

	updated, err := machine.Apply(contract.ContractCode, escrow.EventConfirm,
		escrow.Actor{Gateway: true}, escrow.TransitionMeta{})
	require.NoError(t, err)
	require.NotNil(t, updated.PaidAt)
	assert.True(t, updated.PaidAt.Equal(fixed))
}
