package escrow

import (
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"github.com/zaprent/depositapi/models"
)

// Event is a requested lifecycle transition.
type Event string

const (
	// EventMarkPaid is the tenant's "I have paid" claim.
	EventMarkPaid Event = "mark_paid"
	// EventConfirm is a payment confirmation from a gateway or a human.
	EventConfirm Event = "confirm"
	// EventCancel is a tenant-initiated cancellation.
	EventCancel Event = "cancel"
	// EventExpire is the sweeper forcing a stale contract out.
	EventExpire Event = "expire"
)

// Actor identifies who is firing an event. Exactly one of the three
// shapes applies: a user (ID+Role), a verified gateway callback, or the
// system sweeper.
type Actor struct {
	UserID  uint
	Role    string
	Gateway bool
	System  bool
}

const (
	RoleTenant   = "tenant"
	RoleLandlord = "landlord"
	RoleAdmin    = "admin"
)

// TransitionMeta carries optional correlation data into a transition.
type TransitionMeta struct {
	TransactionID   string
	GatewayResponse []byte
}

// Machine validates and applies lifecycle transitions. It is the only
// component allowed to change a contract's status; webhooks, manual
// confirmation and the sweeper all funnel through Apply, which is where
// idempotency lives.
type Machine struct {
	store      *Store
	dispatcher *Dispatcher
	now        func() time.Time
	logger     *slog.Logger
}

func NewMachine(store *Store, dispatcher *Dispatcher, logger *slog.Logger) *Machine {
	return &Machine{
		store:      store,
		dispatcher: dispatcher,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock overrides the machine's clock. Tests only.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Apply loads the contract, checks the actor against the event, and
// performs the transition as a conditional update on the persisted
// status. On a lost race or an already-terminal contract it returns
// ErrInvalidTransition without writing anything. The side-effect
// dispatcher fires only on the one call that wins the transition into
// paid; a replayed confirmation cannot dispatch twice.
func (m *Machine) Apply(code string, event Event, actor Actor, meta TransitionMeta) (*models.DepositContract, error) {
	contract, err := m.store.GetByCode(code)
	if err != nil {
		return nil, err
	}

	if err := authorize(contract, event, actor); err != nil {
		return nil, err
	}

	from, to := route(event)
	if !statusIn(contract.Status, from) {
		// The conditional update below re-checks against the persisted
		// row; this only shortcuts the obvious case.
		return nil, ErrInvalidTransition
	}

	updates := map[string]interface{}{}
	if to == models.StatusPaid {
		updates["paid_at"] = m.now()
		if meta.TransactionID != "" {
			updates["transaction_id"] = meta.TransactionID
		}
	}

	var payload datatypes.JSON
	if len(meta.GatewayResponse) > 0 {
		payload = datatypes.JSON(meta.GatewayResponse)
	}

	updated, err := m.store.transition(code, from, to, updates, payload)
	if err != nil {
		return nil, err
	}

	m.logger.Info("contract transition",
		"contract_code", code,
		"event", string(event),
		"from", string(contract.Status),
		"to", string(to),
	)

	if to == models.StatusPaid {
		// Synchronous, but failures are logged and swallowed: a broken
		// document service must not fail a committed confirmation.
		m.dispatcher.PaymentConfirmed(updated)
	}

	return updated, nil
}

// RecordFailure appends a failed gateway attempt to the audit trail. The
// contract keeps its status; the instruction stays payable until expiry.
func (m *Machine) RecordFailure(code string, gatewayResponse []byte) error {
	contract, err := m.store.GetByCode(code)
	if err != nil {
		return err
	}
	return m.store.AppendFailure(contract, datatypes.JSON(gatewayResponse))
}

// route maps an event to its legal source statuses and its target.
func route(event Event) (from []models.ContractStatus, to models.ContractStatus) {
	switch event {
	case EventMarkPaid:
		return []models.ContractStatus{models.StatusPending}, models.StatusWaitingConfirmation
	case EventConfirm:
		return []models.ContractStatus{models.StatusPending, models.StatusWaitingConfirmation}, models.StatusPaid
	case EventCancel:
		return []models.ContractStatus{models.StatusPending}, models.StatusCancelled
	case EventExpire:
		return []models.ContractStatus{models.StatusPending}, models.StatusExpired
	default:
		return nil, ""
	}
}

// authorize enforces who may fire which event, before any state is
// touched. Confirmation accepts a verified gateway, an admin, or the
// landlord of record; everything tenant-initiated requires the tenant of
// record; expiry is the system's alone.
func authorize(contract *models.DepositContract, event Event, actor Actor) error {
	switch event {
	case EventMarkPaid, EventCancel:
		if actor.Role == RoleTenant && actor.UserID == contract.TenantID {
			return nil
		}
	case EventConfirm:
		if actor.Gateway {
			return nil
		}
		if actor.Role == RoleAdmin {
			return nil
		}
		if actor.Role == RoleLandlord && actor.UserID == contract.LandlordID {
			return nil
		}
	case EventExpire:
		if actor.System {
			return nil
		}
	}
	return ErrUnauthorized
}

func statusIn(status models.ContractStatus, set []models.ContractStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
