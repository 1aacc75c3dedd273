package escrow

import (
	"log/slog"

	"github.com/zaprent/depositapi/models"
)

// DocumentGenerator produces the deposit receipt for a confirmed
// contract and returns where it was stored. The generator gets the final
// contract snapshot as plain data and knows nothing about the lifecycle.
type DocumentGenerator interface {
	Generate(contract *models.DepositContract) (string, error)
}

// Notifier delivers lifecycle notifications. Delivery mechanics (email,
// SMS, push) live behind this interface; retries, if any, are the
// implementation's business.
type Notifier interface {
	NotifyUser(userID uint, event string, contract *models.DepositContract) error
	NotifyAdmins(event string, contract *models.DepositContract) error
}

// Notification event names shared with collaborators.
const (
	NotifDepositPaid    = "deposit.paid"
	NotifDepositClaimed = "deposit.claimed"
	NotifDepositExpired = "deposit.expired"
)

// Dispatcher runs the once-per-confirmation side effects: document
// generation and party notification. Everything here is best-effort;
// errors are logged and never travel back into the confirmation path.
// The at-most-once guarantee comes from the state machine only calling
// this on the winning transition into paid.
type Dispatcher struct {
	docs     DocumentGenerator
	notifier Notifier
	store    *Store
	logger   *slog.Logger
}

// NewDispatcher wires the collaborators. Either may be nil when the
// deployment doesn't configure it; dispatch then skips that effect.
func NewDispatcher(docs DocumentGenerator, notifier Notifier, store *Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{docs: docs, notifier: notifier, store: store, logger: logger}
}

// PaymentConfirmed generates the deposit document and notifies both
// parties of the confirmed payment.
func (d *Dispatcher) PaymentConfirmed(contract *models.DepositContract) {
	if d.docs != nil {
		location, err := d.docs.Generate(contract)
		if err != nil {
			d.logger.Error("document generation failed",
				"contract_code", contract.ContractCode, "error", err)
		} else if err := d.store.SetDocumentURL(contract.ID, location); err != nil {
			d.logger.Error("recording document location failed",
				"contract_code", contract.ContractCode, "error", err)
		} else {
			contract.DocumentURL = &location
		}
	} else {
		d.logger.Warn("no document generator configured, skipping receipt",
			"contract_code", contract.ContractCode)
	}

	d.notify(contract.LandlordID, NotifDepositPaid, contract)
	d.notify(contract.TenantID, NotifDepositPaid, contract)
}

func (d *Dispatcher) notify(userID uint, event string, contract *models.DepositContract) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.NotifyUser(userID, event, contract); err != nil {
		d.logger.Error("notification failed",
			"contract_code", contract.ContractCode, "user_id", userID, "error", err)
	}
}
