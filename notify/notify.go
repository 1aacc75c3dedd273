// Package notify is the default Notifier: it logs the events that a
// production deployment would hand to the email/SMS pipeline. Delivery
// mechanics are outside this service.
package notify

import (
	"log/slog"

	"github.com/zaprent/depositapi/models"
)

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyUser(userID uint, event string, contract *models.DepositContract) error {
	n.logger.Info("notify user",
		"user_id", userID,
		"event", event,
		"contract_code", contract.ContractCode,
		"amount", contract.Amount.StringFixed(2),
	)
	return nil
}

func (n *LogNotifier) NotifyAdmins(event string, contract *models.DepositContract) error {
	n.logger.Info("notify admins",
		"event", event,
		"contract_code", contract.ContractCode,
	)
	return nil
}
