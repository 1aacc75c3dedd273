package escrow

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zaprent/depositapi/models"
)

// Store is the lifecycle store: contract rows plus the append-only
// payment-attempt log. Status is only ever written through transition,
// which the state machine calls; nothing else mutates contract state.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create persists a new contract and its first "pending" attempt row in
// one transaction.
func (s *Store) Create(contract *models.DepositContract) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(contract).Error; err != nil {
			return fmt.Errorf("create contract: %w", err)
		}
		attempt := models.PaymentAttempt{
			ContractID: contract.ID,
			Amount:     contract.Amount,
			Channel:    contract.Channel,
			Status:     string(models.StatusPending),
		}
		if err := tx.Create(&attempt).Error; err != nil {
			return fmt.Errorf("append attempt: %w", err)
		}
		return nil
	})
}

// GetByCode loads a contract by its external code.
func (s *Store) GetByCode(code string) (*models.DepositContract, error) {
	var contract models.DepositContract
	err := s.db.Where("contract_code = ?", code).First(&contract).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load contract %s: %w", code, err)
	}
	return &contract, nil
}

// ListByStatus returns contracts currently in the given status, newest
// first.
func (s *Store) ListByStatus(status models.ContractStatus) ([]models.DepositContract, error) {
	var contracts []models.DepositContract
	err := s.db.Where("status = ?", status).Order("created_at DESC").Find(&contracts).Error
	if err != nil {
		return nil, fmt.Errorf("list %s contracts: %w", status, err)
	}
	return contracts, nil
}

// ListExpirable returns pending contracts whose deadline has passed.
func (s *Store) ListExpirable(now time.Time) ([]models.DepositContract, error) {
	var contracts []models.DepositContract
	err := s.db.
		Where("status = ? AND expires_at < ?", models.StatusPending, now).
		Find(&contracts).Error
	if err != nil {
		return nil, fmt.Errorf("list expirable contracts: %w", err)
	}
	return contracts, nil
}

// Attempts returns the audit trail for a contract, oldest first.
func (s *Store) Attempts(contractID uint) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	err := s.db.Where("contract_id = ?", contractID).Order("id ASC").Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// transition atomically moves a contract from one of the expected
// statuses to the target status, appending the matching attempt row.
// The guard is a single conditional UPDATE: when two callers race,
// RowsAffected tells the loser it lost and nothing of theirs is written.
// Returns the contract as persisted after the transition.
func (s *Store) transition(code string, from []models.ContractStatus, to models.ContractStatus,
	updates map[string]interface{}, gatewayResponse datatypes.JSON) (*models.DepositContract, error) {

	var contract models.DepositContract
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if updates == nil {
			updates = map[string]interface{}{}
		}
		updates["status"] = to

		res := tx.Model(&models.DepositContract{}).
			Where("contract_code = ? AND status IN ?", code, from).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Row exists in a different status, or code is unknown;
			// the machine distinguishes the two before calling us.
			return ErrInvalidTransition
		}

		if err := tx.Where("contract_code = ?", code).First(&contract).Error; err != nil {
			return fmt.Errorf("reload contract: %w", err)
		}

		attempt := models.PaymentAttempt{
			ContractID:      contract.ID,
			Amount:          contract.Amount,
			Channel:         contract.Channel,
			Status:          string(to),
			GatewayResponse: gatewayResponse,
		}
		if err := tx.Create(&attempt).Error; err != nil {
			return fmt.Errorf("append attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

// AppendFailure records a failed gateway attempt without touching the
// contract's status; the tenant can retry on the same instruction until
// the deadline.
func (s *Store) AppendFailure(contract *models.DepositContract, gatewayResponse datatypes.JSON) error {
	attempt := models.PaymentAttempt{
		ContractID:      contract.ID,
		Amount:          contract.Amount,
		Channel:         contract.Channel,
		Status:          "failed",
		GatewayResponse: gatewayResponse,
	}
	if err := s.db.Create(&attempt).Error; err != nil {
		return fmt.Errorf("append failed attempt: %w", err)
	}
	return nil
}

// SetDocumentURL records the generated document location, first writer
// wins. Used only by the side-effect dispatcher.
func (s *Store) SetDocumentURL(contractID uint, url string) error {
	err := s.db.Model(&models.DepositContract{}).
		Where("id = ? AND document_url IS NULL", contractID).
		Update("document_url", url).Error
	if err != nil {
		return fmt.Errorf("set document url: %w", err)
	}
	return nil
}
