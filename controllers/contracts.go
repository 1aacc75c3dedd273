package controllers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/zaprent/depositapi/escrow"
	"github.com/zaprent/depositapi/gateway"
	"github.com/zaprent/depositapi/models"
)

// Base bundles what every handler needs; main wires one up and hangs the
// routes off it.
type Base struct {
	Store     *escrow.Store
	Machine   *escrow.Machine
	Builder   *escrow.Builder
	Parser    *gateway.Parser
	Notifier  escrow.Notifier
	JWTSecret string
	// ContractTTL is the default payment deadline applied at creation.
	ContractTTL time.Duration
	Logger      *slog.Logger
}

type createContractRequest struct {
	TenantID     uint                  `json:"tenant_id"`
	LandlordID   uint                  `json:"landlord_id"`
	PropertyID   uint                  `json:"property_id"`
	TenantName   string                `json:"tenant_name"`
	LandlordName string                `json:"landlord_name"`
	PropertyName string                `json:"property_name"`
	Amount       decimal.Decimal       `json:"amount"`
	Channel      models.PaymentChannel `json:"channel"`
	// TTLMinutes overrides the default deadline when > 0.
	TTLMinutes int `json:"ttl_minutes"`
}

// CreateContract generates the code and the payment instruction, then
// persists the contract in pending. Tenants create their own contracts;
// admins may create on behalf of any tenant.
func (b *Base) CreateContract(c *gin.Context) {
	claims, ok := b.currentUser(c)
	if !ok {
		return
	}

	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "invalid request body"})
		return
	}

	switch claims.Role {
	case escrow.RoleTenant:
		req.TenantID = claims.UserID
	case escrow.RoleAdmin:
		// Admin may create for any tenant.
	default:
		c.JSON(403, gin.H{"error": "only tenants or admins can create deposit contracts"})
		return
	}

	if req.TenantID == 0 || req.LandlordID == 0 || req.PropertyID == 0 {
		c.JSON(400, gin.H{"error": "tenant_id, landlord_id and property_id are required"})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(400, gin.H{"error": "amount must be positive"})
		return
	}

	now := time.Now()
	code := escrow.NewContractCode(req.TenantName, req.Amount, now)

	instruction, err := b.Builder.Build(req.Channel, code, req.Amount)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	accountInfo, err := json.Marshal(instruction.AccountInfo)
	if err != nil {
		c.JSON(500, gin.H{"error": "building payment instruction failed"})
		return
	}

	ttl := b.ContractTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}

	contract := &models.DepositContract{
		ContractCode: code,
		TenantID:     req.TenantID,
		LandlordID:   req.LandlordID,
		PropertyID:   req.PropertyID,
		TenantName:   req.TenantName,
		LandlordName: req.LandlordName,
		PropertyName: req.PropertyName,
		Amount:       req.Amount,
		Channel:      req.Channel,
		Status:       models.StatusPending,
		ExpiresAt:    now.Add(ttl),
		QRPayload:    instruction.QRPayload,
		PaymentURL:   instruction.PaymentURL,
		AccountInfo:  datatypes.JSON(accountInfo),
	}
	if err := b.Store.Create(contract); err != nil {
		b.Logger.Error("creating contract failed", "error", err)
		c.JSON(500, gin.H{"error": "creating contract failed"})
		return
	}

	qrImage, err := escrow.EncodeQRImage(instruction.QRPayload)
	if err != nil {
		// The contract exists and is payable through the URL; the QR
		// bitmap is a rendering nicety.
		b.Logger.Error("qr encoding failed", "contract_code", code, "error", err)
	}

	c.JSON(201, gin.H{
		"contract_code": code,
		"qr_image":      qrImage,
		"payment_url":   instruction.PaymentURL,
		"account_info":  instruction.AccountInfo,
		"expires_at":    contract.ExpiresAt,
		"amount":        contract.Amount,
	})
}

// GetContract returns the full contract with its attempt history.
func (b *Base) GetContract(c *gin.Context) {
	if _, ok := b.currentUser(c); !ok {
		return
	}

	contract, err := b.Store.GetByCode(c.Param("code"))
	if err != nil {
		b.writeTransitionError(c, err)
		return
	}
	attempts, err := b.Store.Attempts(contract.ID)
	if err != nil {
		b.Logger.Error("loading attempts failed", "contract_code", contract.ContractCode, "error", err)
	}

	c.JSON(200, gin.H{
		"contract": contract,
		"attempts": attempts,
	})
}

// MarkPaid is the tenant's "I have paid" claim: pending moves to
// waiting_confirmation and the landlord plus admins are told to check.
func (b *Base) MarkPaid(c *gin.Context) {
	claims, ok := b.currentUser(c)
	if !ok {
		return
	}

	contract, err := b.Machine.Apply(c.Param("code"), escrow.EventMarkPaid, actorFrom(claims), escrow.TransitionMeta{})
	if err != nil {
		b.writeTransitionError(c, err)
		return
	}

	if b.Notifier != nil {
		if err := b.Notifier.NotifyUser(contract.LandlordID, escrow.NotifDepositClaimed, contract); err != nil {
			b.Logger.Error("notifying landlord failed", "contract_code", contract.ContractCode, "error", err)
		}
		if err := b.Notifier.NotifyAdmins(escrow.NotifDepositClaimed, contract); err != nil {
			b.Logger.Error("notifying admins failed", "contract_code", contract.ContractCode, "error", err)
		}
	}

	c.JSON(200, gin.H{"contract": contract})
}

type confirmRequest struct {
	TransactionID string `json:"transaction_id"`
}

// Confirm applies the terminal paid transition on behalf of the landlord
// of record or an admin. The landlord attests receipt; no further proof
// is demanded.
func (b *Base) Confirm(c *gin.Context) {
	claims, ok := b.currentUser(c)
	if !ok {
		return
	}

	// Body is optional; a bare confirm is fine.
	var req confirmRequest
	_ = c.ShouldBindJSON(&req)

	contract, err := b.Machine.Apply(c.Param("code"), escrow.EventConfirm, actorFrom(claims),
		escrow.TransitionMeta{TransactionID: req.TransactionID})
	if err != nil {
		b.writeTransitionError(c, err)
		return
	}

	c.JSON(200, gin.H{"contract": contract})
}

// Cancel ends a pending contract at the tenant's request.
func (b *Base) Cancel(c *gin.Context) {
	claims, ok := b.currentUser(c)
	if !ok {
		return
	}

	contract, err := b.Machine.Apply(c.Param("code"), escrow.EventCancel, actorFrom(claims), escrow.TransitionMeta{})
	if err != nil {
		b.writeTransitionError(c, err)
		return
	}

	c.JSON(200, gin.H{"contract": contract})
}

// ListWaiting returns every contract awaiting manual confirmation.
// Admin only.
func (b *Base) ListWaiting(c *gin.Context) {
	claims, ok := b.currentUser(c)
	if !ok {
		return
	}
	if claims.Role != escrow.RoleAdmin {
		c.JSON(403, gin.H{"error": "admin only"})
		return
	}

	contracts, err := b.Store.ListByStatus(models.StatusWaitingConfirmation)
	if err != nil {
		b.Logger.Error("listing waiting contracts failed", "error", err)
		c.JSON(500, gin.H{"error": "listing contracts failed"})
		return
	}
	c.JSON(200, gin.H{"contracts": contracts})
}

type tokenRequest struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
}

// IssueToken mints a development token. The marketplace's real identity
// service owns authentication; this mirror exists so the API is usable
// standalone.
func (b *Base) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(400, gin.H{"error": "user_id and role are required"})
		return
	}
	switch req.Role {
	case escrow.RoleTenant, escrow.RoleLandlord, escrow.RoleAdmin:
	default:
		c.JSON(400, gin.H{"error": "role must be tenant, landlord or admin"})
		return
	}

	token, err := GenerateToken(b.JWTSecret, req.UserID, req.Role, 24*time.Hour)
	if err != nil {
		c.JSON(500, gin.H{"error": "generating token failed"})
		return
	}
	c.JSON(200, gin.H{"access_token": token})
}

// Health is the liveness probe.
func (b *Base) Health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "up"})
}

// writeTransitionError maps the escrow error taxonomy onto HTTP.
func (b *Base) writeTransitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		c.JSON(404, gin.H{"error": "contract not found"})
	case errors.Is(err, escrow.ErrUnauthorized):
		c.JSON(403, gin.H{"error": "not allowed for this contract"})
	case errors.Is(err, escrow.ErrInvalidTransition):
		c.JSON(409, gin.H{"error": "contract is not in a state that allows this"})
	default:
		b.Logger.Error("transition failed", "error", err)
		c.JSON(500, gin.H{"error": "internal error"})
	}
}
