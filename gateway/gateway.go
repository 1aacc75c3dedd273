// Package gateway translates channel-specific webhook payloads into the
// canonical confirmation event the state machine understands, verifying
// each payload against its channel's shared secret first. Gateways
// retry webhooks, so everything downstream of here must be replay-safe.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zaprent/depositapi/config"
	"github.com/zaprent/depositapi/escrow"
	"github.com/zaprent/depositapi/models"
)

// Notification is the canonical shape of a gateway callback: which
// contract, whether the payment went through, and the gateway's own
// correlation id. Raw keeps the original body for the audit trail.
type Notification struct {
	ContractCode  string
	Success       bool
	TransactionID string
	Raw           []byte
}

// decoder parses and verifies one channel's payload format.
type decoder func(body []byte, secret string) (*Notification, error)

// Parser maps webhook bodies to notifications, per channel.
type Parser struct {
	decoders map[models.PaymentChannel]decoder
	secrets  map[models.PaymentChannel]string
}

func NewParser(cfg config.GatewayConfig) *Parser {
	return &Parser{
		decoders: map[models.PaymentChannel]decoder{
			models.ChannelWallet: decodeWallet,
			models.ChannelCard:   decodeCard,
			models.ChannelBank:   decodeBank,
		},
		secrets: map[models.PaymentChannel]string{
			models.ChannelWallet: cfg.WalletSecret,
			models.ChannelCard:   cfg.CardSecret,
			models.ChannelBank:   cfg.BankSecret,
		},
	}
}

// Parse verifies and decodes a webhook body for the given channel.
// A bad signature returns escrow.ErrUnverifiedPayload; the caller must
// not let such a payload anywhere near the state machine.
func (p *Parser) Parse(ch models.PaymentChannel, body []byte) (*Notification, error) {
	dec, ok := p.decoders[ch]
	if !ok {
		return nil, fmt.Errorf("unknown webhook channel %q", ch)
	}
	return dec(body, p.secrets[ch])
}

// AckBody returns the acknowledgement shape the channel's gateway
// expects. Gateways must see this on every delivery, including no-op
// replays, so they stop retrying.
func AckBody(ch models.PaymentChannel) map[string]interface{} {
	switch ch {
	case models.ChannelWallet:
		return map[string]interface{}{"status": "ok"}
	case models.ChannelCard:
		return map[string]interface{}{"result": "ACKNOWLEDGED"}
	case models.ChannelBank:
		return map[string]interface{}{"code": "00", "message": "success"}
	default:
		return map[string]interface{}{"status": "ok"}
	}
}

// walletPayload is the wallet gateway's callback. The signature is
// hex(hmac-sha256(secret, order_id+transaction_id+transaction_status)).
type walletPayload struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	Signature         string `json:"signature"`
}

func decodeWallet(body []byte, secret string) (*Notification, error) {
	var p walletPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode wallet payload: %w", err)
	}
	if !verifyHMAC(secret, p.OrderID+p.TransactionID+p.TransactionStatus, p.Signature) {
		return nil, escrow.ErrUnverifiedPayload
	}
	return &Notification{
		ContractCode:  p.OrderID,
		Success:       p.TransactionStatus == "settlement",
		TransactionID: p.TransactionID,
		Raw:           body,
	}, nil
}

// cardPayload is the card gateway's callback. The signature is
// hex(hmac-sha256(secret, reference+payment_id+status)).
type cardPayload struct {
	Reference string `json:"reference"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Signature string `json:"signature"`
}

func decodeCard(body []byte, secret string) (*Notification, error) {
	var p cardPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode card payload: %w", err)
	}
	if !verifyHMAC(secret, p.Reference+p.PaymentID+p.Status, p.Signature) {
		return nil, escrow.ErrUnverifiedPayload
	}
	return &Notification{
		ContractCode:  p.Reference,
		Success:       p.Status == "CAPTURED",
		TransactionID: p.PaymentID,
		Raw:           body,
	}, nil
}

// bankPayload is the bank-transfer gateway's callback. The checksum is
// hex(hmac-sha256(secret, va_ref+tx_id+state)).
type bankPayload struct {
	VARef    string `json:"va_ref"`
	TxID     string `json:"tx_id"`
	State    string `json:"state"`
	Checksum string `json:"checksum"`
}

func decodeBank(body []byte, secret string) (*Notification, error) {
	var p bankPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode bank payload: %w", err)
	}
	if !verifyHMAC(secret, p.VARef+p.TxID+p.State, p.Checksum) {
		return nil, escrow.ErrUnverifiedPayload
	}
	return &Notification{
		ContractCode:  p.VARef,
		Success:       p.State == "completed",
		TransactionID: p.TxID,
		Raw:           body,
	}, nil
}

// Sign computes the signature a gateway would attach for the given
// message. Exported for tests and the sandbox gateway simulator.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(secret, message, signature string) bool {
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}
