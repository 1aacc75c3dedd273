package escrow

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zaprent/depositapi/config"
	"github.com/zaprent/depositapi/models"
)

// Instruction is what a tenant needs to actually pay: a QR payload, a
// link, and human-readable account details. Generated once at contract
// creation and snapshotted onto the row.
type Instruction struct {
	QRPayload   string
	PaymentURL  string
	AccountInfo map[string]string
}

// channelAdapter builds the instruction for one payment rail. Adding a
// channel means adding an adapter here; the state machine never changes.
type channelAdapter interface {
	Build(code string, amount decimal.Decimal) Instruction
}

// Builder dispatches to the adapter for the contract's channel.
type Builder struct {
	adapters map[models.PaymentChannel]channelAdapter
}

func NewBuilder(cfg config.GatewayConfig) *Builder {
	return &Builder{adapters: map[models.PaymentChannel]channelAdapter{
		models.ChannelWallet: walletAdapter{merchantID: cfg.WalletMerchantID},
		models.ChannelCard:   cardAdapter{checkoutURL: cfg.CardCheckoutURL},
		models.ChannelBank: bankAdapter{
			bankName:    cfg.BankName,
			accountNo:   cfg.BankAccountNo,
			accountName: cfg.BankAccountName,
		},
	}}
}

// Build returns the instruction for the given channel, or an error for a
// channel the platform does not support.
func (b *Builder) Build(ch models.PaymentChannel, code string, amount decimal.Decimal) (Instruction, error) {
	adapter, ok := b.adapters[ch]
	if !ok {
		return Instruction{}, fmt.Errorf("unsupported payment channel %q", ch)
	}
	return adapter.Build(code, amount), nil
}

// walletAdapter renders a mobile-wallet deep link. The QR payload is the
// same link so scanning and tapping land in the same place.
type walletAdapter struct {
	merchantID string
}

func (a walletAdapter) Build(code string, amount decimal.Decimal) Instruction {
	q := url.Values{}
	q.Set("merchant", a.merchantID)
	q.Set("ref", code)
	q.Set("amount", amount.StringFixed(2))
	link := "zappay://pay?" + q.Encode()

	return Instruction{
		QRPayload:  link,
		PaymentURL: link,
		AccountInfo: map[string]string{
			"merchant_id": a.merchantID,
			"reference":   code,
		},
	}
}

// cardAdapter redirects to the hosted card checkout page.
type cardAdapter struct {
	checkoutURL string
}

func (a cardAdapter) Build(code string, amount decimal.Decimal) Instruction {
	q := url.Values{}
	q.Set("ref", code)
	q.Set("amount", amount.StringFixed(2))
	link := a.checkoutURL + "?" + q.Encode()

	return Instruction{
		QRPayload:  link,
		PaymentURL: link,
		AccountInfo: map[string]string{
			"checkout_url": a.checkoutURL,
			"reference":    code,
		},
	}
}

// bankAdapter renders a structured transfer payload. The QR carries the
// pipe-delimited fields a banking app needs; the account details are the
// human fallback.
type bankAdapter struct {
	bankName    string
	accountNo   string
	accountName string
}

func (a bankAdapter) Build(code string, amount decimal.Decimal) Instruction {
	payload := strings.Join([]string{
		"BANKTRF", a.bankName, a.accountNo, amount.StringFixed(2), code,
	}, "|")

	return Instruction{
		QRPayload:  payload,
		PaymentURL: "https://pay.zaprent.example/transfer/" + code,
		AccountInfo: map[string]string{
			"bank_name":     a.bankName,
			"account_no":    a.accountNo,
			"account_name":  a.accountName,
			"transfer_memo": code,
		},
	}
}
