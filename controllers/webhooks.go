package controllers

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/zaprent/depositapi/escrow"
	"github.com/zaprent/depositapi/gateway"
	"github.com/zaprent/depositapi/models"
)

// webhookChannels maps the URL segment to the payment channel.
var webhookChannels = map[string]models.PaymentChannel{
	"wallet": models.ChannelWallet,
	"card":   models.ChannelCard,
	"bank":   models.ChannelBank,
}

// Webhook ingests an asynchronous gateway callback. Unverified payloads
// are rejected before the state machine sees them. A replayed delivery
// for an already-paid contract is acknowledged as if it were fresh;
// the gateway only needs to know it can stop retrying.
func (b *Base) Webhook(c *gin.Context) {
	channel, ok := webhookChannels[c.Param("channel")]
	if !ok {
		c.JSON(404, gin.H{"error": "unknown channel"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(400, gin.H{"error": "unreadable body"})
		return
	}

	notif, err := b.Parser.Parse(channel, body)
	if err != nil {
		if errors.Is(err, escrow.ErrUnverifiedPayload) {
			b.Logger.Warn("rejected unverified webhook", "channel", string(channel))
			c.JSON(403, gin.H{"error": "signature verification failed"})
			return
		}
		b.Logger.Warn("undecodable webhook", "channel", string(channel), "error", err)
		c.JSON(400, gin.H{"error": "invalid payload"})
		return
	}

	if !notif.Success {
		if err := b.Machine.RecordFailure(notif.ContractCode, notif.Raw); err != nil {
			if errors.Is(err, escrow.ErrNotFound) {
				c.JSON(404, gin.H{"error": "contract not found"})
				return
			}
			b.Logger.Error("recording gateway failure", "contract_code", notif.ContractCode, "error", err)
		}
		c.JSON(200, gateway.AckBody(channel))
		return
	}

	_, err = b.Machine.Apply(notif.ContractCode, escrow.EventConfirm, escrow.Actor{Gateway: true},
		escrow.TransitionMeta{TransactionID: notif.TransactionID, GatewayResponse: notif.Raw})
	switch {
	case err == nil:
		// Confirmed.
	case errors.Is(err, escrow.ErrInvalidTransition):
		// Duplicate delivery or a lost race: the contract already left
		// the payable states. Still an OK to the gateway.
		b.Logger.Info("webhook no-op", "contract_code", notif.ContractCode, "channel", string(channel))
	case errors.Is(err, escrow.ErrNotFound):
		c.JSON(404, gin.H{"error": "contract not found"})
		return
	default:
		b.Logger.Error("webhook transition failed", "contract_code", notif.ContractCode, "error", err)
		c.JSON(500, gin.H{"error": "internal error"})
		return
	}

	c.JSON(200, gateway.AckBody(channel))
}
