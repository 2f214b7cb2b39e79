// internal/worker/correlator.go
package worker

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zapfy/broadcast-backend/internal/model"
	"github.com/zapfy/broadcast-backend/internal/notifier"
	"github.com/zapfy/broadcast-backend/internal/repository"
)

// StatusEvent is one normalized provider status callback, decoded
// upstream. The transport delivers at least once, so the same event may
// arrive any number of times.
type StatusEvent struct {
	ProviderMessageID string          `json:"providerMessageId"`
	Status            string          `json:"status"`
	Timestamp         int64           `json:"timestampUnixSeconds"`
	RecipientID       string          `json:"recipientId"`
	Errors            []ProviderError `json:"errors,omitempty"`
}

type ProviderError struct {
	Code  int    `json:"code"`
	Title string `json:"title"`
}

// Correlator applies delivery/read/failure acknowledgements back to the
// originating message and campaign. All transitions are state-gated on
// the message row, so replays cannot double-count.
type Correlator struct {
	Messages  repository.MessageRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Notifier  notifier.Notifier
}

// Apply processes one status event. A wamid we don't know is dropped
// silently: the message predates the broadcast engine or belongs to a
// different flow.
func (c *Correlator) Apply(ev StatusEvent) error {
	msg, err := c.Messages.GetByWamID(ev.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("lookup message %s: %w", ev.ProviderMessageID, err)
	}
	if msg == nil {
		log.Debug().Str("wamid", ev.ProviderMessageID).Str("status", ev.Status).Msg("status event for unknown message, dropping")
		return nil
	}

	switch strings.ToLower(ev.Status) {
	case "sent":
		// SENT is the creation state of every successful outbound
		// message; applying it could only regress a later state.
		return nil

	case "delivered":
		transitioned, err := c.Messages.MarkDelivered(ev.ProviderMessageID)
		if err != nil {
			return fmt.Errorf("mark delivered %s: %w", ev.ProviderMessageID, err)
		}
		if transitioned {
			c.emit(msg, model.MessageDelivered)
		}
		return nil

	case "read":
		transitioned, campaignID, err := c.Messages.MarkRead(ev.ProviderMessageID)
		if err != nil {
			return fmt.Errorf("mark read %s: %w", ev.ProviderMessageID, err)
		}
		if !transitioned {
			// Replay, or the message never reached a readable state.
			return nil
		}
		if campaignID != nil {
			if err := c.Campaigns.IncrementRead(*campaignID); err != nil {
				return fmt.Errorf("increment read count for campaign %s: %w", *campaignID, err)
			}
		}
		c.emit(msg, model.MessageRead)
		return nil

	case "failed":
		code, desc := flattenErrors(ev.Errors)
		transitioned, err := c.Messages.MarkFailed(ev.ProviderMessageID, code, desc)
		if err != nil {
			return fmt.Errorf("mark failed %s: %w", ev.ProviderMessageID, err)
		}
		if transitioned {
			log.Warn().Str("wamid", ev.ProviderMessageID).Str("error", desc).Msg("provider reported async failure")
			c.emit(msg, model.MessageFailed)
		}
		return nil

	default:
		log.Debug().Str("wamid", ev.ProviderMessageID).Str("status", ev.Status).Msg("ignoring unknown status")
		return nil
	}
}

func (c *Correlator) emit(msg *model.Message, status string) {
	if c.Notifier == nil {
		return
	}
	campaignID := ""
	if msg.CampaignID != nil {
		campaignID = *msg.CampaignID
	}
	c.Notifier.Emit(notifier.Event{
		Type:       notifier.EventMessageStatus,
		CampaignID: campaignID,
		ContactID:  msg.ContactID,
		WamID:      msg.WamID,
		Status:     status,
	})
}

func flattenErrors(errs []ProviderError) (code, desc string) {
	if len(errs) == 0 {
		return "", ""
	}
	first := errs[0]
	return fmt.Sprintf("%d", first.Code), first.Title
}
