// internal/model/message.go
package model

import "time"

// Message statuses. SENT and FAILED are the worker's terminal outcomes;
// only the status correlator advances SENT -> DELIVERED -> READ.
const (
	MessageSent      = "SENT"
	MessageFailed    = "FAILED"
	MessageDelivered = "DELIVERED"
	MessageRead      = "READ"
)

const (
	DirectionOutbound = "OUTBOUND"
	DirectionInbound  = "INBOUND"
)

type Message struct {
	ID         string `db:"id" json:"id"`
	WamID      string `db:"wamid" json:"wamid"`
	InstanceID string `db:"instance_id" json:"instance_id"`
	ContactID  string `db:"contact_id" json:"contact_id"`
	// CampaignID is set only for broadcast-originated messages.
	CampaignID *string `db:"broadcast_campaign_id" json:"broadcast_campaign_id,omitempty"`
	Direction  string  `db:"direction" json:"direction"`
	Type       string  `db:"type" json:"type"`
	Body       string  `db:"body" json:"body"`
	Status     string  `db:"status" json:"status"`
	ErrorCode  string  `db:"error_code" json:"error_code,omitempty"`
	ErrorDesc  string  `db:"error_desc" json:"error_desc,omitempty"`
	// TemplateParams is the audit snapshot of the values actually used
	// for this send, resolved at materialization time.
	TemplateParams *TemplateParamsSnapshot `db:"template_params" json:"template_params,omitempty"`
	Timestamp      int64                   `db:"timestamp" json:"timestamp"`
	CreatedAt      time.Time               `db:"created_at" json:"created_at"`
}

// TemplateParamsSnapshot records the values that were sent, not the
// mapping they were resolved from.
type TemplateParamsSnapshot struct {
	TemplateID   string        `json:"templateId"`
	TemplateName string        `json:"templateName"`
	Language     string        `json:"language"`
	BodyValues   []string      `json:"bodyParams"`
	ButtonValues []ButtonValue `json:"buttonParams"`
}
