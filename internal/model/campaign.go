// internal/model/campaign.go
package model

import "time"

// Campaign lifecycle statuses. A campaign starts at PROCESSING and is
// flipped to COMPLETED once every materialized job reached a terminal
// outcome. CANCELLED acts as a poison flag checked by workers before
// each attempt.
const (
	CampaignProcessing = "PROCESSING"
	CampaignCompleted  = "COMPLETED"
	CampaignCancelled  = "CANCELLED"
)

type Campaign struct {
	ID               string          `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	BroadcastListID  string          `db:"broadcast_list_id" json:"broadcast_list_id"`
	InstanceID       string          `db:"instance_id" json:"instance_id"`
	TemplateID       string          `db:"template_id" json:"template_id"`
	TemplateName     string          `db:"template_name" json:"template_name"`
	TemplateLanguage string          `db:"template_language" json:"template_language"`
	TemplateParams   *TemplateParams `db:"template_params" json:"template_params,omitempty"`
	TotalContacts    int             `db:"total_contacts" json:"total_contacts"`
	SentCount        int             `db:"sent_count" json:"sent_count"`
	FailedCount      int             `db:"failed_count" json:"failed_count"`
	ReadCount        int             `db:"read_count" json:"read_count"`
	Status           string          `db:"status" json:"status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
}
