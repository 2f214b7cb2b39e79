// internal/model/broadcast_list.go
package model

import "time"

// BroadcastList is a distribution list owned by one instance.
// AdditionalParams declares the per-member profile keys every member of
// the list is expected to carry; campaign mappings may only reference
// declared keys.
type BroadcastList struct {
	ID               string    `db:"id" json:"id"`
	InstanceID       string    `db:"instance_id" json:"instance_id"`
	Name             string    `db:"name" json:"name"`
	AdditionalParams []string  `db:"additional_params" json:"additional_params"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// ListMember ties a contact to exactly one broadcast list, optionally
// with arbitrary profile attributes used for parameter resolution.
type ListMember struct {
	ID               string         `db:"id" json:"id"`
	BroadcastListID  string         `db:"broadcast_list_id" json:"broadcast_list_id"`
	ContactID        string         `db:"contact_id" json:"contact_id"`
	ContactWaID      string         `db:"contact_wa_id" json:"contact_wa_id"`
	AdditionalParams map[string]any `db:"additional_params" json:"additional_params,omitempty"`
}

type Contact struct {
	ID         string `db:"id" json:"id"`
	InstanceID string `db:"instance_id" json:"instance_id"`
	WaID       string `db:"wa_id" json:"wa_id"`
	PushName   string `db:"push_name" json:"push_name"`
}
