// internal/model/instance.go
package model

// Instance is one provisioned WhatsApp Business number. Its credentials
// are read-only shared state across workers.
type Instance struct {
	ID             string `db:"id" json:"id"`
	OrganizationID string `db:"organization_id" json:"organization_id"`
	PhoneNumberID  string `db:"phone_number_id" json:"phone_number_id"`
	AccessToken    string `db:"access_token" json:"-"`
}

// Template is an approved provider message template.
type Template struct {
	ID         string `db:"id" json:"id"`
	InstanceID string `db:"instance_id" json:"instance_id"`
	Name       string `db:"name" json:"name"`
	Language   string `db:"language" json:"language"`
}
