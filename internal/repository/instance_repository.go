// internal/repository/instance_repository.go
package repository

import (
	"database/sql"

	"github.com/zapfy/broadcast-backend/internal/model"
)

type InstanceRepositoryInterface interface {
	GetByID(id string) (*model.Instance, error)
	FindByOrganization(organizationID string) (*model.Instance, error)
}

type TemplateRepositoryInterface interface {
	GetByID(templateID, instanceID string) (*model.Template, error)
}

type InstanceRepository struct {
	DB *sql.DB
}

var _ InstanceRepositoryInterface = (*InstanceRepository)(nil)

func (r *InstanceRepository) GetByID(id string) (*model.Instance, error) {
	var inst model.Instance
	err := r.DB.QueryRow(`
		SELECT id, organization_id, phone_number_id, access_token
		FROM whatsapp_instances WHERE id=$1
	`, id).Scan(&inst.ID, &inst.OrganizationID, &inst.PhoneNumberID, &inst.AccessToken)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &inst, nil
}

// FindByOrganization returns the organization's instance, or nil when
// none is provisioned yet.
func (r *InstanceRepository) FindByOrganization(organizationID string) (*model.Instance, error) {
	var inst model.Instance
	err := r.DB.QueryRow(`
		SELECT id, organization_id, phone_number_id, access_token
		FROM whatsapp_instances WHERE organization_id=$1
		ORDER BY created_at LIMIT 1
	`, organizationID).Scan(&inst.ID, &inst.OrganizationID, &inst.PhoneNumberID, &inst.AccessToken)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &inst, nil
}

type TemplateRepository struct {
	DB *sql.DB
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)

func (r *TemplateRepository) GetByID(templateID, instanceID string) (*model.Template, error) {
	var t model.Template
	err := r.DB.QueryRow(`
		SELECT id, instance_id, name, language
		FROM templates WHERE id=$1 AND instance_id=$2
	`, templateID, instanceID).Scan(&t.ID, &t.InstanceID, &t.Name, &t.Language)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
