// internal/repository/campaign_repository.go
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/zapfy/broadcast-backend/internal/errors"
	"github.com/zapfy/broadcast-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id string) (*model.Campaign, error)
	GetStatus(id string) (string, error)
	ListByList(listID string, offset, limit int, filter, status string) ([]*model.Campaign, int, error)
	UpdateStatus(id, status string) error

	// Counter mutations are single-statement SQL increments so that
	// concurrent workers and the status correlator never lose updates.
	IncrementSent(id string) error
	IncrementFailed(id string) error
	IncrementRead(id string) error

	// MarkCompletedIfDone flips PROCESSING -> COMPLETED once every job
	// reached a terminal outcome. Safe to call after every outcome.
	MarkCompletedIfDone(id string) (bool, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

const campaignColumns = `id, name, broadcast_list_id, instance_id, template_id, template_name, template_language,
	template_params, total_contacts, sent_count, failed_count, read_count, status, created_at, updated_at`

func (r *CampaignRepository) Create(c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignProcessing
	}
	c.CreatedAt = time.Now()

	params, err := json.Marshal(c.TemplateParams)
	if err != nil {
		return fmt.Errorf("marshal template params: %w", err)
	}

	query := `
		INSERT INTO broadcast_campaigns
		(id, name, broadcast_list_id, instance_id, template_id, template_name, template_language,
		 template_params, total_contacts, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.DB.Exec(query,
		c.ID, c.Name, c.BroadcastListID, c.InstanceID, c.TemplateID, c.TemplateName, c.TemplateLanguage,
		params, c.TotalContacts, c.Status, c.CreatedAt,
	)
	return err
}

func (r *CampaignRepository) GetByID(id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM broadcast_campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) GetStatus(id string) (string, error) {
	var status string
	err := r.DB.QueryRow(`SELECT status FROM broadcast_campaigns WHERE id=$1`, id).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", appErrors.NewCampaignNotFound(id)
		}
		return "", err
	}
	return status, nil
}

func (r *CampaignRepository) ListByList(listID string, offset, limit int, filter, status string) ([]*model.Campaign, int, error) {
	query := `SELECT ` + campaignColumns + ` FROM broadcast_campaigns WHERE broadcast_list_id=$1`
	args := []interface{}{listID}
	argPos := 2

	if filter != "" {
		query += fmt.Sprintf(" AND name ILIKE $%d", argPos)
		args = append(args, "%"+filter+"%")
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM broadcast_campaigns WHERE broadcast_list_id=$1`
	countArgs := []interface{}{listID}
	countPos := 2
	if filter != "" {
		countQuery += fmt.Sprintf(" AND name ILIKE $%d", countPos)
		countArgs = append(countArgs, "%"+filter+"%")
		countPos++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", countPos)
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) UpdateStatus(id, status string) error {
	res, err := r.DB.Exec(`UPDATE broadcast_campaigns SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

func (r *CampaignRepository) IncrementSent(id string) error {
	_, err := r.DB.Exec(`UPDATE broadcast_campaigns SET sent_count=sent_count+1, updated_at=NOW() WHERE id=$1`, id)
	return err
}

func (r *CampaignRepository) IncrementFailed(id string) error {
	_, err := r.DB.Exec(`UPDATE broadcast_campaigns SET failed_count=failed_count+1, updated_at=NOW() WHERE id=$1`, id)
	return err
}

func (r *CampaignRepository) IncrementRead(id string) error {
	_, err := r.DB.Exec(`UPDATE broadcast_campaigns SET read_count=read_count+1, updated_at=NOW() WHERE id=$1`, id)
	return err
}

func (r *CampaignRepository) MarkCompletedIfDone(id string) (bool, error) {
	res, err := r.DB.Exec(`
		UPDATE broadcast_campaigns SET status=$1, updated_at=NOW()
		WHERE id=$2 AND status=$3 AND sent_count+failed_count >= total_contacts
	`, model.CampaignCompleted, id, model.CampaignProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var params []byte
	err := row.Scan(
		&c.ID, &c.Name, &c.BroadcastListID, &c.InstanceID, &c.TemplateID, &c.TemplateName, &c.TemplateLanguage,
		&params, &c.TotalContacts, &c.SentCount, &c.FailedCount, &c.ReadCount, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 && string(params) != "null" {
		c.TemplateParams = &model.TemplateParams{}
		if err := json.Unmarshal(params, c.TemplateParams); err != nil {
			return nil, fmt.Errorf("unmarshal template params: %w", err)
		}
	}
	return &c, nil
}
