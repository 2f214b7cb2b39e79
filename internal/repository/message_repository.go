// internal/repository/message_repository.go
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zapfy/broadcast-backend/internal/model"
)

type MessageRepositoryInterface interface {
	Create(msg *model.Message) error
	GetByWamID(wamid string) (*model.Message, error)

	// Status transitions are gated on the current state so that
	// at-least-once event delivery stays idempotent. Each returns
	// whether the row actually transitioned, and for MarkRead the
	// campaign id (when the message is broadcast-originated) so the
	// caller can bump the read counter exactly once.
	MarkDelivered(wamid string) (bool, error)
	MarkRead(wamid string) (transitioned bool, campaignID *string, err error)
	MarkFailed(wamid, errorCode, errorDesc string) (bool, error)
}

type MessageRepository struct {
	DB *sql.DB
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)

func (r *MessageRepository) Create(msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = "template"
	}
	msg.CreatedAt = time.Now()
	if msg.Timestamp == 0 {
		msg.Timestamp = msg.CreatedAt.Unix()
	}

	params, err := json.Marshal(msg.TemplateParams)
	if err != nil {
		return fmt.Errorf("marshal template params: %w", err)
	}

	query := `
		INSERT INTO messages
		(id, wamid, instance_id, contact_id, broadcast_campaign_id, direction, type, body,
		 status, error_code, error_desc, template_params, timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.DB.Exec(query,
		msg.ID, msg.WamID, msg.InstanceID, msg.ContactID, msg.CampaignID, msg.Direction, msg.Type, msg.Body,
		msg.Status, msg.ErrorCode, msg.ErrorDesc, params, msg.Timestamp, msg.CreatedAt,
	)
	return err
}

func (r *MessageRepository) GetByWamID(wamid string) (*model.Message, error) {
	query := `
		SELECT id, wamid, instance_id, contact_id, broadcast_campaign_id, direction, type, body,
		       status, error_code, error_desc, template_params, timestamp, created_at
		FROM messages WHERE wamid=$1
	`
	var msg model.Message
	var params []byte
	err := r.DB.QueryRow(query, wamid).Scan(
		&msg.ID, &msg.WamID, &msg.InstanceID, &msg.ContactID, &msg.CampaignID, &msg.Direction, &msg.Type, &msg.Body,
		&msg.Status, &msg.ErrorCode, &msg.ErrorDesc, &params, &msg.Timestamp, &msg.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(params) > 0 && string(params) != "null" {
		msg.TemplateParams = &model.TemplateParamsSnapshot{}
		if err := json.Unmarshal(params, msg.TemplateParams); err != nil {
			return nil, fmt.Errorf("unmarshal template params: %w", err)
		}
	}
	return &msg, nil
}

func (r *MessageRepository) MarkDelivered(wamid string) (bool, error) {
	res, err := r.DB.Exec(`
		UPDATE messages SET status=$1 WHERE wamid=$2 AND status=$3
	`, model.MessageDelivered, wamid, model.MessageSent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *MessageRepository) MarkRead(wamid string) (bool, *string, error) {
	var campaignID sql.NullString
	err := r.DB.QueryRow(`
		UPDATE messages SET status=$1
		WHERE wamid=$2 AND status IN ($3, $4)
		RETURNING broadcast_campaign_id
	`, model.MessageRead, wamid, model.MessageSent, model.MessageDelivered).Scan(&campaignID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil, nil
		}
		return false, nil, err
	}
	if campaignID.Valid {
		return true, &campaignID.String, nil
	}
	return true, nil, nil
}

func (r *MessageRepository) MarkFailed(wamid, errorCode, errorDesc string) (bool, error) {
	res, err := r.DB.Exec(`
		UPDATE messages SET status=$1, error_code=$2, error_desc=$3
		WHERE wamid=$4 AND status NOT IN ($1, $5)
	`, model.MessageFailed, errorCode, errorDesc, wamid, model.MessageRead)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
