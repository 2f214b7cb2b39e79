// internal/repository/list_repository.go
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/zapfy/broadcast-backend/internal/model"
)

type ListRepositoryInterface interface {
	GetByID(listID, instanceID string) (*model.BroadcastList, error)
	ListMembers(listID string) ([]*model.ListMember, error)
}

type ListRepository struct {
	DB *sql.DB
}

var _ ListRepositoryInterface = (*ListRepository)(nil)

// GetByID returns the list only when it belongs to the given instance,
// so callers cannot reach across tenants. Missing rows return nil.
func (r *ListRepository) GetByID(listID, instanceID string) (*model.BroadcastList, error) {
	query := `
		SELECT id, instance_id, name, additional_params, created_at
		FROM broadcast_lists WHERE id=$1 AND instance_id=$2
	`
	var l model.BroadcastList
	err := r.DB.QueryRow(query, listID, instanceID).Scan(
		&l.ID, &l.InstanceID, &l.Name, pq.Array(&l.AdditionalParams), &l.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// ListMembers returns every member of the list joined with its contact,
// in insertion order so bulk submission stays deterministic.
func (r *ListRepository) ListMembers(listID string) ([]*model.ListMember, error) {
	query := `
		SELECT m.id, m.broadcast_list_id, m.contact_id, c.wa_id, m.additional_params
		FROM broadcast_list_members m
		JOIN contacts c ON c.id = m.contact_id
		WHERE m.broadcast_list_id=$1
		ORDER BY m.created_at
	`
	rows, err := r.DB.Query(query, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []*model.ListMember{}
	for rows.Next() {
		var m model.ListMember
		var params []byte
		if err := rows.Scan(&m.ID, &m.BroadcastListID, &m.ContactID, &m.ContactWaID, &params); err != nil {
			return nil, err
		}
		if len(params) > 0 && string(params) != "null" {
			if err := json.Unmarshal(params, &m.AdditionalParams); err != nil {
				return nil, fmt.Errorf("unmarshal member params: %w", err)
			}
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}
