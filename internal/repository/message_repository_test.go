// internal/repository/message_repository_test.go
package repository

import (
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapfy/broadcast-backend/internal/model"
)

func TestMessageGetByWamIDUnknownReturnsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM messages WHERE wamid=\$1`).
		WithArgs("wamid.unknown").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := &MessageRepository{DB: db}
	msg, err := repo.GetByWamID("wamid.unknown")
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestMarkDeliveredOnlyFromSent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE messages SET status=\$1 WHERE wamid=\$2 AND status=\$3`).
		WithArgs(model.MessageDelivered, "wamid.1", model.MessageSent).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Replayed event: the row is already DELIVERED, nothing matches.
	mock.ExpectExec(`UPDATE messages SET status=\$1 WHERE wamid=\$2 AND status=\$3`).
		WithArgs(model.MessageDelivered, "wamid.1", model.MessageSent).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := &MessageRepository{DB: db}

	transitioned, err := repo.MarkDelivered("wamid.1")
	require.NoError(t, err)
	assert.True(t, transitioned)

	transitioned, err = repo.MarkDelivered("wamid.1")
	require.NoError(t, err)
	assert.False(t, transitioned)
}

func TestMarkReadReturnsCampaignID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`UPDATE messages SET status=\$1`).
		WithArgs(model.MessageRead, "wamid.1", model.MessageSent, model.MessageDelivered).
		WillReturnRows(sqlmock.NewRows([]string{"broadcast_campaign_id"}).AddRow("camp-1"))

	repo := &MessageRepository{DB: db}
	transitioned, campaignID, err := repo.MarkRead("wamid.1")
	require.NoError(t, err)
	assert.True(t, transitioned)
	require.NotNil(t, campaignID)
	assert.Equal(t, "camp-1", *campaignID)
}

func TestMarkReadNonBroadcastMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`UPDATE messages SET status=\$1`).
		WithArgs(model.MessageRead, "wamid.2", model.MessageSent, model.MessageDelivered).
		WillReturnRows(sqlmock.NewRows([]string{"broadcast_campaign_id"}).AddRow(nil))

	repo := &MessageRepository{DB: db}
	transitioned, campaignID, err := repo.MarkRead("wamid.2")
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Nil(t, campaignID)
}

func TestMarkReadAlreadyRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`UPDATE messages SET status=\$1`).
		WithArgs(model.MessageRead, "wamid.1", model.MessageSent, model.MessageDelivered).
		WillReturnRows(sqlmock.NewRows([]string{"broadcast_campaign_id"}))

	repo := &MessageRepository{DB: db}
	transitioned, campaignID, err := repo.MarkRead("wamid.1")
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.Nil(t, campaignID)
}

func TestMarkFailedSkipsTerminalStatuses(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	args := []driver.Value{model.MessageFailed, "131049", "rate limited", "wamid.1", model.MessageRead}
	mock.ExpectExec(`UPDATE messages SET status=\$1, error_code=\$2, error_desc=\$3`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE messages SET status=\$1, error_code=\$2, error_desc=\$3`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := &MessageRepository{DB: db}

	transitioned, err := repo.MarkFailed("wamid.1", "131049", "rate limited")
	require.NoError(t, err)
	assert.True(t, transitioned)

	transitioned, err = repo.MarkFailed("wamid.1", "131049", "rate limited")
	require.NoError(t, err)
	assert.False(t, transitioned)
}
