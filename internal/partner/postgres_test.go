package partner

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eroaming/hub/internal/crypto"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *crypto.Codec) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	codec, err := crypto.NewCodec("test-passphrase")
	require.NoError(t, err)

	return NewPostgresRepositoryWithDB(db, codec), mock, codec
}

func partnerRow(codec *crypto.Codec, t *testing.T, id, apiKey string) []driver.Value {
	t.Helper()
	encrypted, err := codec.Encrypt(apiKey)
	require.NoError(t, err)
	return []driver.Value{
		id, "Operator " + id, "https://" + id + ".example.com", "/start", "POST",
		"API_KEY", encrypted, "JSON", "uid", "success", "status", "message", 3000,
	}
}

var partnerCols = []string{
	"partner_id", "name", "base_url", "start_charging_endpoint", "http_method",
	"authentication_type", "api_key", "request_format", "uid_field_name",
	"success_status_pattern", "response_status_path", "response_message_path", "timeout_ms",
}

func TestPostgresFindActive(t *testing.T) {
	repo, mock, codec := newMockRepo(t)

	rows := sqlmock.NewRows(partnerCols).
		AddRow(partnerRow(codec, t, "cpo-a", "secret-a")...).
		AddRow(partnerRow(codec, t, "cpo-b", "secret-b")...)

	mock.ExpectQuery(`SELECT .+ FROM partner_configurations\s+WHERE enabled = TRUE AND status = 'ACTIVE'`).
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT header_name, header_value FROM partner_custom_headers`).
		WithArgs("cpo-a").
		WillReturnRows(sqlmock.NewRows([]string{"header_name", "header_value"}).
			AddRow("X-Operator-Id", "a-42"))
	mock.ExpectQuery(`SELECT header_name, header_value FROM partner_custom_headers`).
		WithArgs("cpo-b").
		WillReturnRows(sqlmock.NewRows([]string{"header_name", "header_value"}))

	partners, err := repo.FindActive(context.Background())
	require.NoError(t, err)
	require.Len(t, partners, 2)

	// API keys come back decrypted.
	assert.Equal(t, "secret-a", partners[0].APIKey)
	assert.Equal(t, "secret-b", partners[1].APIKey)
	assert.Equal(t, AuthAPIKey, partners[0].AuthenticationType)
	assert.Equal(t, map[string]string{"X-Operator-Id": "a-42"}, partners[0].CustomHeaders)
	assert.Nil(t, partners[1].CustomHeaders)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByIDEnabled(t *testing.T) {
	repo, mock, codec := newMockRepo(t)

	rows := sqlmock.NewRows(partnerCols).
		AddRow(partnerRow(codec, t, "cpo-a", "secret-a")...)

	mock.ExpectQuery(`SELECT .+ FROM partner_configurations\s+WHERE partner_id = \$1 AND enabled = TRUE`).
		WithArgs("cpo-a").
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT header_name, header_value FROM partner_custom_headers`).
		WithArgs("cpo-a").
		WillReturnRows(sqlmock.NewRows([]string{"header_name", "header_value"}))

	p, err := repo.FindByIDEnabled(context.Background(), "cpo-a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "cpo-a", p.ID)
	assert.Equal(t, "secret-a", p.APIKey)
	assert.Equal(t, 3000, p.TimeoutMs)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByIDEnabledAbsent(t *testing.T) {
	repo, mock, _ := newMockRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM partner_configurations`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(partnerCols))

	p, err := repo.FindByIDEnabled(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, p)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSave(t *testing.T) {
	repo, mock, _ := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO partner_configurations`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM partner_custom_headers WHERE partner_id = \$1`).
		WithArgs("cpo-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO partner_custom_headers`).
		WithArgs("cpo-a", "X-Operator-Id", "a-42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := testPartner("cpo-a")
	p.APIKey = "secret"
	p.AuthenticationType = AuthAPIKey
	p.CustomHeaders = map[string]string{"X-Operator-Id": "a-42"}

	saved, err := repo.Save(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "cpo-a", saved.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveRollsBackOnError(t *testing.T) {
	repo, mock, _ := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO partner_configurations`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := repo.Save(context.Background(), testPartner("cpo-a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save partner")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetEnabled(t *testing.T) {
	repo, mock, _ := newMockRepo(t)

	mock.ExpectExec(`UPDATE partner_configurations SET enabled = \$2`).
		WithArgs("cpo-a", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetEnabled(context.Background(), "cpo-a", false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetEnabledUnknownPartner(t *testing.T) {
	repo, mock, _ := newMockRepo(t)

	mock.ExpectExec(`UPDATE partner_configurations SET enabled = \$2`).
		WithArgs("missing", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetEnabled(context.Background(), "missing", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
