package partner

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/eroaming/hub/internal/crypto"
)

// PostgresRepository persists partner configurations in the
// partner_configurations and partner_custom_headers tables. API keys are
// encrypted by the codec before they hit a column and decrypted on the way
// out, so callers only ever handle plaintext.
type PostgresRepository struct {
	db     *sql.DB
	codec  *crypto.Codec
	logger *log.Logger
}

// NewPostgresRepository connects to Postgres and verifies the connection.
func NewPostgresRepository(dbURL string, codec *crypto.Codec) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresRepositoryWithDB(db, codec), nil
}

// NewPostgresRepositoryWithDB wraps an existing connection pool.
func NewPostgresRepositoryWithDB(db *sql.DB, codec *crypto.Codec) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		codec:  codec,
		logger: log.New(log.Writer(), "[PARTNER-REPO] ", log.LstdFlags),
	}
}

// EnsureSchema creates the partner tables if they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS partner_configurations (
	partner_id              TEXT PRIMARY KEY,
	name                    TEXT NOT NULL,
	base_url                TEXT NOT NULL,
	start_charging_endpoint TEXT NOT NULL,
	http_method             TEXT NOT NULL DEFAULT 'POST',
	authentication_type     TEXT NOT NULL DEFAULT 'NONE',
	api_key                 TEXT,
	request_format          TEXT NOT NULL DEFAULT 'JSON',
	uid_field_name          TEXT NOT NULL DEFAULT 'uid',
	success_status_pattern  TEXT NOT NULL DEFAULT 'success',
	response_status_path    TEXT NOT NULL DEFAULT 'status',
	response_message_path   TEXT NOT NULL DEFAULT 'message',
	timeout_ms              INTEGER NOT NULL DEFAULT 5000,
	enabled                 BOOLEAN NOT NULL DEFAULT TRUE,
	status                  TEXT NOT NULL DEFAULT 'ACTIVE',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS partner_custom_headers (
	partner_id   TEXT NOT NULL REFERENCES partner_configurations(partner_id) ON DELETE CASCADE,
	header_name  TEXT NOT NULL,
	header_value TEXT NOT NULL,
	PRIMARY KEY (partner_id, header_name)
);`

	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create partner schema: %w", err)
	}
	return nil
}

const partnerColumns = `partner_id, name, base_url, start_charging_endpoint, http_method,
	authentication_type, api_key, request_format, uid_field_name,
	success_status_pattern, response_status_path, response_message_path, timeout_ms`

// FindActive returns every enabled partner with ACTIVE status, custom
// headers included and API keys decrypted.
func (r *PostgresRepository) FindActive(ctx context.Context) ([]Partner, error) {
	query := `SELECT ` + partnerColumns + `
		FROM partner_configurations
		WHERE enabled = TRUE AND status = 'ACTIVE'
		ORDER BY partner_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active partners: %w", err)
	}
	defer rows.Close()

	var partners []Partner
	for rows.Next() {
		p, err := r.scanPartner(rows)
		if err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate partners: %w", err)
	}

	for i := range partners {
		headers, err := r.loadHeaders(ctx, partners[i].ID)
		if err != nil {
			return nil, err
		}
		partners[i].CustomHeaders = headers
	}
	return partners, nil
}

// FindByIDEnabled returns the enabled partner with the given id, or nil when
// absent.
func (r *PostgresRepository) FindByIDEnabled(ctx context.Context, id string) (*Partner, error) {
	query := `SELECT ` + partnerColumns + `
		FROM partner_configurations
		WHERE partner_id = $1 AND enabled = TRUE`

	row := r.db.QueryRowContext(ctx, query, id)
	p, err := r.scanPartner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	headers, err := r.loadHeaders(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.CustomHeaders = headers
	return &p, nil
}

// Save upserts a partner configuration and replaces its custom headers in a
// single transaction.
func (r *PostgresRepository) Save(ctx context.Context, p Partner) (Partner, error) {
	encryptedKey, err := r.codec.Encrypt(p.APIKey)
	if err != nil {
		return Partner{}, fmt.Errorf("failed to encrypt api key for partner %s: %w", p.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Partner{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO partner_configurations (
			partner_id, name, base_url, start_charging_endpoint, http_method,
			authentication_type, api_key, request_format, uid_field_name,
			success_status_pattern, response_status_path, response_message_path,
			timeout_ms, enabled, status, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,TRUE,'ACTIVE',now())
		ON CONFLICT (partner_id) DO UPDATE SET
			name = EXCLUDED.name,
			base_url = EXCLUDED.base_url,
			start_charging_endpoint = EXCLUDED.start_charging_endpoint,
			http_method = EXCLUDED.http_method,
			authentication_type = EXCLUDED.authentication_type,
			api_key = EXCLUDED.api_key,
			request_format = EXCLUDED.request_format,
			uid_field_name = EXCLUDED.uid_field_name,
			success_status_pattern = EXCLUDED.success_status_pattern,
			response_status_path = EXCLUDED.response_status_path,
			response_message_path = EXCLUDED.response_message_path,
			timeout_ms = EXCLUDED.timeout_ms,
			updated_at = now()`

	_, err = tx.ExecContext(ctx, upsert,
		p.ID, p.Name, p.BaseURL, p.StartChargingEndpoint, p.HTTPMethod,
		string(p.AuthenticationType), encryptedKey, string(p.RequestFormat),
		p.UIDFieldName, p.SuccessStatusPattern, p.ResponseStatusPath,
		p.ResponseMessagePath, p.TimeoutMs)
	if err != nil {
		return Partner{}, fmt.Errorf("failed to save partner %s: %w", p.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM partner_custom_headers WHERE partner_id = $1`, p.ID); err != nil {
		return Partner{}, fmt.Errorf("failed to clear custom headers for %s: %w", p.ID, err)
	}
	for name, value := range p.CustomHeaders {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO partner_custom_headers (partner_id, header_name, header_value) VALUES ($1,$2,$3)`,
			p.ID, name, value); err != nil {
			return Partner{}, fmt.Errorf("failed to save custom header %s for %s: %w", name, p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Partner{}, fmt.Errorf("failed to commit partner %s: %w", p.ID, err)
	}

	r.logger.Printf("Saved partner configuration - ID: %s", p.ID)
	return p, nil
}

// SetEnabled flips the enabled flag for a partner.
func (r *PostgresRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE partner_configurations SET enabled = $2, updated_at = now() WHERE partner_id = $1`,
		id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update enabled flag for %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("partner %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresRepository) scanPartner(row rowScanner) (Partner, error) {
	var p Partner
	var authType, format string
	var apiKey sql.NullString

	err := row.Scan(&p.ID, &p.Name, &p.BaseURL, &p.StartChargingEndpoint,
		&p.HTTPMethod, &authType, &apiKey, &format, &p.UIDFieldName,
		&p.SuccessStatusPattern, &p.ResponseStatusPath, &p.ResponseMessagePath,
		&p.TimeoutMs)
	if err != nil {
		return Partner{}, err
	}

	p.AuthenticationType = AuthenticationType(authType)
	p.RequestFormat = RequestFormat(format)

	if apiKey.Valid {
		plain, err := r.codec.Decrypt(apiKey.String)
		if err != nil {
			return Partner{}, fmt.Errorf("failed to decrypt api key for partner %s: %w", p.ID, err)
		}
		p.APIKey = plain
	}
	return p, nil
}

func (r *PostgresRepository) loadHeaders(ctx context.Context, partnerID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT header_name, header_value FROM partner_custom_headers WHERE partner_id = $1`,
		partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query custom headers for %s: %w", partnerID, err)
	}
	defer rows.Close()

	var headers map[string]string
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		if headers == nil {
			headers = make(map[string]string)
		}
		headers[name] = value
	}
	return headers, rows.Err()
}
