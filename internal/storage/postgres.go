package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/credvault/pkg/models"
)

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Vaults ---

func (p *PostgresBackend) CreateVault(ctx context.Context, v *models.Vault, ver *models.VaultVersion) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx,
		`INSERT INTO vaults (asset_id, name, description, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING id`,
		v.AssetID, v.Name, v.Description, v.CreatedBy, v.CreatedAt,
	).Scan(&v.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting vault: %w", err)
	}

	ver.VaultID = v.ID
	if err := insertVaultVersion(ctx, tx, ver); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresBackend) GetVault(ctx context.Context, id int64) (*models.Vault, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, asset_id, name, description, created_by, created_at, updated_at
		 FROM vaults WHERE id = $1`, id)
	return scanVault(row)
}

func (p *PostgresBackend) GetVaultByAsset(ctx context.Context, assetID int64) (*models.Vault, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, asset_id, name, description, created_by, created_at, updated_at
		 FROM vaults WHERE asset_id = $1`, assetID)
	return scanVault(row)
}

func (p *PostgresBackend) ListVaults(ctx context.Context) ([]*models.Vault, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, asset_id, name, description, created_by, created_at, updated_at
		 FROM vaults ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vaults []*models.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		vaults = append(vaults, v)
	}
	return vaults, rows.Err()
}

func scanVault(row pgx.Row) (*models.Vault, error) {
	var v models.Vault
	err := row.Scan(&v.ID, &v.AssetID, &v.Name, &v.Description, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// --- Secrets ---

const secretColumns = `id, vault_id, secret_type, label, encrypted_value, nonce, version,
	strength_score, last_changed, generation_method, policy_version,
	created_at, updated_at, deleted_at`

func (p *PostgresBackend) GetSecret(ctx context.Context, id int64) (*models.Secret, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+secretColumns+` FROM secrets WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanSecret(row)
}

func (p *PostgresBackend) ListSecrets(ctx context.Context, vaultID int64) ([]*models.Secret, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+secretColumns+` FROM secrets
		 WHERE vault_id = $1 AND deleted_at IS NULL ORDER BY id`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var secrets []*models.Secret
	for rows.Next() {
		s, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, s)
	}
	return secrets, rows.Err()
}

func scanSecret(row pgx.Row) (*models.Secret, error) {
	var s models.Secret
	err := row.Scan(&s.ID, &s.VaultID, &s.SecretType, &s.Label, &s.EncryptedValue, &s.Nonce, &s.Version,
		&s.StrengthScore, &s.LastChanged, &s.GenerationMethod, &s.PolicyVersion,
		&s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// --- Vault-scoped transaction ---

// VaultTx locks the vault row for the duration of the transaction, so
// mutating operations within one vault serialize while other vaults proceed.
func (p *PostgresBackend) VaultTx(ctx context.Context, vaultID int64, fn func(tx VaultTx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id int64
	err = tx.QueryRow(ctx, `SELECT id FROM vaults WHERE id = $1 FOR UPDATE`, vaultID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("locking vault: %w", err)
	}

	if err := fn(&pgVaultTx{ctx: ctx, tx: tx, vaultID: vaultID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgVaultTx struct {
	ctx     context.Context
	tx      pgx.Tx
	vaultID int64
}

func (t *pgVaultTx) InsertSecret(s *models.Secret) error {
	return t.tx.QueryRow(t.ctx,
		`INSERT INTO secrets (vault_id, secret_type, label, encrypted_value, nonce, version,
		   strength_score, last_changed, generation_method, policy_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		s.VaultID, s.SecretType, s.Label, s.EncryptedValue, s.Nonce, s.Version,
		s.StrengthScore, s.LastChanged, s.GenerationMethod, s.PolicyVersion,
		s.CreatedAt, s.UpdatedAt,
	).Scan(&s.ID)
}

func (t *pgVaultTx) UpdateSecret(s *models.Secret) error {
	ct, err := t.tx.Exec(t.ctx,
		`UPDATE secrets SET label = $2, encrypted_value = $3, nonce = $4, version = $5,
		   strength_score = $6, last_changed = $7, generation_method = $8, updated_at = $9
		 WHERE id = $1 AND deleted_at IS NULL`,
		s.ID, s.Label, s.EncryptedValue, s.Nonce, s.Version,
		s.StrengthScore, s.LastChanged, s.GenerationMethod, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgVaultTx) SoftDeleteSecret(secretID int64, at time.Time) error {
	ct, err := t.tx.Exec(t.ctx,
		`UPDATE secrets SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		secretID, at,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgVaultTx) AppendVaultVersion(v *models.VaultVersion) error {
	return insertVaultVersion(t.ctx, t.tx, v)
}

func insertVaultVersion(ctx context.Context, tx pgx.Tx, v *models.VaultVersion) error {
	changes, err := json.Marshal(v.Changes)
	if err != nil {
		return fmt.Errorf("marshaling version changes: %w", err)
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO vault_versions (vault_id, change_type, author, ts, notes, changes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		v.VaultID, v.ChangeType, v.Author, v.Timestamp, v.Notes, changes,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("appending vault version: %w", err)
	}
	return nil
}

func (t *pgVaultTx) InsertPasswordHistory(h *models.PasswordHistory) error {
	return t.tx.QueryRow(t.ctx,
		`INSERT INTO password_history (secret_id, password_hash, created_at, retired_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		h.SecretID, h.PasswordHash, h.CreatedAt, h.RetiredAt,
	).Scan(&h.ID)
}

func (t *pgVaultTx) RetirePasswordHistory(secretID int64, at time.Time) error {
	_, err := t.tx.Exec(t.ctx,
		`UPDATE password_history SET retired_at = $2 WHERE secret_id = $1 AND retired_at IS NULL`,
		secretID, at,
	)
	return err
}

func (t *pgVaultTx) ListPasswordHistory(secretID int64) ([]*models.PasswordHistory, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT id, secret_id, password_hash, created_at, retired_at
		 FROM password_history WHERE secret_id = $1 ORDER BY id`,
		secretID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []*models.PasswordHistory
	for rows.Next() {
		var h models.PasswordHistory
		if err := rows.Scan(&h.ID, &h.SecretID, &h.PasswordHash, &h.CreatedAt, &h.RetiredAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (t *pgVaultTx) InsertRotationHistory(h *models.PasswordRotationHistory) error {
	return t.tx.QueryRow(t.ctx,
		`INSERT INTO password_rotation_history (secret_id, vault_id, batch_id, reason, rotated_by, rotated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		h.SecretID, h.VaultID, h.BatchID, h.Reason, h.RotatedBy, h.RotatedAt,
	).Scan(&h.ID)
}

func (t *pgVaultTx) TouchVault(at time.Time) error {
	_, err := t.tx.Exec(t.ctx,
		`UPDATE vaults SET updated_at = $2 WHERE id = $1`, t.vaultID, at)
	return err
}

// --- Version log and password history reads ---

func (p *PostgresBackend) ListVaultVersions(ctx context.Context, vaultID int64, limit, offset int) ([]*models.VaultVersion, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, vault_id, change_type, author, ts, notes, changes
		 FROM vault_versions WHERE vault_id = $1
		 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		vaultID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var versions []*models.VaultVersion
	for rows.Next() {
		var v models.VaultVersion
		var changes []byte
		if err := rows.Scan(&v.ID, &v.VaultID, &v.ChangeType, &v.Author, &v.Timestamp, &v.Notes, &changes); err != nil {
			return nil, err
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &v.Changes); err != nil {
				return nil, err
			}
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

func (p *PostgresBackend) ListPasswordHistory(ctx context.Context, secretID int64) ([]*models.PasswordHistory, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, secret_id, password_hash, created_at, retired_at
		 FROM password_history WHERE secret_id = $1 ORDER BY id`,
		secretID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []*models.PasswordHistory
	for rows.Next() {
		var h models.PasswordHistory
		if err := rows.Scan(&h.ID, &h.SecretID, &h.PasswordHash, &h.CreatedAt, &h.RetiredAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (p *PostgresBackend) ListRotationHistory(ctx context.Context, secretID int64) ([]*models.PasswordRotationHistory, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, secret_id, vault_id, batch_id, reason, rotated_by, rotated_at
		 FROM password_rotation_history WHERE secret_id = $1 ORDER BY id`,
		secretID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []*models.PasswordRotationHistory
	for rows.Next() {
		var h models.PasswordRotationHistory
		if err := rows.Scan(&h.ID, &h.SecretID, &h.VaultID, &h.BatchID, &h.Reason, &h.RotatedBy, &h.RotatedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

// --- Permissions ---

func (p *PostgresBackend) GetPermission(ctx context.Context, userID, vaultID int64, pt models.PermissionType) (*models.VaultPermission, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, user_id, vault_id, permission_type, granted_by, granted_at, expires_at, is_active
		 FROM vault_permissions
		 WHERE user_id = $1 AND vault_id = $2 AND permission_type = $3
		 ORDER BY id DESC LIMIT 1`,
		userID, vaultID, pt)
	return scanPermission(row)
}

func (p *PostgresBackend) ListPermissions(ctx context.Context, vaultID int64) ([]*models.VaultPermission, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, vault_id, permission_type, granted_by, granted_at, expires_at, is_active
		 FROM vault_permissions WHERE vault_id = $1 ORDER BY id`,
		vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []*models.VaultPermission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func scanPermission(row pgx.Row) (*models.VaultPermission, error) {
	var perm models.VaultPermission
	err := row.Scan(&perm.ID, &perm.UserID, &perm.VaultID, &perm.Type,
		&perm.GrantedBy, &perm.GrantedAt, &perm.ExpiresAt, &perm.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &perm, nil
}

func (p *PostgresBackend) SavePermission(ctx context.Context, perm *models.VaultPermission) error {
	if perm.ID != 0 {
		_, err := p.pool.Exec(ctx,
			`UPDATE vault_permissions
			 SET granted_by = $2, granted_at = $3, expires_at = $4, is_active = $5
			 WHERE id = $1`,
			perm.ID, perm.GrantedBy, perm.GrantedAt, perm.ExpiresAt, perm.IsActive)
		return err
	}
	return p.pool.QueryRow(ctx,
		`INSERT INTO vault_permissions (user_id, vault_id, permission_type, granted_by, granted_at, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		perm.UserID, perm.VaultID, perm.Type, perm.GrantedBy, perm.GrantedAt, perm.ExpiresAt, perm.IsActive,
	).Scan(&perm.ID)
}

func (p *PostgresBackend) DeactivatePermissions(ctx context.Context, userID, vaultID int64, types []models.PermissionType) (int, error) {
	if len(types) == 0 {
		ct, err := p.pool.Exec(ctx,
			`UPDATE vault_permissions SET is_active = FALSE
			 WHERE user_id = $1 AND vault_id = $2 AND is_active = TRUE`,
			userID, vaultID)
		if err != nil {
			return 0, err
		}
		return int(ct.RowsAffected()), nil
	}
	strTypes := make([]string, len(types))
	for i, t := range types {
		strTypes[i] = string(t)
	}
	ct, err := p.pool.Exec(ctx,
		`UPDATE vault_permissions SET is_active = FALSE
		 WHERE user_id = $1 AND vault_id = $2 AND is_active = TRUE
		   AND permission_type = ANY($3::text[])`,
		userID, vaultID, strTypes)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// --- Permission requests ---

func (p *PostgresBackend) CreatePermissionRequest(ctx context.Context, r *models.PermissionRequest) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO permission_requests (user_id, vault_id, requested_permission, requested_by, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 RETURNING id`,
		r.UserID, r.VaultID, r.Permission, r.RequestedBy, r.Status, r.CreatedAt,
	).Scan(&r.ID)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresBackend) GetPermissionRequest(ctx context.Context, id int64) (*models.PermissionRequest, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, user_id, vault_id, requested_permission, requested_by, status,
		        approved_by, approval_notes, created_at, updated_at
		 FROM permission_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func scanRequest(row pgx.Row) (*models.PermissionRequest, error) {
	var r models.PermissionRequest
	var notes *string
	err := row.Scan(&r.ID, &r.UserID, &r.VaultID, &r.Permission, &r.RequestedBy, &r.Status,
		&r.ApprovedBy, &notes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if notes != nil {
		r.ApprovalNotes = *notes
	}
	return &r, nil
}

func (p *PostgresBackend) UpdatePermissionRequest(ctx context.Context, r *models.PermissionRequest) error {
	ct, err := p.pool.Exec(ctx,
		`UPDATE permission_requests
		 SET status = $2, approved_by = $3, approval_notes = $4, updated_at = $5
		 WHERE id = $1`,
		r.ID, r.Status, r.ApprovedBy, r.ApprovalNotes, r.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) ListPermissionRequests(ctx context.Context, vaultID int64, status models.RequestStatus) ([]*models.PermissionRequest, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, vault_id, requested_permission, requested_by, status,
		        approved_by, approval_notes, created_at, updated_at
		 FROM permission_requests
		 WHERE vault_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY id`,
		vaultID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []*models.PermissionRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (p *PostgresBackend) ExpirePendingRequests(ctx context.Context, before time.Time) (int, error) {
	ct, err := p.pool.Exec(ctx,
		`UPDATE permission_requests SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND created_at < $3`,
		models.RequestExpired, models.RequestPending, before)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// --- Rotation schedules ---

func (p *PostgresBackend) GetActiveSchedule(ctx context.Context, vaultID int64) (*models.RotationSchedule, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, vault_id, rotation_interval, alert_days_before, is_active, created_by, created_at, updated_at
		 FROM rotation_schedules WHERE vault_id = $1 AND is_active = TRUE`, vaultID)
	return scanSchedule(row)
}

func scanSchedule(row pgx.Row) (*models.RotationSchedule, error) {
	var s models.RotationSchedule
	err := row.Scan(&s.ID, &s.VaultID, &s.RotationInterval, &s.AlertDaysBefore,
		&s.IsActive, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (p *PostgresBackend) SaveSchedule(ctx context.Context, s *models.RotationSchedule) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if s.IsActive {
		_, err = tx.Exec(ctx,
			`UPDATE rotation_schedules SET is_active = FALSE, updated_at = $2
			 WHERE vault_id = $1 AND is_active = TRUE`,
			s.VaultID, s.UpdatedAt)
		if err != nil {
			return err
		}
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO rotation_schedules (vault_id, rotation_interval, alert_days_before, is_active, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		s.VaultID, s.RotationInterval, s.AlertDaysBefore, s.IsActive, s.CreatedBy, s.CreatedAt, s.UpdatedAt,
	).Scan(&s.ID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresBackend) ListActiveSchedules(ctx context.Context) ([]*models.RotationSchedule, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, vault_id, rotation_interval, alert_days_before, is_active, created_by, created_at, updated_at
		 FROM rotation_schedules WHERE is_active = TRUE ORDER BY vault_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var schedules []*models.RotationSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO audit_log (request_id, ts, user_id, role, operation, vault_id, secret_id,
		   decision, admin_override, response_code, response_time_ms, client_ip, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.RequestID, entry.Timestamp, entry.UserID, entry.Role, entry.Operation,
		entry.VaultID, entry.SecretID, entry.Decision, entry.AdminOverride,
		entry.ResponseCode, entry.ResponseTimeMs, entry.ClientIP, meta)
	return err
}

func (p *PostgresBackend) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, request_id, ts, user_id, role, operation, vault_id, secret_id,
		        decision, admin_override, response_code, response_time_ms, client_ip, metadata
		 FROM audit_log
		 WHERE ($1 = '' OR operation = $1)
		   AND ($2::bigint IS NULL OR vault_id = $2)
		   AND ($3::bigint IS NULL OR user_id = $3)
		   AND ($4::timestamptz IS NULL OR ts >= $4)
		 ORDER BY id DESC LIMIT $5 OFFSET $6`,
		filter.Operation, filter.VaultID, filter.UserID, filter.Since, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.UserID, &e.Role, &e.Operation,
			&e.VaultID, &e.SecretID, &e.Decision, &e.AdminOverride,
			&e.ResponseCode, &e.ResponseTimeMs, &e.ClientIP, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, err
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Tokens ---

func (p *PostgresBackend) WriteToken(ctx context.Context, token *models.Token, tokenHash string) error {
	ttlSec := int64(token.TTL.Seconds())
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tokens (id, token_hash, user_id, role, display_name, ttl_seconds, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET display_name = EXCLUDED.display_name,
		     role = EXCLUDED.role,
		     ttl_seconds = EXCLUDED.ttl_seconds,
		     expires_at = EXCLUDED.expires_at`,
		token.ID, tokenHash, token.UserID, token.Role, token.DisplayName,
		ttlSec, token.CreatedAt, nullableTime(token.ExpiresAt))
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *PostgresBackend) GetToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, user_id, role, display_name, ttl_seconds, created_at, expires_at, revoked_at
		 FROM tokens WHERE token_hash = $1`, tokenHash)
	var t models.Token
	var ttlSec int64
	var expiresAt *time.Time
	err := row.Scan(&t.ID, &t.UserID, &t.Role, &t.DisplayName, &ttlSec, &t.CreatedAt, &expiresAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.TTL = time.Duration(ttlSec) * time.Second
	if expiresAt != nil {
		t.ExpiresAt = *expiresAt
	}
	return &t, nil
}

func (p *PostgresBackend) RevokeToken(ctx context.Context, tokenID string) error {
	_, err := p.pool.Exec(ctx, `UPDATE tokens SET revoked_at = NOW() WHERE id = $1`, tokenID)
	return err
}

// --- Metrics helpers ---

func (p *PostgresBackend) CountSecrets(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM secrets WHERE deleted_at IS NULL`).Scan(&count)
	return count, err
}
