package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/org/credvault/pkg/models"
)

// MemoryBackend is an in-process Backend for tests and dev mode. A single
// mutex serializes mutations, which trivially satisfies the vault-scoped
// isolation the engine requires.
type MemoryBackend struct {
	mu sync.RWMutex

	nextID    int64
	vaults    map[int64]*models.Vault
	secrets   map[int64]*models.Secret
	versions  []*models.VaultVersion
	history   map[int64][]*models.PasswordHistory // secret id → rows
	rotations []*models.PasswordRotationHistory
	perms     []*models.VaultPermission
	requests  map[int64]*models.PermissionRequest
	schedules map[int64]*models.RotationSchedule // schedule id → row
	audit     []*models.AuditEntry
	tokens    map[string]*models.Token // token hash → token
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		vaults:    map[int64]*models.Vault{},
		secrets:   map[int64]*models.Secret{},
		history:   map[int64][]*models.PasswordHistory{},
		requests:  map[int64]*models.PermissionRequest{},
		schedules: map[int64]*models.RotationSchedule{},
		tokens:    map[string]*models.Token{},
	}
}

func (m *MemoryBackend) Close() {}

func (m *MemoryBackend) id() int64 {
	m.nextID++
	return m.nextID
}

// --- Vaults ---

func (m *MemoryBackend) CreateVault(ctx context.Context, v *models.Vault, ver *models.VaultVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.AssetID != nil {
		for _, existing := range m.vaults {
			if existing.AssetID != nil && *existing.AssetID == *v.AssetID {
				return ErrAlreadyExists
			}
		}
	}
	v.ID = m.id()
	cp := *v
	m.vaults[v.ID] = &cp

	ver.ID = m.id()
	ver.VaultID = v.ID
	vcp := *ver
	m.versions = append(m.versions, &vcp)
	return nil
}

func (m *MemoryBackend) GetVault(ctx context.Context, id int64) (*models.Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vaults[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryBackend) GetVaultByAsset(ctx context.Context, assetID int64) (*models.Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vaults {
		if v.AssetID != nil && *v.AssetID == assetID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) ListVaults(ctx context.Context) ([]*models.Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Vault, 0, len(m.vaults))
	for _, v := range m.vaults {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Secrets ---

func (m *MemoryBackend) GetSecret(ctx context.Context, id int64) (*models.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.secrets[id]
	if !ok || s.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryBackend) ListSecrets(ctx context.Context, vaultID int64) ([]*models.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Secret
	for _, s := range m.secrets {
		if s.VaultID == vaultID && s.DeletedAt == nil {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Vault-scoped transaction ---

// memVaultTx applies writes directly under the backend mutex, matching the
// immediate-statement semantics of pgVaultTx: later statements in the same
// fn see earlier ones. VaultTx snapshots the mutable state up front and
// restores it when fn fails, so a failing fn leaves no partial state behind.
type memVaultTx struct {
	m       *MemoryBackend
	vaultID int64
}

type memSnapshot struct {
	nextID    int64
	secrets   map[int64]*models.Secret
	history   map[int64][]*models.PasswordHistory
	versions  int
	rotations int
	updatedAt time.Time
}

func (m *MemoryBackend) snapshot(vaultID int64) *memSnapshot {
	snap := &memSnapshot{
		nextID:    m.nextID,
		secrets:   make(map[int64]*models.Secret, len(m.secrets)),
		history:   make(map[int64][]*models.PasswordHistory, len(m.history)),
		versions:  len(m.versions),
		rotations: len(m.rotations),
		updatedAt: m.vaults[vaultID].UpdatedAt,
	}
	for id, s := range m.secrets {
		cp := *s
		snap.secrets[id] = &cp
	}
	for id, rows := range m.history {
		cps := make([]*models.PasswordHistory, len(rows))
		for i, h := range rows {
			cp := *h
			cps[i] = &cp
		}
		snap.history[id] = cps
	}
	return snap
}

func (m *MemoryBackend) restore(vaultID int64, snap *memSnapshot) {
	m.nextID = snap.nextID
	m.secrets = snap.secrets
	m.history = snap.history
	m.versions = m.versions[:snap.versions]
	m.rotations = m.rotations[:snap.rotations]
	m.vaults[vaultID].UpdatedAt = snap.updatedAt
}

func (m *MemoryBackend) VaultTx(ctx context.Context, vaultID int64, fn func(tx VaultTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vaults[vaultID]; !ok {
		return ErrNotFound
	}
	snap := m.snapshot(vaultID)
	if err := fn(&memVaultTx{m: m, vaultID: vaultID}); err != nil {
		m.restore(vaultID, snap)
		return err
	}
	return nil
}

func (t *memVaultTx) InsertSecret(s *models.Secret) error {
	s.ID = t.m.id()
	cp := *s
	t.m.secrets[cp.ID] = &cp
	return nil
}

func (t *memVaultTx) UpdateSecret(s *models.Secret) error {
	existing, ok := t.m.secrets[s.ID]
	if !ok || existing.DeletedAt != nil {
		return ErrNotFound
	}
	cp := *s
	t.m.secrets[cp.ID] = &cp
	return nil
}

func (t *memVaultTx) SoftDeleteSecret(secretID int64, at time.Time) error {
	existing, ok := t.m.secrets[secretID]
	if !ok || existing.DeletedAt != nil {
		return ErrNotFound
	}
	when := at
	existing.DeletedAt = &when
	existing.UpdatedAt = at
	return nil
}

func (t *memVaultTx) AppendVaultVersion(v *models.VaultVersion) error {
	v.ID = t.m.id()
	cp := *v
	t.m.versions = append(t.m.versions, &cp)
	return nil
}

func (t *memVaultTx) InsertPasswordHistory(h *models.PasswordHistory) error {
	h.ID = t.m.id()
	cp := *h
	t.m.history[cp.SecretID] = append(t.m.history[cp.SecretID], &cp)
	return nil
}

func (t *memVaultTx) RetirePasswordHistory(secretID int64, at time.Time) error {
	for _, h := range t.m.history[secretID] {
		if h.RetiredAt == nil {
			when := at
			h.RetiredAt = &when
		}
	}
	return nil
}

func (t *memVaultTx) ListPasswordHistory(secretID int64) ([]*models.PasswordHistory, error) {
	rows := t.m.history[secretID]
	out := make([]*models.PasswordHistory, len(rows))
	for i, h := range rows {
		cp := *h
		out[i] = &cp
	}
	return out, nil
}

func (t *memVaultTx) InsertRotationHistory(h *models.PasswordRotationHistory) error {
	h.ID = t.m.id()
	cp := *h
	t.m.rotations = append(t.m.rotations, &cp)
	return nil
}

func (t *memVaultTx) TouchVault(at time.Time) error {
	if v, ok := t.m.vaults[t.vaultID]; ok {
		v.UpdatedAt = at
	}
	return nil
}

// --- Version log and history reads ---

func (m *MemoryBackend) ListVaultVersions(ctx context.Context, vaultID int64, limit, offset int) ([]*models.VaultVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var all []*models.VaultVersion
	for _, v := range m.versions {
		if v.VaultID == vaultID {
			cp := *v
			all = append(all, &cp)
		}
	}
	// newest first, matching the postgres backend
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryBackend) ListPasswordHistory(ctx context.Context, secretID int64) ([]*models.PasswordHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.history[secretID]
	out := make([]*models.PasswordHistory, len(rows))
	for i, h := range rows {
		cp := *h
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryBackend) ListRotationHistory(ctx context.Context, secretID int64) ([]*models.PasswordRotationHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.PasswordRotationHistory
	for _, h := range m.rotations {
		if h.SecretID == secretID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Permissions ---

func (m *MemoryBackend) GetPermission(ctx context.Context, userID, vaultID int64, pt models.PermissionType) (*models.VaultPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.perms) - 1; i >= 0; i-- {
		p := m.perms[i]
		if p.UserID == userID && p.VaultID == vaultID && p.Type == pt {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) ListPermissions(ctx context.Context, vaultID int64) ([]*models.VaultPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.VaultPermission
	for _, p := range m.perms {
		if p.VaultID == vaultID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryBackend) SavePermission(ctx context.Context, p *models.VaultPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID != 0 {
		for i, existing := range m.perms {
			if existing.ID == p.ID {
				cp := *p
				m.perms[i] = &cp
				return nil
			}
		}
		return ErrNotFound
	}
	p.ID = m.id()
	cp := *p
	m.perms = append(m.perms, &cp)
	return nil
}

func (m *MemoryBackend) DeactivatePermissions(ctx context.Context, userID, vaultID int64, types []models.PermissionType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match := func(pt models.PermissionType) bool {
		if len(types) == 0 {
			return true
		}
		for _, t := range types {
			if t == pt {
				return true
			}
		}
		return false
	}
	n := 0
	for _, p := range m.perms {
		if p.UserID == userID && p.VaultID == vaultID && p.IsActive && match(p.Type) {
			p.IsActive = false
			n++
		}
	}
	return n, nil
}

// --- Permission requests ---

func (m *MemoryBackend) CreatePermissionRequest(ctx context.Context, r *models.PermissionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.UserID == r.UserID && existing.VaultID == r.VaultID &&
			existing.Permission == r.Permission && existing.Status == models.RequestPending {
			return ErrAlreadyExists
		}
	}
	r.ID = m.id()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryBackend) GetPermissionRequest(ctx context.Context, id int64) (*models.PermissionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryBackend) UpdatePermissionRequest(ctx context.Context, r *models.PermissionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryBackend) ListPermissionRequests(ctx context.Context, vaultID int64, status models.RequestStatus) ([]*models.PermissionRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.PermissionRequest
	for _, r := range m.requests {
		if r.VaultID == vaultID && (status == "" || r.Status == status) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryBackend) ExpirePendingRequests(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, r := range m.requests {
		if r.Status == models.RequestPending && r.CreatedAt.Before(before) {
			r.Status = models.RequestExpired
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// --- Rotation schedules ---

func (m *MemoryBackend) GetActiveSchedule(ctx context.Context, vaultID int64) (*models.RotationSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.schedules {
		if s.VaultID == vaultID && s.IsActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) SaveSchedule(ctx context.Context, s *models.RotationSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.IsActive {
		for _, existing := range m.schedules {
			if existing.VaultID == s.VaultID && existing.IsActive {
				existing.IsActive = false
				existing.UpdatedAt = s.UpdatedAt
			}
		}
	}
	s.ID = m.id()
	cp := *s
	m.schedules[s.ID] = &cp
	return nil
}

func (m *MemoryBackend) ListActiveSchedules(ctx context.Context) ([]*models.RotationSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RotationSchedule
	for _, s := range m.schedules {
		if s.IsActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VaultID < out[j].VaultID })
	return out, nil
}

// --- Audit ---

func (m *MemoryBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.id()
	cp := *entry
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryBackend) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []*models.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.Operation != "" && !strings.EqualFold(e.Operation, filter.Operation) {
			continue
		}
		if filter.VaultID != nil && (e.VaultID == nil || *e.VaultID != *filter.VaultID) {
			continue
		}
		if filter.UserID != nil && e.UserID != *filter.UserID {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Tokens ---

func (m *MemoryBackend) WriteToken(ctx context.Context, token *models.Token, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.tokens[tokenHash] = &cp
	return nil
}

func (m *MemoryBackend) GetToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryBackend) RevokeToken(ctx context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, t := range m.tokens {
		if t.ID == tokenID {
			t.RevokedAt = &now
		}
	}
	return nil
}

// --- Metrics helpers ---

func (m *MemoryBackend) CountSecrets(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, s := range m.secrets {
		if s.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}
