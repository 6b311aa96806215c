package store

import (
	"sort"
	"sync"

	"placementportal/internal/domain"
)

// MemoryStore keeps metadata in-process. Tests use it in place of Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	admins   map[string]domain.Admin // key: admin ID
	username map[string]string       // username -> admin ID
	files    map[string]domain.FileRecord
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		admins:   make(map[string]domain.Admin),
		username: make(map[string]string),
		files:    make(map[string]domain.FileRecord),
	}
}

// SaveAdmin registers an admin account.
func (m *MemoryStore) SaveAdmin(admin domain.Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[admin.ID] = admin
	m.username[admin.Username] = admin.ID
	return nil
}

// HasAdminUsername checks if the username is taken.
func (m *MemoryStore) HasAdminUsername(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.username[username]
	return ok, nil
}

// GetAdminByUsername looks up an admin by username.
func (m *MemoryStore) GetAdminByUsername(username string) (domain.Admin, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.username[username]
	if !ok {
		return domain.Admin{}, false, nil
	}
	admin, ok := m.admins[id]
	return admin, ok, nil
}

// GetAdminByID returns an admin by ID.
func (m *MemoryStore) GetAdminByID(id string) (domain.Admin, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	admin, ok := m.admins[id]
	return admin, ok, nil
}

// DeleteAdmin removes an account. Only tests use this, to simulate an admin
// deleted after a token was issued.
func (m *MemoryStore) DeleteAdmin(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if admin, ok := m.admins[id]; ok {
		delete(m.username, admin.Username)
	}
	delete(m.admins, id)
}

// SaveFile stores a file record.
func (m *MemoryStore) SaveFile(record domain.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[record.ID] = record
	return nil
}

// ListFilesByOwner returns the owner's records, newest upload first.
func (m *MemoryStore) ListFilesByOwner(ownerID string) ([]domain.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.FileRecord, 0)
	for _, record := range m.files {
		if record.OwnerID == ownerID {
			res = append(res, record)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UploadedAt.After(res[j].UploadedAt)
	})
	return res, nil
}

// GetFileByFilename returns the newest record carrying the filename.
func (m *MemoryStore) GetFileByFilename(filename string) (domain.FileRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest domain.FileRecord
	found := false
	for _, record := range m.files {
		if record.Filename != filename {
			continue
		}
		if !found || record.UploadedAt.After(newest.UploadedAt) {
			newest = record
			found = true
		}
	}
	return newest, found, nil
}

// DeleteFile removes a file record by ID.
func (m *MemoryStore) DeleteFile(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}
