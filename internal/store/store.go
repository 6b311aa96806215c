package store

import "placementportal/internal/domain"

// Store abstracts the metadata store so handlers and tests can swap the
// Postgres implementation for the in-memory one.
type Store interface {
	// Admin accounts.
	SaveAdmin(admin domain.Admin) error
	HasAdminUsername(username string) (bool, error)
	GetAdminByUsername(username string) (domain.Admin, bool, error)
	GetAdminByID(id string) (domain.Admin, bool, error)

	// File records.
	SaveFile(record domain.FileRecord) error
	ListFilesByOwner(ownerID string) ([]domain.FileRecord, error)
	// GetFileByFilename returns the newest record carrying the filename.
	GetFileByFilename(filename string) (domain.FileRecord, bool, error)
	DeleteFile(id string) error
}
