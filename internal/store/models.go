package store

import "time"

// GORM models used for persistence.
type AdminModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type FileModel struct {
	ID          string    `gorm:"primaryKey"`
	Filename    string    `gorm:"not null;index"`
	FilePath    string    `gorm:"not null"`
	Year        string    `gorm:"not null"`
	Section     string    `gorm:"not null"`
	ContentType string
	SizeBytes   int64     `gorm:"not null"`
	StorageKey  string    `gorm:"not null"`
	OwnerID     string    `gorm:"not null;index"`
	UploadedAt  time.Time `gorm:"not null;index"`
}
