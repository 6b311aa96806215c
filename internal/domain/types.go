package domain

import "time"

// Admin is a staff account that manages performance files.
type Admin struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FileRecord describes one uploaded performance file. ID is generated at
// upload time and joins the record to its blob via StorageKey; the public
// contract addresses files by Filename.
type FileRecord struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	FilePath    string    `json:"filePath"`
	Year        string    `json:"year"`
	Section     string    `json:"section"`
	ContentType string    `json:"-"`
	SizeBytes   int64     `json:"sizeBytes"`
	StorageKey  string    `json:"-"`
	OwnerID     string    `json:"ownerId"`
	UploadedAt  time.Time `json:"uploadedAt"`
}
