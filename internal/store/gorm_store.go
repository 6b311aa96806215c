package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"placementportal/internal/domain"
)

const migrateLockID int64 = 54115411

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AdminModel{}, &FileModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Ping verifies the database connection is alive.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveAdmin creates an admin account.
func (s *GormStore) SaveAdmin(admin domain.Admin) error {
	model := adminToModel(admin)
	return s.db.Create(&model).Error
}

// HasAdminUsername checks if the username is taken.
func (s *GormStore) HasAdminUsername(username string) (bool, error) {
	var count int64
	if err := s.db.Model(&AdminModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetAdminByUsername looks up an admin by username.
func (s *GormStore) GetAdminByUsername(username string) (domain.Admin, bool, error) {
	var model AdminModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Admin{}, false, nil
		}
		return domain.Admin{}, false, err
	}
	return adminFromModel(model), true, nil
}

// GetAdminByID returns an admin by ID.
func (s *GormStore) GetAdminByID(id string) (domain.Admin, bool, error) {
	var model AdminModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Admin{}, false, nil
		}
		return domain.Admin{}, false, err
	}
	return adminFromModel(model), true, nil
}

// SaveFile stores a file record.
func (s *GormStore) SaveFile(record domain.FileRecord) error {
	model := fileToModel(record)
	return s.db.Create(&model).Error
}

// ListFilesByOwner returns the owner's records, newest upload first.
func (s *GormStore) ListFilesByOwner(ownerID string) ([]domain.FileRecord, error) {
	var models []FileModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("uploaded_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FileRecord, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// GetFileByFilename returns the newest record carrying the filename.
func (s *GormStore) GetFileByFilename(filename string) (domain.FileRecord, bool, error) {
	var model FileModel
	if err := s.db.Where("filename = ?", filename).Order("uploaded_at DESC").First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FileRecord{}, false, nil
		}
		return domain.FileRecord{}, false, err
	}
	return fileFromModel(model), true, nil
}

// DeleteFile removes a file record by ID.
func (s *GormStore) DeleteFile(id string) error {
	return s.db.Delete(&FileModel{}, "id = ?", id).Error
}

func adminToModel(a domain.Admin) AdminModel {
	return AdminModel{
		ID:           a.ID,
		Username:     a.Username,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func adminFromModel(m AdminModel) domain.Admin {
	return domain.Admin{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func fileToModel(f domain.FileRecord) FileModel {
	return FileModel{
		ID:          f.ID,
		Filename:    f.Filename,
		FilePath:    f.FilePath,
		Year:        f.Year,
		Section:     f.Section,
		ContentType: f.ContentType,
		SizeBytes:   f.SizeBytes,
		StorageKey:  f.StorageKey,
		OwnerID:     f.OwnerID,
		UploadedAt:  f.UploadedAt,
	}
}

func fileFromModel(m FileModel) domain.FileRecord {
	return domain.FileRecord{
		ID:          m.ID,
		Filename:    m.Filename,
		FilePath:    m.FilePath,
		Year:        m.Year,
		Section:     m.Section,
		ContentType: m.ContentType,
		SizeBytes:   m.SizeBytes,
		StorageKey:  m.StorageKey,
		OwnerID:     m.OwnerID,
		UploadedAt:  m.UploadedAt,
	}
}
