package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"placementportal/internal/auth"
	"placementportal/internal/domain"
	"placementportal/internal/session"
	"placementportal/internal/storage"
	"placementportal/internal/store"
	"placementportal/internal/util"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	JWTSecret   string
	SessionTTL  time.Duration
	JWTIssuer   string
	JWTAudience string
	JWTLeeway   time.Duration

	// Store, Objects and Sessions override the store wiring; tests inject
	// in-memory implementations here.
	Store    store.Store
	Objects  storage.ObjectStore
	Sessions *session.JWTStore
}

// App orchestrates the metadata store, the blob store and token issuance.
type App struct {
	store    store.Store
	objects  storage.ObjectStore
	sessions *session.JWTStore
}

// New wires the application. Both backing stores are opened and
// health-checked concurrently before New returns, so the process never
// serves traffic against a half-initialized stack.
func New(cfg Config) (*App, error) {
	sessions := cfg.Sessions
	if sessions == nil {
		var err error
		sessions, err = session.NewJWTStore(cfg.JWTSecret, cfg.SessionTTL, session.Options{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init session store: %w", err)
		}
	}

	dataStore := cfg.Store
	objects := cfg.Objects
	if dataStore == nil || objects == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		if dataStore == nil {
			if cfg.DatabaseURL == "" {
				return nil, errors.New("database URL required")
			}
			g.Go(func() error {
				gormStore, err := store.NewGormStore(cfg.DatabaseURL)
				if err != nil {
					return fmt.Errorf("init postgres store: %w", err)
				}
				if err := gormStore.Ping(gctx); err != nil {
					return fmt.Errorf("ping postgres: %w", err)
				}
				dataStore = gormStore
				return nil
			})
		}
		if objects == nil {
			g.Go(func() error {
				minioStore, err := storage.NewMinioStore(gctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
				if err != nil {
					return fmt.Errorf("init minio store: %w", err)
				}
				objects = minioStore
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return &App{
		store:    dataStore,
		objects:  objects,
		sessions: sessions,
	}, nil
}

// SignUp creates an admin account and issues a token bound to it.
func (a *App) SignUp(username, password string) (domain.Admin, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Admin{}, "", ErrUsernameAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Admin{}, "", err
	}
	exists, err := a.store.HasAdminUsername(username)
	if err != nil {
		return domain.Admin{}, "", fmt.Errorf("check username: %w", err)
	}
	if exists {
		return domain.Admin{}, "", ErrUsernameTaken
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Admin{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	admin := domain.Admin{
		ID:           util.NewID(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveAdmin(admin); err != nil {
		return domain.Admin{}, "", fmt.Errorf("save admin: %w", err)
	}
	token, err := a.sessions.NewToken(admin.ID)
	if err != nil {
		return domain.Admin{}, "", fmt.Errorf("issue token: %w", err)
	}
	return admin, token, nil
}

// Login validates credentials and issues a token.
func (a *App) Login(username, password string) (domain.Admin, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Admin{}, "", ErrUsernameAndPasswordRequired
	}
	admin, ok, err := a.store.GetAdminByUsername(username)
	if err != nil {
		return domain.Admin{}, "", fmt.Errorf("fetch admin: %w", err)
	}
	if !ok {
		return domain.Admin{}, "", ErrUserNotFound
	}
	if !auth.CheckPassword(password, admin.PasswordHash) {
		return domain.Admin{}, "", ErrIncorrectPassword
	}
	token, err := a.sessions.NewToken(admin.ID)
	if err != nil {
		return domain.Admin{}, "", fmt.Errorf("issue token: %w", err)
	}
	return admin, token, nil
}

// AdminFromToken resolves an admin from a bearer token. It fails when the
// signature or claims are invalid, and also when the subject admin no longer
// exists.
func (a *App) AdminFromToken(token string) (domain.Admin, bool) {
	id, err := a.sessions.VerifySubject(token)
	if err != nil {
		return domain.Admin{}, false
	}
	admin, ok, err := a.store.GetAdminByID(id)
	if err != nil || !ok {
		return domain.Admin{}, false
	}
	return admin, true
}

// UploadRequest carries one multipart upload.
type UploadRequest struct {
	Filename    string
	Year        string
	Section     string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Upload writes the blob first, then the metadata record. A metadata write
// failure compensates with a best-effort blob delete so the stores do not
// drift silently.
func (a *App) Upload(ctx context.Context, owner domain.Admin, req UploadRequest) (domain.FileRecord, error) {
	if strings.TrimSpace(req.Year) == "" || strings.TrimSpace(req.Section) == "" {
		return domain.FileRecord{}, ErrYearAndSectionRequired
	}
	filename := filepath.Base(strings.TrimSpace(req.Filename))
	if filename == "" || filename == "." || req.Body == nil {
		return domain.FileRecord{}, ErrFileRequired
	}
	// Browsers often send the generic octet-stream for form files, so
	// prefer a type derived from the extension when that happens.
	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := util.NewID()
	storageKey := buildStorageKey(id, filename)
	tags := map[string]string{
		"year":    req.Year,
		"section": req.Section,
		"owner":   owner.ID,
	}
	if err := a.objects.Put(ctx, storageKey, req.Body, req.Size, contentType, tags); err != nil {
		return domain.FileRecord{}, fmt.Errorf("save file: %w", err)
	}

	record := domain.FileRecord{
		ID:          id,
		Filename:    filename,
		FilePath:    "/api/file/" + filename,
		Year:        req.Year,
		Section:     req.Section,
		ContentType: contentType,
		SizeBytes:   req.Size,
		StorageKey:  storageKey,
		OwnerID:     owner.ID,
		UploadedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveFile(record); err != nil {
		_ = a.objects.Delete(ctx, storageKey)
		return domain.FileRecord{}, fmt.Errorf("save file record: %w", err)
	}
	return record, nil
}

// ListFiles returns the caller's records, newest upload first.
func (a *App) ListFiles(owner domain.Admin) ([]domain.FileRecord, error) {
	return a.store.ListFilesByOwner(owner.ID)
}

// OpenFile locates the newest record for filename and opens its blob for
// streaming. The caller must close the reader.
func (a *App) OpenFile(ctx context.Context, filename string) (io.ReadCloser, domain.FileRecord, storage.ObjectInfo, error) {
	record, ok, err := a.store.GetFileByFilename(filename)
	if err != nil {
		return nil, domain.FileRecord{}, storage.ObjectInfo{}, fmt.Errorf("fetch file record: %w", err)
	}
	if !ok {
		return nil, domain.FileRecord{}, storage.ObjectInfo{}, ErrFileNotFound
	}
	body, info, err := a.objects.Get(ctx, record.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.FileRecord{}, storage.ObjectInfo{}, ErrFileNotFound
		}
		return nil, domain.FileRecord{}, storage.ObjectInfo{}, fmt.Errorf("open blob: %w", err)
	}
	if info.ContentType == "" {
		info.ContentType = record.ContentType
	}
	return body, record, info, nil
}

// DeleteFile removes the blob, then the record. Only the owner may delete.
// When the blob has already drifted away the record is kept, so the
// inconsistency stays visible for manual cleanup.
func (a *App) DeleteFile(ctx context.Context, caller domain.Admin, filename string) error {
	record, ok, err := a.store.GetFileByFilename(filename)
	if err != nil {
		return fmt.Errorf("fetch file record: %w", err)
	}
	if !ok {
		return ErrFileNotFound
	}
	if record.OwnerID != caller.ID {
		return ErrNotOwner
	}
	body, _, err := a.objects.Get(ctx, record.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("check blob: %w", err)
	}
	_ = body.Close()
	if err := a.objects.Delete(ctx, record.StorageKey); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := a.store.DeleteFile(record.ID); err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	return nil
}

func buildStorageKey(id, filename string) string {
	name := sanitizeFilename(filename)
	if name == "" {
		name = "file"
	}
	return path.Join("files", id, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
