// Package store implements the Credential Store (C5): an encrypted-at-rest
// user table with seeded, undeletable administrators.
//
// Seeded admins are re-synced on every start, are undeletable, and
// username lookups (existence checks and authentication alike) are
// case-insensitive; only the password comparison is exact. The Go structure is a single mutex-guarded writer with an
// atomic whole-file replace on every mutation (open, mutate, rewrite)
// rather than a SQL driver, since the user table here is small enough
// that a flat file beats the operational weight of a database.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vrracer/camstream/internal/apierr"
	"github.com/vrracer/camstream/internal/logging"
)

var log = logging.L("store")

const usersFileName = "users.json"

// User is the decrypted view returned by ListAll and Create.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// record is the on-disk row: username stored as ciphertext, password as a
// bcrypt digest (which already carries its own salt).
type record struct {
	ID                 string    `json:"id"`
	UsernameCiphertext string    `json:"username_ciphertext"`
	PasswordHash       string    `json:"password_hash"`
	IsAdmin            bool      `json:"is_admin"`
	CreatedAt          time.Time `json:"created_at"`
}

// SeededAdmin is one of the fixed administrator identities configured via
// ADMIN_G_PASS / ADMIN_D_PASS.
type SeededAdmin struct {
	Name     string
	Password string
}

type Store struct {
	mu       sync.Mutex
	path     string
	key      []byte
	records  []record
	seeded   map[string]bool // lowercased seeded admin names
}

// Open loads (or creates) the persistent store at dataDir/users.json and
// the symmetric key at dataDir/username.key, then re-syncs the seeded
// administrators: each seeded name is inserted if no existing row decrypts
// to it, and its password is reset to the configured value whether or not
// the row already existed, so a config change to a seeded admin's password
// always takes effect on restart.
func Open(dataDir string, seededAdmins []SeededAdmin) (*Store, error) {
	key, err := loadOrCreateKey(dataDir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:   filepath.Join(dataDir, usersFileName),
		key:    key,
		seeded: make(map[string]bool),
	}
	for _, a := range seededAdmins {
		s.seeded[strings.ToLower(a.Name)] = true
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	if err := s.syncSeededAdmins(seededAdmins); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.records = nil
			return nil
		}
		return fmt.Errorf("store: reading %s: %w", s.path, err)
	}
	if len(data) == 0 {
		s.records = nil
		return nil
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("store: parsing %s: %w", s.path, err)
	}
	s.records = records
	return nil
}

// save writes the full record set atomically: marshal to a temp file in
// the same directory, then rename over the target, so a crash mid-write
// never leaves callers observing a partially-written store.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "users-*.json.tmp")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: rename temp file: %w", err)
	}
	return nil
}

func (s *Store) syncSeededAdmins(seededAdmins []SeededAdmin) error {
	for _, admin := range seededAdmins {
		idx := s.findByDecryptedNameLocked(admin.Name)
		hash, err := hashPassword(admin.Password)
		if err != nil {
			return err
		}
		if idx < 0 {
			cipher, err := encryptUsername(s.key, admin.Name)
			if err != nil {
				return err
			}
			s.records = append(s.records, record{
				ID:                 uuid.NewString(),
				UsernameCiphertext: cipher,
				PasswordHash:       hash,
				IsAdmin:            true,
				CreatedAt:          time.Now(),
			})
			log.Info("seeded administrator created", "name", admin.Name)
			continue
		}
		s.records[idx].PasswordHash = hash
		s.records[idx].IsAdmin = true
		log.Info("seeded administrator credentials re-synced", "name", admin.Name)
	}
	return s.save()
}

// findByDecryptedNameLocked returns the index of the row whose decrypted
// username matches name case-insensitively, or -1. Callers must hold s.mu.
func (s *Store) findByDecryptedNameLocked(name string) int {
	target := strings.ToLower(name)
	for i, r := range s.records {
		decrypted, err := decryptUsername(s.key, r.UsernameCiphertext)
		if err != nil {
			continue
		}
		if strings.ToLower(decrypted) == target {
			return i
		}
	}
	return -1
}

// Exists reports whether any record decrypts to name, case-insensitive.
func (s *Store) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByDecryptedNameLocked(name) >= 0
}

// Create inserts a new non-admin-by-default user, rejecting if the name
// already exists.
func (s *Store) Create(name, password string, isAdmin bool) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByDecryptedNameLocked(name) >= 0 {
		return nil, apierr.Conflict("user exists")
	}

	cipher, err := encryptUsername(s.key, name)
	if err != nil {
		return nil, apierr.Internal("encrypting username", err)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, apierr.Internal("hashing password", err)
	}

	rec := record{
		ID:                 uuid.NewString(),
		UsernameCiphertext: cipher,
		PasswordHash:       hash,
		IsAdmin:            isAdmin,
		CreatedAt:          time.Now(),
	}
	s.records = append(s.records, rec)
	if err := s.save(); err != nil {
		s.records = s.records[:len(s.records)-1]
		return nil, apierr.Internal("persisting user", err)
	}
	return &User{ID: rec.ID, Username: name, IsAdmin: isAdmin, CreatedAt: rec.CreatedAt}, nil
}

// Authenticate performs a linear scan for name and compares password
// against the stored bcrypt digest in constant time.
func (s *Store) Authenticate(name, password string) (ok bool, isAdmin bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findByDecryptedNameLocked(name)
	if idx < 0 {
		return false, false, nil
	}
	rec := s.records[idx]
	if !verifyPassword(rec.PasswordHash, password) {
		return false, false, nil
	}
	return true, rec.IsAdmin, nil
}

// ListAll returns the decrypted view of every user.
func (s *Store) ListAll() ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]User, 0, len(s.records))
	for _, r := range s.records {
		name, err := decryptUsername(s.key, r.UsernameCiphertext)
		if err != nil {
			log.Error("failed to decrypt username during list", "id", r.ID, "error", err)
			continue
		}
		users = append(users, User{ID: r.ID, Username: name, IsAdmin: r.IsAdmin, CreatedAt: r.CreatedAt})
	}
	return users, nil
}

// isLockedLocked reports whether record i is an administrator that must
// never be deleted or modified: the flag alone isn't trusted, the
// decrypted name is also checked against the seeded-admin list, per the
// component design's "double-checked" rule.
func (s *Store) isLockedLocked(i int) bool {
	if s.records[i].IsAdmin {
		return true
	}
	name, err := decryptUsername(s.key, s.records[i].UsernameCiphertext)
	if err != nil {
		return false
	}
	return s.seeded[strings.ToLower(name)]
}

// Delete removes a user by id, refusing administrators outright.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, r := range s.records {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apierr.NotFound("user not found")
	}
	if s.isLockedLocked(idx) {
		return apierr.Forbidden("admin_locked")
	}

	s.records = append(s.records[:idx], s.records[idx+1:]...)
	if err := s.save(); err != nil {
		return apierr.Internal("persisting deletion", err)
	}
	return nil
}

// Update changes a user's name and/or password, refusing administrators
// and refusing name collisions with any other existing record.
func (s *Store) Update(id string, newName, newPassword *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, r := range s.records {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apierr.NotFound("user not found")
	}
	if s.isLockedLocked(idx) {
		return apierr.Forbidden("admin_locked")
	}

	if newName != nil && *newName != "" {
		if collide := s.findByDecryptedNameLocked(*newName); collide >= 0 && collide != idx {
			return apierr.Conflict("user exists")
		}
		cipher, err := encryptUsername(s.key, *newName)
		if err != nil {
			return apierr.Internal("encrypting username", err)
		}
		s.records[idx].UsernameCiphertext = cipher
	}
	if newPassword != nil && *newPassword != "" {
		hash, err := hashPassword(*newPassword)
		if err != nil {
			return apierr.Internal("hashing password", err)
		}
		s.records[idx].PasswordHash = hash
	}

	if err := s.save(); err != nil {
		return apierr.Internal("persisting update", err)
	}
	return nil
}
