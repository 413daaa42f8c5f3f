// Package directory keeps a local YAML record of users seen through search,
// team member lists and incoming messages, so ids can be shown as names.
package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saravenpi/huddle/internal/models"
)

const defaultTTL = 30 * time.Second

type Directory struct {
	dir string
	ttl time.Duration

	mu         sync.RWMutex
	users      []models.User
	byID       map[models.ID]models.User
	byUsername map[string]models.User
	loadedAt   time.Time
}

// New returns a directory rooted at <dataDir>/users.
func New(dataDir string) *Directory {
	return &Directory{
		dir: filepath.Join(dataDir, "users"),
		ttl: defaultTTL,
	}
}

func (d *Directory) Dir() string { return d.dir }

// sanitizeFilename converts a username to a safe filename.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	name = strings.ReplaceAll(name, ":", "-")
	return name
}

func (d *Directory) filePath(username string) string {
	return filepath.Join(d.dir, sanitizeFilename(username)+".yml")
}

// Save writes a user to its YAML file.
func (d *Directory) Save(user models.User) error {
	if user.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("failed to create users directory: %w", err)
	}

	data, err := yaml.Marshal(&user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := os.WriteFile(d.filePath(user.Username), data, 0644); err != nil {
		return fmt.Errorf("failed to write user file: %w", err)
	}

	d.Invalidate()
	return nil
}

// Remember saves every user that is new or changed. Users without an id or
// username are skipped.
func (d *Directory) Remember(users ...models.User) error {
	for _, u := range users {
		if u.Username == "" || u.ID.Empty() {
			continue
		}
		if known, ok := d.ByUsername(u.Username); ok && known == u {
			continue
		}
		if err := d.Save(u); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a single user file.
func (d *Directory) Load(username string) (*models.User, error) {
	data, err := os.ReadFile(d.filePath(username))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("user not found: %s", username)
		}
		return nil, fmt.Errorf("failed to read user file: %w", err)
	}

	var user models.User
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user file: %w", err)
	}
	return &user, nil
}

// List returns all known users. Results are cached for the TTL.
func (d *Directory) List() ([]models.User, error) {
	d.mu.RLock()
	if time.Since(d.loadedAt) < d.ttl && d.users != nil {
		defer d.mu.RUnlock()
		return d.users, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.loadedAt) < d.ttl && d.users != nil {
		return d.users, nil
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create users directory: %w", err)
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read users directory: %w", err)
	}

	users := make([]models.User, 0, len(entries))
	byID := make(map[models.ID]models.User)
	byUsername := make(map[string]models.User)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(d.dir, entry.Name()))
		if err != nil {
			continue
		}

		var user models.User
		if err := yaml.Unmarshal(data, &user); err != nil {
			continue
		}

		users = append(users, user)
		if !user.ID.Empty() {
			byID[user.ID] = user
		}
		byUsername[user.Username] = user
	}

	d.users = users
	d.byID = byID
	d.byUsername = byUsername
	d.loadedAt = time.Now()

	return users, nil
}

// Invalidate forces the cache to be refreshed on next access.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadedAt = time.Time{}
}

func (d *Directory) ByID(id models.ID) (models.User, bool) {
	if id.Empty() {
		return models.User{}, false
	}
	if _, err := d.List(); err != nil {
		return models.User{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	return u, ok
}

func (d *Directory) ByUsername(username string) (models.User, bool) {
	if username == "" {
		return models.User{}, false
	}
	if _, err := d.List(); err != nil {
		return models.User{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byUsername[username]
	return u, ok
}

// NameOf returns the username for id, or "" when unknown.
func (d *Directory) NameOf(id models.ID) string {
	u, _ := d.ByID(id)
	return u.Username
}
