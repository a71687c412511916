package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/tubevore/internal/model"
)

const (
	subscriptionsFile = "subscriptions.json"
	settingsFile      = "settings.json"
)

// FileStore keeps subscriptions and settings in two JSON files that are
// rewritten wholesale on every change.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// Ensure FileStore implements Store interface.
var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Close is a no-op; nothing is held open between calls.
func (s *FileStore) Close() error {
	return nil
}

// DatabaseType returns the backend name.
func (s *FileStore) DatabaseType() string {
	return "JSON"
}

// --- Subscription Methods ---

func (s *FileStore) ListSubscriptions() ([]model.ChannelRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSubscriptions()
}

func (s *FileStore) AddSubscription(ref model.ChannelRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, err := s.loadSubscriptions()
	if err != nil {
		return false, err
	}
	for _, existing := range subs {
		if existing.ID == ref.ID {
			return false, nil
		}
	}
	if ref.AddedAt.IsZero() {
		ref.AddedAt = time.Now().UTC()
	}
	return true, s.save(subscriptionsFile, append(subs, ref))
}

func (s *FileStore) RemoveSubscription(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, err := s.loadSubscriptions()
	if err != nil {
		return err
	}
	kept := make([]model.ChannelRef, 0, len(subs))
	for _, ref := range subs {
		if ref.ID != channelID {
			kept = append(kept, ref)
		}
	}
	if len(kept) == len(subs) {
		return ErrNotFound
	}
	return s.save(subscriptionsFile, kept)
}

func (s *FileStore) ClearSubscriptions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(subscriptionsFile, []model.ChannelRef{})
}

func (s *FileStore) loadSubscriptions() ([]model.ChannelRef, error) {
	subs := make([]model.ChannelRef, 0)
	data, err := os.ReadFile(s.path(subscriptionsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return subs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}
	return subs, nil
}

// --- Settings Methods ---

// ReadSettings returns the stored settings merged over the defaults. Fields
// that are missing, mistyped or out of range keep their default values.
func (s *FileStore) ReadSettings() (model.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSettings()
}

func (s *FileStore) WriteSettings(patch model.SettingsPatch) (model.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.loadSettings()
	if err != nil {
		return current, err
	}
	merged, err := mergeSettings(current, patch)
	if err != nil {
		return current, err
	}
	if err := s.save(settingsFile, merged); err != nil {
		return current, err
	}
	return merged, nil
}

func (s *FileStore) loadSettings() (model.UserSettings, error) {
	data, err := os.ReadFile(s.path(settingsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.DefaultSettings(), fmt.Errorf("read settings: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.DefaultSettings(), nil
	}
	pairs := make(map[string]string, len(raw))
	for k, v := range raw {
		var str string
		if json.Unmarshal(v, &str) == nil {
			pairs[k] = str
			continue
		}
		pairs[k] = strings.TrimSpace(string(v))
	}
	return model.SettingsFromPairs(pairs), nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// save writes v to a temp file in the data dir and renames it over name,
// so readers never observe a partial file.
func (s *FileStore) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tubevore-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
