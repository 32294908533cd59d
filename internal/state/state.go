// Package state persists the small amount of mutable service state that must
// survive restarts: the newest source date already processed (so a cycle can
// skip recomputation when the feed has nothing new) and the Telegram message
// posted per date (so the next day's summary replies to it, forming a
// thread, and a date is never posted twice).
//
// State lives in one JSON file written atomically: marshal to a temp file in
// the same directory, then rename over the target.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/epimetrics/rtwatch/internal/models"
)

// Post records a summary message sent for one date.
type Post struct {
	MessageID int       `json:"message_id"`
	ChatID    int64     `json:"chat_id"`
	SentAt    time.Time `json:"sent_at"`
}

// fileState is the JSON shape of the state file.
type fileState struct {
	Version        string          `json:"version"`
	SavedAt        time.Time       `json:"saved_at"`
	LastSourceDate string          `json:"last_source_date,omitempty"`
	Posts          map[string]Post `json:"posts,omitempty"` // keyed by DateLayout date
}

// Manager owns the state file. All methods are safe for concurrent use.
type Manager struct {
	path string

	mu             sync.RWMutex
	lastSourceDate time.Time
	posts          map[string]Post
}

// New creates a Manager for the given path and loads existing state. A
// missing file is an empty state, not an error.
func New(path string) (*Manager, error) {
	m := &Manager{
		path:  path,
		posts: make(map[string]Post),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	if fs.LastSourceDate != "" {
		date, err := models.ParseDate(fs.LastSourceDate)
		if err != nil {
			return fmt.Errorf("corrupt last_source_date %q: %w", fs.LastSourceDate, err)
		}
		m.lastSourceDate = date
	}
	if fs.Posts != nil {
		m.posts = fs.Posts
	}
	return nil
}

// save writes the state atomically. Callers hold at least a read lock.
func (m *Manager) save() error {
	fs := fileState{
		Version: "1",
		SavedAt: time.Now().UTC(),
		Posts:   m.posts,
	}
	if !m.lastSourceDate.IsZero() {
		fs.LastSourceDate = m.lastSourceDate.Format(models.DateLayout)
	}

	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// LastSourceDate returns the newest source date already processed, or the
// zero time when nothing has been processed yet.
func (m *Manager) LastSourceDate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSourceDate
}

// SetLastSourceDate records the newest processed source date and saves.
func (m *Manager) SetLastSourceDate(date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSourceDate = models.Day(date)
	return m.save()
}

// PostFor returns the summary message recorded for a date, if any.
func (m *Manager) PostFor(date time.Time) (Post, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	post, ok := m.posts[models.Day(date).Format(models.DateLayout)]
	return post, ok
}

// LatestPost returns the post for the newest recorded date, if any. The next
// summary replies to it to continue the thread.
func (m *Manager) LatestPost() (Post, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latestKey := ""
	for key := range m.posts {
		if key > latestKey {
			latestKey = key
		}
	}
	if latestKey == "" {
		return Post{}, false
	}
	return m.posts[latestKey], true
}

// RecordPost remembers the summary message sent for a date and saves.
func (m *Manager) RecordPost(date time.Time, post Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[models.Day(date).Format(models.DateLayout)] = post
	return m.save()
}
