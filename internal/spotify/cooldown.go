package spotify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// cooldownState is the persisted shape of the cooldown file.
type cooldownState struct {
	Until      time.Time `json:"until"`
	Reason     string    `json:"reason"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Cooldown persists the deadline before which the client must not contact
// the API again. The file is shared across process restarts so a resumed run
// keeps honoring a quota exhaustion observed by an earlier one.
type Cooldown struct {
	path  string
	mu    sync.RWMutex
	state cooldownState
}

// NewCooldown loads the cooldown state from path. A missing file means no
// cooldown is active. An empty path disables persistence (useful in tests).
func NewCooldown(path string) (*Cooldown, error) {
	c := &Cooldown{path: path}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("read cooldown file: %w", err)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.state); err != nil {
		return nil, fmt.Errorf("parse cooldown file: %w", err)
	}
	return c, nil
}

// Active returns the cooldown deadline when it is still in the future.
func (c *Cooldown) Active(now time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Until.After(now) {
		return c.state.Until, true
	}
	return time.Time{}, false
}

// Reason returns the recorded cause of the current cooldown.
func (c *Cooldown) Reason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Reason
}

// Set records and persists a new cooldown deadline.
func (c *Cooldown) Set(until time.Time, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = cooldownState{
		Until:      until.UTC(),
		Reason:     reason,
		RecordedAt: time.Now().UTC(),
	}
	return c.save()
}

// Clear removes any recorded cooldown.
func (c *Cooldown) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = cooldownState{}
	return c.save()
}

// save writes the state atomically via temp file and rename.
func (c *Cooldown) save() error {
	if c.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cooldown: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cooldown directory: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
