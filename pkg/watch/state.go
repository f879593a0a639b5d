package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const stateFileName = "watch_state.yaml"

// SiteState records the last sitemap regeneration of a site
type SiteState struct {
	LastRunTime    time.Time `yaml:"last_run_time"`
	LastRunSuccess bool      `yaml:"last_run_success"`
	PagesVisited   int       `yaml:"pages_visited"`
	Entries        int       `yaml:"entries"`
	ErrorMessage   string    `yaml:"error_message,omitempty"`
}

// WatchState is the persisted state of the scheduler
type WatchState struct {
	Sites     map[string]SiteState `yaml:"sites"`
	UpdatedAt time.Time            `yaml:"updated_at"`
}

// StateManager loads and saves watch state
type StateManager struct {
	stateDir  string
	statePath string
	now       func() time.Time
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a state manager storing its file in stateDir
func NewStateManager(stateDir string, now func() time.Time) *StateManager {
	if now == nil {
		now = time.Now
	}
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		now:       now,
		state:     WatchState{Sites: make(map[string]SiteState)},
	}
}

// Load reads the state file. A missing file yields an empty state.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = WatchState{Sites: make(map[string]SiteState)}
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if err := yaml.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if m.state.Sites == nil {
		m.state.Sites = make(map[string]SiteState)
	}
	return nil
}

// Save writes the state file
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = m.now()
	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := yaml.Marshal(&m.state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(m.statePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// GetSiteState returns the state of one site
func (m *StateManager) GetSiteState(siteKey string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return state, ok
}

// RecordRun stores the outcome of a regeneration run
func (m *StateManager) RecordRun(siteKey string, success bool, pagesVisited, entries int, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Sites[siteKey] = SiteState{
		LastRunTime:    m.now(),
		LastRunSuccess: success,
		PagesVisited:   pagesVisited,
		Entries:        entries,
		ErrorMessage:   errorMsg,
	}
}

// ShouldRun reports whether interval has elapsed since the site's last run
func (m *StateManager) ShouldRun(siteKey string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return true
	}
	return m.now().Sub(state.LastRunTime) >= interval
}

// GetNextRunTime returns when the site is next due
func (m *StateManager) GetNextRunTime(siteKey string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return m.now()
	}
	return state.LastRunTime.Add(interval)
}
