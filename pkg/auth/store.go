package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// FileStore persists cooldown state as a single atomically-written JSON
// file: {cooldowns: {id -> {cooldownUntil, failureCount,
// lastFailureWasBilling, lastError, lastFailureAt}}, savedAt}.
type FileStore struct {
	path string
}

// NewFileStore returns a Store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type persistedCooldown struct {
	CooldownUntil         time.Time `json:"cooldownUntil"`
	InCooldown            bool      `json:"inCooldown"`
	FailureCount          int       `json:"failureCount"`
	LastFailureWasBilling bool      `json:"lastFailureWasBilling"`
	LastError             string    `json:"lastError,omitempty"`
	LastFailureAt         time.Time `json:"lastFailureAt"`
}

type persistedFile struct {
	Cooldowns map[string]persistedCooldown `json:"cooldowns"`
	SavedAt   time.Time                    `json:"savedAt"`
}

func (s *FileStore) Load() (map[string]*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*State{}, nil
		}
		return nil, err
	}
	var pf persistedFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, err
	}
	out := make(map[string]*State, len(pf.Cooldowns))
	for id, pc := range pf.Cooldowns {
		out[id] = &State{
			ProfileID:             id,
			InCooldown:            pc.InCooldown,
			CooldownUntil:         pc.CooldownUntil,
			FailureCount:          pc.FailureCount,
			LastFailureWasBilling: pc.LastFailureWasBilling,
			LastError:             pc.LastError,
			LastFailureAt:         pc.LastFailureAt,
		}
	}
	return out, nil
}

func (s *FileStore) Save(states map[string]*State) error {
	pf := persistedFile{
		Cooldowns: make(map[string]persistedCooldown, len(states)),
		SavedAt:   time.Now(),
	}
	for id, st := range states {
		pf.Cooldowns[id] = persistedCooldown{
			CooldownUntil:         st.CooldownUntil,
			InCooldown:            st.InCooldown,
			FailureCount:          st.FailureCount,
			LastFailureWasBilling: st.LastFailureWasBilling,
			LastError:             st.LastError,
			LastFailureAt:         st.LastFailureAt,
		}
	}

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".auth-state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}
