package persistence

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hublink-io/hublink-go/pkg/provisioning"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ErrVersionMismatch is returned by Load when the file was written by an
// incompatible version.
var ErrVersionMismatch = errors.New("persistence: unsupported state file version")

// RegistrationState is the cached result of a successful registration.
type RegistrationState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// IDScope and RegistrationID identify the enrollment the result belongs to.
	IDScope        string `json:"id_scope"`
	RegistrationID string `json:"registration_id"`

	OperationID string `json:"operation_id,omitempty"`
	AssignedHub string `json:"assigned_hub"`
	DeviceID    string `json:"device_id"`
}

// Matches reports whether the state was saved for the given enrollment.
func (s *RegistrationState) Matches(idScope, registrationID string) bool {
	return s != nil && s.IDScope == idScope && s.RegistrationID == registrationID
}

// Result converts the cached state back into a provisioning result.
func (s *RegistrationState) Result() provisioning.Result {
	return provisioning.Result{
		OperationID:    s.OperationID,
		Status:         provisioning.StatusAssigned,
		RegistrationID: s.RegistrationID,
		AssignedHub:    s.AssignedHub,
		DeviceID:       s.DeviceID,
	}
}

// NewRegistrationState captures an assigned result for the enrollment
// identified by idScope and registrationID.
func NewRegistrationState(idScope, registrationID string, res provisioning.Result) *RegistrationState {
	return &RegistrationState{
		IDScope:        idScope,
		RegistrationID: registrationID,
		OperationID:    res.OperationID,
		AssignedHub:    res.AssignedHub,
		DeviceID:       res.DeviceID,
	}
}

// RegistrationStore manages persistence of registration state to a JSON file.
type RegistrationStore struct {
	mu   sync.Mutex
	path string
}

// NewRegistrationStore creates a new registration store.
func NewRegistrationStore(path string) *RegistrationStore {
	return &RegistrationStore{path: path}
}

// Path returns the state file path.
func (s *RegistrationStore) Path() string {
	return s.path
}

// Save persists the registration state to disk.
func (s *RegistrationStore) Save(state *RegistrationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write then rename so a crash never leaves a truncated file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the registration state from disk.
// Returns nil, nil if the file doesn't exist.
func (s *RegistrationStore) Load() (*RegistrationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &RegistrationState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Version != StateVersion {
		return nil, ErrVersionMismatch
	}
	return state, nil
}

// Clear removes the state file.
func (s *RegistrationStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
