package simstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const defaultStateDir = "./wal/simulate"

// Store persists the state of a simulated collaborator as a JSON file so that
// restarts keep ownership records and paid out balances.
type Store struct {
	path string
}

// NewStore creates a store for the given scope under dir.
func NewStore(dir, scope string) (*Store, error) {
	if dir == "" {
		dir = defaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create simulate state dir")
	}

	name := sanitizeScope(scope)
	if name == "" {
		return nil, fmt.Errorf("invalid simulate state scope %q", scope)
	}

	return &Store{path: filepath.Join(dir, fmt.Sprintf("%s.json", name))}, nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Load decodes the state file into v. It reports false if there is no state yet.
func (s *Store) Load(v any) (bool, error) {
	if s == nil || s.path == "" {
		return false, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, errors.Wrap(err, "read simulate state")
	}

	if len(payload) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return false, errors.Wrap(err, "decode simulate state")
	}

	return true, nil
}

// Save writes v to disk atomically via temp file.
func (s *Store) Save(v any) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode simulate state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write simulate state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist simulate state")
	}

	return nil
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
