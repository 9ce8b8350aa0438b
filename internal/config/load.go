package config

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrConfigFileInvalid        = errors.New("config file is invalid")
)

// fileError tags cause with one of the ErrConfigFile sentinels. Both stay
// reachable through errors.Is.
type fileError struct {
	kind  error
	cause error
}

func (e *fileError) Error() string        { return e.kind.Error() + ": " + e.cause.Error() }
func (e *fileError) Is(target error) bool { return target == e.kind }
func (e *fileError) Unwrap() error        { return e.cause }
func (e *fileError) Cause() error         { return e.cause }

// Load reads and validates the snapshot stored at path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &fileError{kind: ErrConfigFileUnreadable, cause: err}
	}
	return Parse(data)
}

// Parse decodes and validates a YAML snapshot. Fields missing from data keep
// their Default values.
func Parse(data []byte) (*Snapshot, error) {
	snap := Default()
	if err := yaml.Unmarshal(data, snap); err != nil {
		return nil, &fileError{kind: ErrConfigFileUnmarshallable, cause: err}
	}
	if err := snap.Validate(); err != nil {
		return nil, &fileError{kind: ErrConfigFileInvalid, cause: err}
	}
	return snap, nil
}

// LoadOrCreate loads the snapshot at path, writing and returning Default when
// the file does not exist yet.
func LoadOrCreate(path string) (*Snapshot, bool, error) {
	snap, err := Load(path)
	if err == nil {
		return snap, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	snap = Default()
	if err := Save(path, snap); err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// Save writes snap to path as YAML, creating parent directories as needed.
func Save(path string, snap *Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write config file")
	}
	return nil
}
