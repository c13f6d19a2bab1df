// Copyright 2016 CoreOS, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prefs implements the durable key->string store the core uses
// to persist update progress, response hashes, and boot-commit intent
// across reboots and process restarts. Each key is one file in a
// directory; writes are atomic via rename.
package prefs

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/update-engine", "prefs")

// Well-known keys, exactly as named in spec.md §3.
const (
	UpdateCheckResponseHash = "update-check-response-hash"
	UpdateStateNextDataOffset = "update-state-next-data-offset"
	UpdateStateNextOperation = "update-state-next-operation"
	UpdateStateSha256Context = "update-state-sha256-context"
	UpdateStateSignedSha256Context = "update-state-signed-sha256-context"
	BootID = "boot-id"
)

// updateStateKeys are the four keys that must be mutually consistent or
// all absent (spec.md §3 invariant).
var updateStateKeys = []string{
	UpdateStateNextDataOffset,
	UpdateStateNextOperation,
	UpdateStateSha256Context,
	UpdateStateSignedSha256Context,
}

// Store is the narrow interface the rest of the core reads and writes
// prefs through.
type Store interface {
	Exists(key string) bool
	GetString(key string) (string, error)
	SetString(key string, value string) error
	GetInt64(key string) (int64, error)
	SetInt64(key string, value int64) error
	Delete(key string) error
}

// FileStore is a Store backed by a directory of small files.
type FileStore struct {
	dir string
}

// New creates a FileStore rooted at dir. The directory is created with
// owner-only permissions if it does not already exist; see the
// process-wide umask invariant in spec.md §5 for the rest of the
// owner-only guarantee.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "prefs: creating %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, key)
}

// Exists reports whether key has a persisted value.
func (f *FileStore) Exists(key string) bool {
	_, err := os.Stat(f.path(key))
	return err == nil
}

// GetString reads the value stored under key.
func (f *FileStore) GetString(key string) (string, error) {
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		return "", errors.Wrapf(err, "prefs: reading %s", key)
	}
	return string(b), nil
}

// SetString atomically replaces the value stored under key.
func (f *FileStore) SetString(key string, value string) error {
	tmp, err := os.CreateTemp(f.dir, "."+key+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "prefs: creating temp file for %s", key)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "prefs: writing %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "prefs: closing %s", key)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return errors.Wrapf(err, "prefs: chmod %s", key)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		return errors.Wrapf(err, "prefs: renaming %s", key)
	}
	return nil
}

// GetInt64 parses the value stored under key as a base-10 integer.
func (f *FileStore) GetInt64(key string) (int64, error) {
	s, err := f.GetString(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "prefs: parsing %s", key)
	}
	return v, nil
}

// SetInt64 stores value under key in base-10.
func (f *FileStore) SetInt64(key string, value int64) error {
	return f.SetString(key, strconv.FormatInt(value, 10))
}

// Delete removes key if present; deleting an absent key is not an error.
func (f *FileStore) Delete(key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "prefs: deleting %s", key)
	}
	return nil
}

// ResetUpdateProgress clears the four update-state-* keys so a
// subsequent response handler run starts a full (non-resume) attempt.
// It never touches UpdateCheckResponseHash: spec.md §3 requires the
// response hash to be preserved across a progress reset so later reads
// of the (now-absent) update-state keys are recognized as "invalidated
// progress for this payload" rather than "no prior attempt at all".
func ResetUpdateProgress(s Store) error {
	for _, k := range updateStateKeys {
		if err := s.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// CanResumeUpdate reports whether s holds a complete, consistent set of
// update-state-* keys belonging to responseHash. A partial set (some but
// not all four keys present) is treated as corrupt and forces a full
// restart, matching spec.md §3's "mutually consistent or all absent"
// invariant.
func CanResumeUpdate(s Store, responseHash string) bool {
	savedHash, err := s.GetString(UpdateCheckResponseHash)
	if err != nil || savedHash != responseHash {
		return false
	}

	present := 0
	for _, k := range updateStateKeys {
		if s.Exists(k) {
			present++
		}
	}
	if present == 0 {
		return false
	}
	if present != len(updateStateKeys) {
		plog.Warningf("update-state prefs partially present (%d/%d); forcing full restart",
			present, len(updateStateKeys))
		return false
	}
	return true
}

// SetBootID validates value as a UUID (the kernel's boot identifier
// convention) and persists it under BootID.
func SetBootID(s Store, value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return errors.Wrapf(err, "prefs: boot-id %q is not a valid UUID", value)
	}
	return s.SetString(BootID, value)
}
