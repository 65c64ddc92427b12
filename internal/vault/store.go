package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hnrobert/lockr/internal/fsutil"
)

var (
	ErrNotFound = errors.New("account not found")
	ErrExists   = errors.New("account already exists")
)

const fileMode = 0600

// Store is a JSON object on disk mapping usernames to sealed passwords.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func DefaultPath() string {
	return filepath.Join("/lockr_data", "credentials.json")
}

func (s *Store) Path() string { return s.path }

// Ensure creates the backing directory and an empty object file if missing.
func (s *Store) Ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsutil.EnsureDir(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	return fsutil.EnsureFile(s.path, []byte("{}\n"), fileMode)
}

func (s *Store) Get(username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return "", err
	}
	v, ok := st[username]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Put stores sealed for username, replacing any existing entry.
func (s *Store) Put(username, sealed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	st[username] = sealed
	return s.saveLocked(st)
}

// Insert stores sealed for username only if no entry exists yet.
func (s *Store) Insert(username, sealed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := st[username]; ok {
		return ErrExists
	}
	st[username] = sealed
	return s.saveLocked(st)
}

func (s *Store) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := st[username]; !ok {
		return ErrNotFound
	}
	delete(st, username)
	return s.saveLocked(st)
}

// List returns all usernames, sorted.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(st))
	for k := range st {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

type state map[string]string

func (s *Store) loadLocked() (state, error) {
	b, err := fsutil.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state{}, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return state{}, nil
	}
	st := state{}
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return st, nil
}

func (s *Store) saveLocked(st state) error {
	if err := fsutil.EnsureDir(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "\t")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsutil.WriteFileAtomic(s.path, b, fileMode)
}
