package invite

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hnrobert/lockr/internal/fsutil"
)

var (
	ErrNotFound      = errors.New("invite not found")
	ErrExpired       = errors.New("invite expired")
	ErrNoUsesLeft    = errors.New("invite has no uses left")
	ErrInvalidInvite = errors.New("invalid invite")
)

// Invite is a registration code handed out by an admin.
type Invite struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	MaxUses   int       `json:"max_uses"`   // 0 means unlimited
	UsedCount int       `json:"used_count"` // derived from Uses

	Uses []Use `json:"uses,omitempty"`
}

type Use struct {
	UsedAt   time.Time `json:"used_at"`
	UsedBy   string    `json:"used_by"`
	RemoteIP string    `json:"remote_ip,omitempty"`
}

type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func DefaultPath() string {
	return filepath.Join("/lockr_data", "invites.json")
}

// Ensure creates the backing directory (and an empty file if missing).
func (s *Store) Ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsutil.EnsureDir(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	return fsutil.EnsureFile(s.path, []byte("{\"invites\": []}\n"), 0600)
}

func (s *Store) List() ([]Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	for i := range st.Invites {
		st.Invites[i].UsedCount = len(st.Invites[i].Uses)
	}
	return st.Invites, nil
}

// Create adds an invite. A zero expiresAt never expires.
func (s *Store) Create(createdBy string, maxUses int, expiresAt time.Time) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxUses < 0 {
		return Invite{}, fmt.Errorf("maxUses must be >= 0")
	}
	inv := Invite{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
		CreatedBy: createdBy,
		MaxUses:   maxUses,
	}
	if !expiresAt.IsZero() {
		inv.ExpiresAt = expiresAt.UTC()
	}

	st, err := s.loadLocked()
	if err != nil {
		return Invite{}, err
	}
	st.Invites = append([]Invite{inv}, st.Invites...)
	if err := s.saveLocked(st); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

func (s *Store) Validate(id string) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return Invite{}, err
	}
	idx := indexOf(st.Invites, id)
	if idx < 0 {
		return Invite{}, ErrNotFound
	}
	inv := st.Invites[idx]
	inv.UsedCount = len(inv.Uses)
	if err := s.validate(inv); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

// Consume records one use of the invite, failing if it is no longer valid.
func (s *Store) Consume(id, usedBy, remoteIP string) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return Invite{}, err
	}
	idx := indexOf(st.Invites, id)
	if idx < 0 {
		return Invite{}, ErrNotFound
	}
	inv := st.Invites[idx]
	inv.UsedCount = len(inv.Uses)
	if err := s.validate(inv); err != nil {
		return Invite{}, err
	}

	inv.Uses = append(inv.Uses, Use{UsedAt: s.now().UTC(), UsedBy: usedBy, RemoteIP: remoteIP})
	inv.UsedCount = len(inv.Uses)
	st.Invites[idx] = inv
	if err := s.saveLocked(st); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

// Release undoes the most recent use of the invite by usedBy, returning it to the pool.
func (s *Store) Release(id, usedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	idx := indexOf(st.Invites, id)
	if idx < 0 {
		return ErrNotFound
	}
	inv := st.Invites[idx]
	for i := len(inv.Uses) - 1; i >= 0; i-- {
		if inv.Uses[i].UsedBy != usedBy {
			continue
		}
		inv.Uses = append(inv.Uses[:i], inv.Uses[i+1:]...)
		inv.UsedCount = len(inv.Uses)
		st.Invites[idx] = inv
		return s.saveLocked(st)
	}
	return fmt.Errorf("invite %s has no use by %q", id, usedBy)
}

// Delete removes an invite by ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	idx := indexOf(st.Invites, id)
	if idx == -1 {
		return ErrNotFound
	}
	st.Invites = append(st.Invites[:idx], st.Invites[idx+1:]...)
	return s.saveLocked(st)
}

type state struct {
	Invites []Invite `json:"invites"`
}

func (s *Store) loadLocked() (state, error) {
	b, err := fsutil.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state{}, nil
		}
		return state{}, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return state{}, nil
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return state{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return st, nil
}

func (s *Store) saveLocked(st state) error {
	if err := fsutil.EnsureDir(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	if st.Invites == nil {
		st.Invites = []Invite{}
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsutil.WriteFileAtomic(s.path, b, 0600)
}

func (s *Store) validate(inv Invite) error {
	if inv.ID == "" {
		return ErrInvalidInvite
	}
	if !inv.ExpiresAt.IsZero() && s.now().UTC().After(inv.ExpiresAt) {
		return ErrExpired
	}
	if inv.MaxUses > 0 && inv.UsedCount >= inv.MaxUses {
		return ErrNoUsesLeft
	}
	return nil
}

func indexOf(invites []Invite, id string) int {
	for i := range invites {
		if invites[i].ID == id {
			return i
		}
	}
	return -1
}
