// Package proposal stores proposed portfolios awaiting approval.
package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Rajchodisetti/account-stream/internal/allocation"
)

// Proposal status values
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

var (
	ErrNotFound          = errors.New("proposal: not found")
	ErrInvalidTransition = errors.New("proposal: invalid status transition")
)

// Proposal is a proposed portfolio. Plan accepts every weight encoding the
// allocation package understands.
type Proposal struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Rationale       string          `json:"rationale"`
	Plan            allocation.Plan `json:"plan"`
	Status          string          `json:"status"`
	AlpacaAccountID string          `json:"alpacaAccountId,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Weights returns the normalized plan
func (p Proposal) Weights() allocation.Weights {
	return p.Plan.Weights
}

// Store is the proposal store contract the reconciliation engine reads
type Store interface {
	ListPending(ctx context.Context, ownerID string) ([]Proposal, error)
	SetStatus(ctx context.Context, id, status string) (Proposal, error)
}

type document struct {
	Version   int64      `json:"version"`
	UpdatedAt string     `json:"updated_at"`
	Proposals []Proposal `json:"proposals"`
}

// FileStore keeps all proposals in one JSON document rewritten atomically
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	doc      document
}

var _ Store = (*FileStore)(nil)

func NewFileStore(filePath string) *FileStore {
	return &FileStore{filePath: filePath}
}

// Load reads the document from disk, creating an empty one if missing
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return s.saveUnsafe()
		}
		return fmt.Errorf("failed to read proposals: %w", err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return fmt.Errorf("failed to unmarshal proposals: %w", err)
	}
	return nil
}

// saveUnsafe saves without acquiring lock (internal use only)
func (s *FileStore) saveUnsafe() error {
	s.doc.Version++
	s.doc.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal proposals: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return err
	}

	// Atomic write using temp file + rename
	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp proposals: %w", err)
	}
	if err := os.Rename(tempPath, s.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename proposals: %w", err)
	}
	return nil
}

// Put inserts or replaces a proposal
func (s *FileStore) Put(ctx context.Context, p Proposal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	p.UpdatedAt = now

	for i := range s.doc.Proposals {
		if s.doc.Proposals[i].ID == p.ID {
			s.doc.Proposals[i] = p
			return s.saveUnsafe()
		}
	}
	s.doc.Proposals = append(s.doc.Proposals, p)
	return s.saveUnsafe()
}

func (s *FileStore) Get(ctx context.Context, id string) (Proposal, error) {
	if err := ctx.Err(); err != nil {
		return Proposal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.doc.Proposals {
		if p.ID == id {
			return p, nil
		}
	}
	return Proposal{}, ErrNotFound
}

// ListPending returns the owner's pending proposals, oldest first
func (s *FileStore) ListPending(ctx context.Context, ownerID string) ([]Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Proposal
	for _, p := range s.doc.Proposals {
		if p.OwnerID == ownerID && p.Status == StatusPending {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SetStatus moves a pending proposal to approved or rejected
func (s *FileStore) SetStatus(ctx context.Context, id, status string) (Proposal, error) {
	if err := ctx.Err(); err != nil {
		return Proposal{}, err
	}
	if status != StatusApproved && status != StatusRejected {
		return Proposal{}, fmt.Errorf("%w: to %q", ErrInvalidTransition, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Proposals {
		p := &s.doc.Proposals[i]
		if p.ID != id {
			continue
		}
		if p.Status != StatusPending {
			return Proposal{}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, p.Status)
		}
		p.Status = status
		p.UpdatedAt = time.Now().UTC()
		if err := s.saveUnsafe(); err != nil {
			return Proposal{}, err
		}
		return *p, nil
	}
	return Proposal{}, ErrNotFound
}
