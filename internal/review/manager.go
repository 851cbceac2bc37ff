package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/local/docconvert/internal/corrector"
)

var ErrSessionNotFound = errors.New("review session not found")

// RecordsFile is written into the document directory when a session saves.
const RecordsFile = "review.json"

// Manager keeps unsaved review sessions and saves them through one learner.
type Manager struct {
	learner Learner

	mu       sync.RWMutex
	sessions map[string]*Session
	dirs     map[string]string
}

func NewManager(learner Learner) *Manager {
	return &Manager{learner: learner, sessions: map[string]*Session{}, dirs: map[string]string{}}
}

// Open starts a session over explicit candidates.
func (m *Manager) Open(docID, source string, cands []corrector.Candidate) (*Session, error) {
	s, err := NewSession(docID, source, cands)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// OpenDir starts a session from docDir/candidates.json. The review record is
// written back into docDir on save.
func (m *Manager) OpenDir(docDir string) (*Session, error) {
	f, err := corrector.ReadCandidates(docDir)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	docID := f.DocID
	if docID == "" {
		docID = filepath.Base(docDir)
	}
	s, err := m.Open(docID, f.Source, f.Candidates)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.dirs[s.ID()] = docDir
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Save saves the session and, for directory-backed sessions, writes the
// review record next to the document. Once the record is persisted the
// session is dropped from the manager.
func (m *Manager) Save(ctx context.Context, id string) (Record, error) {
	s, err := m.Get(id)
	if err != nil {
		return Record{}, err
	}
	rec, err := s.Save(ctx, m.learner)
	if err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	dir := m.dirs[id]
	m.mu.RUnlock()
	if dir != "" {
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return rec, err
		}
		if err := os.WriteFile(filepath.Join(dir, RecordsFile), b, 0o644); err != nil {
			return rec, fmt.Errorf("write review record: %w", err)
		}
	}
	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.dirs, id)
	m.mu.Unlock()
	return rec, nil
}

// List returns snapshots of all sessions, oldest document id first.
func (m *Manager) List() []View {
	m.mu.RLock()
	out := make([]View, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.View())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocID != out[j].DocID {
			return out[i].DocID < out[j].DocID
		}
		return out[i].ID < out[j].ID
	})
	return out
}
