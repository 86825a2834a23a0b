package branch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carbon-run/agentcore/pkg/ai"
)

// Store holds every branch of one session's conversation, serialising all
// writes (one writer at a time per branch, per spec's shared-resource
// policy) behind a single mutex.
type Store struct {
	mu      sync.Mutex
	rootDir string // <root>/branches/<sessionId>

	branches map[string]*Branch // id -> in-memory working copy
	order    []string           // insertion order, for stable-ish iteration
	activeID string
}

// Open loads (or initializes) the branch store for one session rooted at
// rootDir/branches/sessionID. If no branches exist on disk yet, it creates
// "main" with an empty message list and makes it active.
func Open(rootDir, sessionID string) (*Store, error) {
	dir := filepath.Join(rootDir, "branches", sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("branch: create session dir: %w", err)
	}

	s := &Store{
		rootDir:  dir,
		branches: make(map[string]*Branch),
		activeID: MainBranchID,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("branch: read session dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("branch: read %s: %w", e.Name(), err)
		}
		b, err := decodeBranch(data)
		if err != nil {
			return nil, fmt.Errorf("branch: decode %s: %w", e.Name(), err)
		}
		s.branches[b.ID] = b
		s.order = append(s.order, b.ID)
	}

	if _, ok := s.branches[MainBranchID]; !ok {
		now := time.Now()
		main := &Branch{ID: MainBranchID, Name: MainBranchID, CreatedAt: now, UpdatedAt: now}
		s.branches[MainBranchID] = main
		s.order = append(s.order, MainBranchID)
		if err := s.persistLocked(main); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// ActiveID returns the currently checked-out branch id.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns a copy of the active branch.
func (s *Store) Active() Branch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.branches[s.activeID]
}

// Get returns a copy of the branch with the given id.
func (s *Store) Get(id string) (Branch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[id]
	if !ok {
		return Branch{}, false
	}
	return *b, true
}

// CreateBranch copies the first parentMessageIndex messages from parentId
// (by value) into a new branch named name with the given id. Fails with
// ErrBranchExists if id is already taken.
func (s *Store) CreateBranch(id, name, parentID string, parentMessageIndex int) (Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.branches[id]; exists {
		return Branch{}, ErrBranchExists
	}
	parent, ok := s.branches[parentID]
	if !ok {
		return Branch{}, ErrBranchNotFound
	}
	if parentMessageIndex < 0 || parentMessageIndex > len(parent.Messages) {
		return Branch{}, ErrIndexOutOfRange
	}

	now := time.Now()
	b := &Branch{
		ID:        id,
		Name:      name,
		ParentID:  parentID,
		Messages:  cloneMessages(parent.Messages, parentMessageIndex),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.branches[id] = b
	s.order = append(s.order, id)
	if err := s.persistLocked(b); err != nil {
		return Branch{}, err
	}
	return *b, nil
}

// Fork is shorthand for CreateBranch(newID, name, active, len(active.Messages))
// followed by Checkout(newID).
func (s *Store) Fork(name string) (Branch, error) {
	s.mu.Lock()
	active := s.branches[s.activeID]
	parentID := active.ID
	idx := len(active.Messages)
	s.mu.Unlock()

	newID := uuid.NewString()
	b, err := s.CreateBranch(newID, name, parentID, idx)
	if err != nil {
		return Branch{}, err
	}
	if err := s.Checkout(newID); err != nil {
		return Branch{}, err
	}
	return b, nil
}

// ForkFromMessage is Fork, but copies only the first index messages of the
// active branch rather than all of them.
func (s *Store) ForkFromMessage(name string, index int) (Branch, error) {
	s.mu.Lock()
	active := s.branches[s.activeID]
	parentID := active.ID
	msgCount := len(active.Messages)
	s.mu.Unlock()

	if index < 0 || index > msgCount {
		return Branch{}, ErrIndexOutOfRange
	}

	newID := uuid.NewString()
	b, err := s.CreateBranch(newID, name, parentID, index)
	if err != nil {
		return Branch{}, err
	}
	if err := s.Checkout(newID); err != nil {
		return Branch{}, err
	}
	return b, nil
}

// Checkout switches the active branch. Returns ErrBranchNotFound for an
// unknown id.
func (s *Store) Checkout(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[id]; !ok {
		return ErrBranchNotFound
	}
	s.activeID = id
	return nil
}

// Merge combines sourceID's messages into targetID per strategy. source and
// target must differ.
func (s *Store) Merge(sourceID, targetID string, strategy MergeStrategy) (Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sourceID == targetID {
		return Branch{}, ErrSameBranch
	}
	source, ok := s.branches[sourceID]
	if !ok {
		return Branch{}, ErrBranchNotFound
	}
	target, ok := s.branches[targetID]
	if !ok {
		return Branch{}, ErrBranchNotFound
	}

	switch strategy {
	case MergeAppend:
		target.Messages = append(append([]ai.Message(nil), target.Messages...), cloneMessages(source.Messages, len(source.Messages))...)
	case MergeReplace:
		target.Messages = cloneMessages(source.Messages, len(source.Messages))
	default:
		return Branch{}, fmt.Errorf("branch: unknown merge strategy %q", strategy)
	}
	target.UpdatedAt = time.Now()
	if err := s.persistLocked(target); err != nil {
		return Branch{}, err
	}
	return *target, nil
}

// DeleteBranch removes a branch's on-disk file and in-memory entry. Refuses
// to delete main. If id is the active branch, active switches to main.
func (s *Store) DeleteBranch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == MainBranchID {
		return ErrCannotDeleteMain
	}
	if _, ok := s.branches[id]; !ok {
		return ErrBranchNotFound
	}

	if err := os.Remove(s.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("branch: remove %s: %w", id, err)
	}
	delete(s.branches, id)
	for i, bid := range s.order {
		if bid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = MainBranchID
	}
	return nil
}

// RenameBranch updates a branch's display name and touches updatedAt.
func (s *Store) RenameBranch(id, newName string) (Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.branches[id]
	if !ok {
		return Branch{}, ErrBranchNotFound
	}
	b.Name = newName
	b.UpdatedAt = time.Now()
	if err := s.persistLocked(b); err != nil {
		return Branch{}, err
	}
	return *b, nil
}

// AddMessage appends one message to a branch and touches updatedAt.
func (s *Store) AddMessage(id string, msg ai.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[id]
	if !ok {
		return ErrBranchNotFound
	}
	b.Messages = append(b.Messages, msg)
	b.UpdatedAt = time.Now()
	return s.persistLocked(b)
}

// SetMessages replaces a branch's message list wholesale and touches
// updatedAt.
func (s *Store) SetMessages(id string, msgs []ai.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[id]
	if !ok {
		return ErrBranchNotFound
	}
	b.Messages = msgs
	b.UpdatedAt = time.Now()
	return s.persistLocked(b)
}

// List returns every branch, sorted by UpdatedAt descending.
func (s *Store) List() []Branch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Branch, 0, len(s.branches))
	for _, b := range s.branches {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// History returns the ancestry chain from the root branch to id, inclusive,
// root first.
func (s *Store) History(id string) ([]Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chain []Branch
	cur, ok := s.branches[id]
	if !ok {
		return nil, ErrBranchNotFound
	}
	seen := map[string]bool{}
	for cur != nil {
		if seen[cur.ID] {
			break // cycle guard; should never happen
		}
		seen[cur.ID] = true
		chain = append([]Branch{*cur}, chain...)
		if cur.ParentID == "" {
			break
		}
		cur = s.branches[cur.ParentID]
	}
	return chain, nil
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.rootDir, id+".json")
}

// persistLocked writes b atomically (write-tmp-then-rename). Caller must
// hold s.mu.
func (s *Store) persistLocked(b *Branch) error {
	data, err := encodeBranch(b)
	if err != nil {
		return fmt.Errorf("branch: encode %s: %w", b.ID, err)
	}
	path := s.pathFor(b.ID)
	tmp, err := os.CreateTemp(s.rootDir, ".tmp-"+b.ID+"-*")
	if err != nil {
		return fmt.Errorf("branch: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("branch: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("branch: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("branch: rename temp file: %w", err)
	}
	return nil
}
