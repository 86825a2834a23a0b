// Package branch implements the conversation branch store: fork, checkout,
// merge, delete, and rename over per-session message histories, persisted
// as one JSON file per branch.
package branch

import (
	"errors"
	"time"

	"github.com/carbon-run/agentcore/pkg/ai"
)

// MainBranchID is the name of the branch every session starts with. It
// cannot be deleted.
const MainBranchID = "main"

var (
	ErrBranchExists   = errors.New("branch already exists")
	ErrBranchNotFound = errors.New("branch not found")
	ErrCannotDeleteMain = errors.New("cannot delete the main branch")
	ErrSameBranch     = errors.New("source and target branch must differ")
	ErrIndexOutOfRange = errors.New("message index out of range")
)

// MergeStrategy controls how Merge combines a source branch into a target.
type MergeStrategy string

const (
	MergeAppend  MergeStrategy = "append"
	MergeReplace MergeStrategy = "replace"
)

// Branch is one conversation branch: a name, an ancestry pointer, and its
// own message history. Branches live only on disk (via Store) plus an
// in-memory working set while a session is open.
type Branch struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	ParentID  string       `json:"parentId,omitempty"`
	Messages  []ai.Message `json:"-"` // marshaled separately; see codec.go
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// cloneMessages copies the first n messages (clamped to len(msgs)) into a new
// slice, per createBranch's "copies the first parentMessageIndex messages
// from the parent by value" contract. Message structs are copied by value;
// the content-block slices inside them are shared, not duplicated.
func cloneMessages(msgs []ai.Message, n int) []ai.Message {
	if n > len(msgs) {
		n = len(msgs)
	}
	out := make([]ai.Message, n)
	copy(out, msgs[:n])
	return out
}
