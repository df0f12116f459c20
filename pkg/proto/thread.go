package proto

import (
	"time"

	"github.com/google/uuid"
)

// Document is a retrieved knowledge snippet attached to a thread. Documents
// form a set keyed by ID; order is irrelevant.
type Document struct {
	ID      string `json:"id"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content"`
}

// Thread is a persisted conversation owned by exactly one user. It is mutated
// by every engine step and snapshotted into a Checkpoint after each one.
type Thread struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	ProjectID string           `json:"project_id,omitempty"`
	Messages  []Message        `json:"messages"`
	Documents []Document       `json:"documents,omitempty"`
	Retries   map[string]int   `json:"retries,omitempty"`
	Status    string           `json:"status,omitempty"`
	LastError string           `json:"last_error,omitempty"`
	Pending   *SuspensionToken `json:"pending,omitempty"`
	Decision  *ResumeDecision  `json:"decision,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewThread creates an empty thread owned by the given user.
func NewThread(userID, projectID string) *Thread {
	now := time.Now().UTC()
	return &Thread{
		ID:        uuid.New().String(),
		UserID:    userID,
		ProjectID: projectID,
		Retries:   make(map[string]int),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the end of the thread.
func (t *Thread) Append(msg Message) {
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = time.Now().UTC()
}

// LastMessage returns the final message, or nil for an empty thread.
func (t *Thread) LastMessage() *Message {
	if len(t.Messages) == 0 {
		return nil
	}
	return &t.Messages[len(t.Messages)-1]
}

// LastHuman returns the most recent human message, or nil if none exists.
func (t *Thread) LastHuman() *Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleHuman {
			return &t.Messages[i]
		}
	}
	return nil
}

// MergeDocuments adds documents to the thread's set, dropping duplicates by
// document id.
func (t *Thread) MergeDocuments(docs []Document) {
	seen := make(map[string]bool, len(t.Documents))
	for _, d := range t.Documents {
		seen[d.ID] = true
	}
	for _, d := range docs {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		t.Documents = append(t.Documents, d)
	}
	t.UpdatedAt = time.Now().UTC()
}

// Retry returns the retry counter for the named loop.
func (t *Thread) Retry(loop string) int {
	if t.Retries == nil {
		return 0
	}
	return t.Retries[loop]
}

// BumpRetry increments and returns the retry counter for the named loop.
func (t *Thread) BumpRetry(loop string) int {
	if t.Retries == nil {
		t.Retries = make(map[string]int)
	}
	t.Retries[loop]++
	return t.Retries[loop]
}

// ResetRetry clears the retry counter for the named loop.
func (t *Thread) ResetRetry(loop string) {
	if t.Retries != nil {
		delete(t.Retries, loop)
	}
}

// Clone returns a deep copy of the thread. Checkpoints snapshot clones so
// later mutations cannot reach persisted state.
func (t *Thread) Clone() *Thread {
	cp := *t
	cp.Messages = make([]Message, len(t.Messages))
	for i, m := range t.Messages {
		cp.Messages[i] = m
		if m.Invocation != nil {
			inv := *m.Invocation
			if m.Invocation.Args != nil {
				inv.Args = make(map[string]any, len(m.Invocation.Args))
				for k, v := range m.Invocation.Args {
					inv.Args[k] = v
				}
			}
			cp.Messages[i].Invocation = &inv
		}
	}
	if t.Documents != nil {
		cp.Documents = append([]Document(nil), t.Documents...)
	}
	if t.Retries != nil {
		cp.Retries = make(map[string]int, len(t.Retries))
		for k, v := range t.Retries {
			cp.Retries[k] = v
		}
	}
	if t.Pending != nil {
		tok := t.Pending.Clone()
		cp.Pending = &tok
	}
	if t.Decision != nil {
		dec := *t.Decision
		cp.Decision = &dec
	}
	return &cp
}

// ThreadSummary is the listing view of a thread.
type ThreadSummary struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Status    string    `json:"status,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkpoint is an immutable snapshot of a thread plus the engine's current
// step pointer. Checkpoints for a thread form a linear history ordered by Seq.
type Checkpoint struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Step      string    `json:"step"`
	Seq       int64     `json:"seq"`
	Thread    *Thread   `json:"thread"`
	CreatedAt time.Time `json:"created_at"`
}
