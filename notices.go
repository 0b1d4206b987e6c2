package convosync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NoticeLevel is the severity of a Notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// DefaultNoticeTTL is how long a notice stays active when no TTL is given.
const DefaultNoticeTTL = 5 * time.Second

// Notice is a transient, dismissible message for the user.
type Notice struct {
	ID    string      `json:"id"`
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
	At    time.Time   `json:"at"`
}

// Notices keeps the active notices. Each notice expires after the TTL or
// when dismissed. Construct one per UI and pass it to the engine.
type Notices struct {
	ttl time.Duration

	mu     sync.Mutex
	items  []Notice
	now    func() time.Time
	closed bool
}

// NewNotices creates a notice list; ttl <= 0 uses DefaultNoticeTTL.
func NewNotices(ttl time.Duration) *Notices {
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	return &Notices{ttl: ttl, now: time.Now}
}

// Push adds a notice. After Close the notice is returned but not kept.
func (n *Notices) Push(level NoticeLevel, text string) Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	notice := Notice{ID: uuid.NewString(), Level: level, Text: text, At: n.now()}
	if !n.closed {
		n.items = append(n.items, notice)
	}
	return notice
}

// Dismiss removes the notice with the given ID. It reports whether the notice
// was still active.
func (n *Notices) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pruneLocked()
	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return true
		}
	}
	return false
}

// Active returns the notices that are neither expired nor dismissed, oldest first.
func (n *Notices) Active() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pruneLocked()
	out := make([]Notice, len(n.items))
	copy(out, n.items)
	return out
}

// Close drops every notice and ignores later pushes.
func (n *Notices) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.items = nil
}

func (n *Notices) pruneLocked() {
	cutoff := n.now().Add(-n.ttl)
	kept := n.items[:0]
	for _, item := range n.items {
		if item.At.After(cutoff) {
			kept = append(kept, item)
		}
	}
	n.items = kept
}
