package chat

import (
	"sync"

	"github.com/ashureev/careerguide/internal/domain"
)

// Transcript is the ordered conversation shown to the user.
type Transcript struct {
	mu      sync.RWMutex
	entries []domain.Entry
}

// Snapshot returns a copy of the entries.
func (t *Transcript) Snapshot() []domain.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Reset empties the transcript.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}

func (t *Transcript) append(role domain.Role, content string) {
	t.mu.Lock()
	t.entries = append(t.entries, domain.Entry{Role: role, Content: content})
	t.mu.Unlock()
}

// replaceLastAssistant overwrites the content of the most recent assistant
// entry. Entries are never appended here.
func (t *Transcript) replaceLastAssistant(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Role == domain.RoleAssistant {
			t.entries[i].Content = content
			return
		}
	}
}
