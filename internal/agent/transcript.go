package agent

import (
	"slices"
	"sync"

	"github.com/nugget/storefront-mcp/internal/llm"
)

// Transcript is the ordered message history of one query. It only
// grows during a query and is reset when the next one starts.
type Transcript struct {
	mu   sync.RWMutex
	msgs []llm.Message
}

// Append adds msg and returns its position.
func (t *Transcript) Append(msg llm.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, msg)
	return len(t.msgs) - 1
}

// Messages returns a copy of the history.
func (t *Transcript) Messages() []llm.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.msgs)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Reset empties the history.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.msgs = nil
	t.mu.Unlock()
}
