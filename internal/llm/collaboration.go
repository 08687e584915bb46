package llm

import "sync"

// Collaboration is the owning context an interaction belongs to. Interactions
// hold only its id and resolve through a table; they never own the value, so
// a collaboration can outlive or drop its interactions freely.
type Collaboration struct {
	ID        string
	Title     string
	ProjectID string
}

// CollaborationTable is the id-to-collaboration lookup shared by a process.
type CollaborationTable struct {
	mu      sync.RWMutex
	entries map[string]*Collaboration
}

// NewCollaborationTable creates an empty table.
func NewCollaborationTable() *CollaborationTable {
	return &CollaborationTable{entries: make(map[string]*Collaboration)}
}

// Register adds or replaces a collaboration.
func (t *CollaborationTable) Register(c *Collaboration) {
	if c == nil || c.ID == "" {
		return
	}
	t.mu.Lock()
	t.entries[c.ID] = c
	t.mu.Unlock()
}

// Lookup resolves an id. A missing entry means the collaboration is gone;
// callers treat that as a dangling reference, not an error.
func (t *CollaborationTable) Lookup(id string) (*Collaboration, bool) {
	t.mu.RLock()
	c, ok := t.entries[id]
	t.mu.RUnlock()
	return c, ok
}

// Remove drops a collaboration from the table.
func (t *CollaborationTable) Remove(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}
