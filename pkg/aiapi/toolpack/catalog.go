package toolpack

import "sync"

// Catalog holds every loaded pack in load order. Lookups return the first
// match, so a pack loaded twice resolves to its earliest instance.
type Catalog struct {
	mu    sync.RWMutex
	packs []*Pack
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Add appends p.
func (c *Catalog) Add(p *Pack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packs = append(c.packs, p)
}

// FindByFunction returns the first pack exposing a tool named name.
func (c *Catalog) FindByFunction(name string) (*Pack, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.packs {
		if p.HasFunction(name) {
			return p, true
		}
	}
	return nil, false
}

// FindByID returns the first pack loaded under id.
func (c *Catalog) FindByID(id string) (*Pack, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.packs {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Packs returns the loaded packs in load order.
func (c *Catalog) Packs() []*Pack {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Pack(nil), c.packs...)
}
