package orchestrator

import "sync"

// claimSet tracks which execution ids currently have an owning task.
type claimSet struct {
	mu   sync.Mutex
	held map[string]*claim
}

type claim struct {
	once sync.Once
}

func newClaimSet() *claimSet {
	return &claimSet{held: make(map[string]*claim)}
}

// acquire takes ownership of id. The returned release is safe to call more
// than once and never drops a claim taken later by someone else.
func (c *claimSet) acquire(id string) (release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.held[id]; busy {
		return func() {}, false
	}
	cl := &claim{}
	c.held[id] = cl
	return func() {
		cl.once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.held[id] == cl {
				delete(c.held, id)
			}
		})
	}, true
}

func (c *claimSet) isHeld(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[id]
	return ok
}
