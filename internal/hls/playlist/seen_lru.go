package playlist

import "container/list"

// SeenLRU is a bounded least-recently-used set of segment URIs, used by the
// live monitoring loop to compute the set of genuinely new segments on
// each refresh without unbounded memory growth over a long-running stream.
type SeenLRU struct {
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

// NewSeenLRU constructs a SeenLRU with the given capacity.
func NewSeenLRU(capacity int) *SeenLRU {
	if capacity <= 0 {
		capacity = 100
	}
	return &SeenLRU{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Contains reports whether uri has been seen.
func (c *SeenLRU) Contains(uri string) bool {
	_, ok := c.index[uri]
	return ok
}

// Add marks uri as seen, evicting the least-recently-used entry if the
// cache is at capacity. Returns true if uri was newly added.
func (c *SeenLRU) Add(uri string) bool {
	if el, ok := c.index[uri]; ok {
		c.ll.MoveToFront(el)
		return false
	}
	el := c.ll.PushFront(uri)
	c.index[uri] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(string))
		}
	}
	return true
}

// Len returns the current number of tracked entries.
func (c *SeenLRU) Len() int {
	return c.ll.Len()
}
