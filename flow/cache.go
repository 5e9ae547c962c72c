package flow

import "sync"

// GraphCache holds parsed, validated graphs keyed by ID and version, so
// multi-tenant servers parse each graph document once. Cached graphs are
// shared read-only.
type GraphCache struct {
	mu     sync.RWMutex
	graphs map[cacheKey]*cachedGraph
}

type cacheKey struct {
	ID      string
	Version string
}

type cachedGraph struct {
	graph *Graph
	diags []Diagnostic
}

// NewGraphCache creates an empty cache.
func NewGraphCache() *GraphCache {
	return &GraphCache{graphs: make(map[cacheKey]*cachedGraph)}
}

// Get loads a cached graph, parsing the document on a miss. The version
// key must change whenever the document changes; stale versions stay
// cached until Flush.
func (c *GraphCache) Get(id, version string, document []byte) (*Graph, []Diagnostic, error) {
	key := cacheKey{ID: id, Version: version}

	c.mu.RLock()
	entry, ok := c.graphs[key]
	c.mu.RUnlock()
	if ok {
		return entry.graph, entry.diags, nil
	}

	g, diags, err := Load(document)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	// Another goroutine may have parsed the same document; first write
	// wins so every caller shares one instance.
	if existing, ok := c.graphs[key]; ok {
		c.mu.Unlock()
		return existing.graph, existing.diags, nil
	}
	c.graphs[key] = &cachedGraph{graph: g, diags: diags}
	c.mu.Unlock()
	return g, diags, nil
}

// Flush drops every cached graph.
func (c *GraphCache) Flush() {
	c.mu.Lock()
	c.graphs = make(map[cacheKey]*cachedGraph)
	c.mu.Unlock()
}

// Len reports how many graph versions are cached.
func (c *GraphCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.graphs)
}
