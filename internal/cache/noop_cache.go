package cache

// NoopCache never stores anything. It stands in for the memory tier when it
// is disabled with MEMORY_CACHE_ENTRIES=0.
type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(name string) ([]byte, bool) {
	return nil, false
}

func (c *NoopCache) Set(name string, value []byte) error {
	return nil
}
