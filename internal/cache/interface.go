package cache

// Cache stores encoded image variants addressed by their entry name, which is
// the cache key followed by the format extension ({key}.{format}).
// Entries are immutable once written.
type Cache interface {
	Get(name string) ([]byte, bool)
	Set(name string, value []byte) error
}
