package repository

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithViewCacheSize caps how many per-year views are kept.
func WithViewCacheSize(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxViews = n
		}
	}
}
