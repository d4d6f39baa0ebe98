package store

// KeyValueStore defines the persistent key-value operations used to keep
// state across process restarts.
type KeyValueStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Close() error
}
