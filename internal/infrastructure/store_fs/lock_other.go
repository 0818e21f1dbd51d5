//go:build !unix

package store_fs

// Lock is a no-op where flock is unavailable.
func (s *Store) Lock() (func() error, error) {
	return func() error { return nil }, nil
}
