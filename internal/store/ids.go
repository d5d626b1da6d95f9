package store

import "github.com/oklog/ulid/v2"

// newID returns a lexically sortable identifier.
func newID() string {
	return ulid.Make().String()
}
