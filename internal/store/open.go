package store

import "fmt"

// Drivers supported by Open.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Open returns the repository for driver at path. For badger, path is a directory.
func Open(driver, path string) (Repository, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(path)
	case DriverBadger:
		return NewBadgerStore(path)
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}
