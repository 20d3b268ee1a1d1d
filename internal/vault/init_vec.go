//go:build sqlite_vec && cgo

package vault

import (
	_ "github.com/mattn/go-sqlite3"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

const (
	sqliteDriver         = "sqlite3"
	sqliteReadOnlyParams = "mode=ro&_query_only=true"
	vecIndexEnabled      = true
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	// vec.Auto() registers it as an auto-loadable extension, so every new
	// connection can create and query vec0 virtual tables.
	vec.Auto()
}
