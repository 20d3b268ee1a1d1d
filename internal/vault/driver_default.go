//go:build !(sqlite_vec && cgo)

package vault

import (
	_ "modernc.org/sqlite"
)

// Pure Go build. Chunk search decodes embedding blobs and scores them
// in process; no vec0 virtual table is available.
const (
	sqliteDriver         = "sqlite"
	sqliteReadOnlyParams = "mode=ro&_pragma=query_only(1)"
	vecIndexEnabled      = false
)
