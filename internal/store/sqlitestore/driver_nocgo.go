//go:build nocgo

package sqlitestore

import (
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// driverName selects modernc.org/sqlite's pure-Go driver for CGO-free
// cross-compiled builds (see driver_cgo.go for the default).
const driverName = "sqlite"
