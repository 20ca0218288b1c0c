//go:build !nocgo

package sqlitestore

import (
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// driverName is the database/sql driver registered for Open. The default
// build uses mattn/go-sqlite3's cgo binding; build with -tags nocgo to swap
// in the pure-Go modernc.org/sqlite driver instead (driver_nocgo.go).
const driverName = "sqlite3"
