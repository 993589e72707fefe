// Package local embeds the SQLite migration files for the on-device store so
// they can be applied with the goose programmatic API at startup and in tests.
package local

import "embed"

// FS holds all *.sql migration files embedded at compile time.
// Pass this to a goose.Provider with goose.DialectSQLite3 instead of relying
// on a filesystem path at runtime.
//
//go:embed *.sql
var FS embed.FS
