// Package remote embeds the Postgres migration files for the authoritative
// remote trip store. They are applied with the goose programmatic API by the
// integration test harness and by operators bootstrapping a fresh store.
package remote

import "embed"

// FS holds all *.sql migration files embedded at compile time.
// Pass this to a goose.Provider with goose.DialectPostgres.
//
//go:embed *.sql
var FS embed.FS
