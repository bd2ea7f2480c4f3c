//go:build cgo

package store

// The libsql driver is cgo-only; registering it behind the cgo build tag
// keeps the rest of the package buildable with CGO_ENABLED=0.
import _ "github.com/tursodatabase/go-libsql"
