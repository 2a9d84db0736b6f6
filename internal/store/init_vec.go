//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	// vec.Auto() registers it as an auto-loadable extension; without the
	// sqlite_vec build tag, SearchSimilar errors and the context builder
	// falls back to in-process cosine scoring.
	vec.Auto()
}
