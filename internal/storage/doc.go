// Package storage persists accounts, automation configs, posts, downloads
// and the activity log in SQLite.
//
// Every query goes through Querier, so *sql.DB, *sql.Tx and test doubles
// are interchangeable. List-valued columns (tags, topics, post times,
// activity metadata) are JSON text and are encoded and decoded only here.
// Timestamps are stored as unix milliseconds.
package storage
