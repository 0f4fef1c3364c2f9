// Package content defines the entities the pipeline moves through their
// lifecycles (posts, downloads, accounts, activity records) and the legal
// transitions between their states.
package content
