// Package sqlite provides the SQLite-backed settlement store: the journal of
// every submitted bundle and the off-chain payments used for reconciliation.
package sqlite
