// Package sqlite provides the SQLite-backed ledger store.
//
// Every bundle executes inside one SQL transaction so a failed instruction
// leaves no partial writes behind, and simulations run in a transaction that
// is always rolled back.
package sqlite
