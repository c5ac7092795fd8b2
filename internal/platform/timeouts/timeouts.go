// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// LedgerRead caps a single authoritative state read against the ledger.
const LedgerRead = 3 * time.Second

// LedgerSubmit caps the round trip of handing a bundle to the ledger. A
// timeout here is ambiguous: the bundle may still have been accepted.
const LedgerSubmit = 5 * time.Second

// Confirmation bounds how long a submitted bundle is polled for a final
// status before the outcome is resolved by re-reading state.
const Confirmation = 30 * time.Second

// Shutdown limits how long a server waits for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second
