// Package room models a fundraising room and the pure rules that move it
// through its lifecycle.
//
// The same rules run twice: the settlement service evaluates them as a
// pre-flight against freshly fetched ledger state, and the ledger program
// evaluates them authoritatively when a bundle executes. Nothing here
// performs I/O; callers fetch the room, entries and balances and pass them in.
//
// # Phases
//
// Pool rooms start Ready; asset rooms start AwaitingFunding and become Ready
// once every configured prize slot is deposited. The first join moves a room
// to Active, declaring winners moves it to WinnersDeclared, settlement or
// recovery moves it to Ended and cleanup to CleanedUp.
//
// # Distribution
//
// Room.Distribution is the single source of the payouts made at settlement.
// The settlement client builds transfers from it and the ledger program
// verifies the executed vault outflows against it, so a caller cannot smuggle
// a different distribution than the one configured at creation.
package room
