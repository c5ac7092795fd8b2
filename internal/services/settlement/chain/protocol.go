package chain

import (
	"github.com/louisbranch/fundraising.space/internal/platform/grpc/envelope"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
)

// DefaultProgramID is the program address settlement addresses derive from
// unless configured otherwise.
const DefaultProgramID = "HkzPnrKLaSgTU284XZcsXJSXJUnm33mE4ANKf51XDxuU"

// LedgerServiceName is the gRPC service the ledger program exposes.
const LedgerServiceName = "ledger.v1.LedgerService"

// Ledger service methods.
const (
	MethodGetAccount      = "GetAccount"
	MethodGetAccounts     = "GetAccounts"
	MethodListAccounts    = "ListAccounts"
	MethodCurrentSlot     = "CurrentSlot"
	MethodSimulate        = "Simulate"
	MethodSubmit          = "Submit"
	MethodGetBundleStatus = "GetBundleStatus"
	MethodAirdrop         = "Airdrop"
)

// FullMethod returns the wire path of a ledger method.
func FullMethod(method string) string {
	return envelope.FullMethod(LedgerServiceName, method)
}

type GetAccountRequest struct {
	Address address.Address `json:"address"`
}

type GetAccountResponse struct {
	Account *Account `json:"account"`
}

type GetAccountsRequest struct {
	Addresses []address.Address `json:"addresses"`
}

type GetAccountsResponse struct {
	Accounts []*Account `json:"accounts"`
}

type ListAccountsRequest struct {
	Owner address.Address `json:"owner"`
	Kind  AccountKind     `json:"kind"`
}

type ListAccountsResponse struct {
	Accounts []*Account `json:"accounts"`
}

type CurrentSlotRequest struct{}

type CurrentSlotResponse struct {
	Slot uint64 `json:"slot"`
}

type SimulateRequest struct {
	Bundle bundle.Bundle `json:"bundle"`
}

type SimulateResponse struct {
	Result SimulationResult `json:"result"`
}

type SubmitRequest struct {
	Bundle bundle.Bundle `json:"bundle"`
}

type SubmitResponse struct {
	Digest bundle.Digest `json:"digest"`
}

type GetBundleStatusRequest struct {
	Digest bundle.Digest `json:"digest"`
}

type GetBundleStatusResponse struct {
	Status BundleStatus `json:"status"`
}

// AirdropRequest credits a development balance. A zero mint credits the
// native balance of the owner's wallet.
type AirdropRequest struct {
	Owner  address.Address `json:"owner"`
	Mint   address.Address `json:"mint,omitempty"`
	Amount uint64          `json:"amount"`
}

type AirdropResponse struct {
	Account *Account `json:"account"`
}
