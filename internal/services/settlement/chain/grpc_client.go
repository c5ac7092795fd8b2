package chain

import (
	"context"
	"time"

	"github.com/decred/slog"
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/platform/grpc/envelope"
	"github.com/louisbranch/fundraising.space/internal/platform/timeouts"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	gogrpc "google.golang.org/grpc"
)

// GRPCClient talks to a ledger over gRPC.
type GRPCClient struct {
	cc  gogrpc.ClientConnInterface
	log slog.Logger

	readTimeout   time.Duration
	submitTimeout time.Duration
}

// NewGRPCClient wraps a ledger connection.
func NewGRPCClient(cc gogrpc.ClientConnInterface, log slog.Logger) *GRPCClient {
	if log == nil {
		log = slog.Disabled
	}
	return &GRPCClient{
		cc:            cc,
		log:           log,
		readTimeout:   timeouts.LedgerRead,
		submitTimeout: timeouts.LedgerSubmit,
	}
}

var _ Client = (*GRPCClient)(nil)

// GetAccount implements Client.
func (c *GRPCClient) GetAccount(ctx context.Context, addr address.Address) (*Account, error) {
	resp, err := call[GetAccountRequest, GetAccountResponse](ctx, c, MethodGetAccount, c.readTimeout, GetAccountRequest{Address: addr})
	if err != nil {
		return nil, err
	}
	if resp.Account == nil {
		return nil, NotFound(addr)
	}
	return resp.Account, nil
}

// GetAccounts implements Client.
func (c *GRPCClient) GetAccounts(ctx context.Context, addrs []address.Address) ([]*Account, error) {
	resp, err := call[GetAccountsRequest, GetAccountsResponse](ctx, c, MethodGetAccounts, c.readTimeout, GetAccountsRequest{Addresses: addrs})
	if err != nil {
		return nil, err
	}
	if len(resp.Accounts) != len(addrs) {
		return nil, apperrors.New(apperrors.CodeLedgerUnavailable, "ledger returned a short account batch")
	}
	return resp.Accounts, nil
}

// ListAccounts implements Client.
func (c *GRPCClient) ListAccounts(ctx context.Context, owner address.Address, kind AccountKind) ([]*Account, error) {
	resp, err := call[ListAccountsRequest, ListAccountsResponse](ctx, c, MethodListAccounts, c.readTimeout, ListAccountsRequest{Owner: owner, Kind: kind})
	if err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// CurrentSlot implements Client.
func (c *GRPCClient) CurrentSlot(ctx context.Context) (uint64, error) {
	resp, err := call[CurrentSlotRequest, CurrentSlotResponse](ctx, c, MethodCurrentSlot, c.readTimeout, CurrentSlotRequest{})
	if err != nil {
		return 0, err
	}
	return resp.Slot, nil
}

// Simulate implements Client.
func (c *GRPCClient) Simulate(ctx context.Context, b bundle.Bundle) (SimulationResult, error) {
	resp, err := call[SimulateRequest, SimulateResponse](ctx, c, MethodSimulate, c.submitTimeout, SimulateRequest{Bundle: b})
	if err != nil {
		return SimulationResult{}, err
	}
	return resp.Result, nil
}

// Submit implements Client.
func (c *GRPCClient) Submit(ctx context.Context, b bundle.Bundle) (bundle.Digest, error) {
	resp, err := call[SubmitRequest, SubmitResponse](ctx, c, MethodSubmit, c.submitTimeout, SubmitRequest{Bundle: b})
	if err != nil {
		return bundle.Digest{}, err
	}
	return resp.Digest, nil
}

// GetBundleStatus implements Client.
func (c *GRPCClient) GetBundleStatus(ctx context.Context, digest bundle.Digest) (BundleStatus, error) {
	resp, err := call[GetBundleStatusRequest, GetBundleStatusResponse](ctx, c, MethodGetBundleStatus, c.readTimeout, GetBundleStatusRequest{Digest: digest})
	if err != nil {
		return BundleStatus{}, err
	}
	return resp.Status, nil
}

// Airdrop credits a development balance on ledgers that allow it.
func (c *GRPCClient) Airdrop(ctx context.Context, owner, mint address.Address, amount uint64) (*Account, error) {
	resp, err := call[AirdropRequest, AirdropResponse](ctx, c, MethodAirdrop, c.submitTimeout, AirdropRequest{Owner: owner, Mint: mint, Amount: amount})
	if err != nil {
		return nil, err
	}
	return resp.Account, nil
}

func call[Req, Resp any](ctx context.Context, c *GRPCClient, method string, timeout time.Duration, req Req) (Resp, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := envelope.Invoke[Req, Resp](callCtx, c.cc, FullMethod(method), req)
	if err != nil {
		err = apperrors.FromGRPCStatus(err)
		c.log.Debugf("ledger %s failed: code=%s err=%v", method, apperrors.GetCode(err), err)
		return resp, err
	}
	return resp, nil
}
