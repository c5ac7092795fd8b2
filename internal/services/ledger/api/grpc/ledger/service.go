// Package ledger exposes the local ledger over ledger.v1.LedgerService.
package ledger

import (
	"context"

	"github.com/louisbranch/fundraising.space/internal/platform/grpc/envelope"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Backend is the ledger the service fronts.
type Backend interface {
	chain.Client
	Airdrop(ctx context.Context, owner, mint address.Address, amount uint64) (*chain.Account, error)
}

// Service exposes ledger.v1 gRPC operations.
type Service struct {
	backend Backend
}

// NewService creates a ledger service over backend.
func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

// Register attaches every ledger method to server.
func (s *Service) Register(server *gogrpc.Server) {
	svc := envelope.NewService(chain.LedgerServiceName)
	envelope.Handle(svc, chain.MethodGetAccount, s.GetAccount)
	envelope.Handle(svc, chain.MethodGetAccounts, s.GetAccounts)
	envelope.Handle(svc, chain.MethodListAccounts, s.ListAccounts)
	envelope.Handle(svc, chain.MethodCurrentSlot, s.CurrentSlot)
	envelope.Handle(svc, chain.MethodSimulate, s.Simulate)
	envelope.Handle(svc, chain.MethodSubmit, s.Submit)
	envelope.Handle(svc, chain.MethodGetBundleStatus, s.GetBundleStatus)
	envelope.Handle(svc, chain.MethodAirdrop, s.Airdrop)
	svc.Register(server)
}

func (s *Service) ready() error {
	if s == nil || s.backend == nil {
		return status.Error(codes.Internal, "ledger backend is not configured")
	}
	return nil
}

// GetAccount returns one account; a missing account is reported as an
// empty response rather than an error.
func (s *Service) GetAccount(ctx context.Context, in chain.GetAccountRequest) (chain.GetAccountResponse, error) {
	if err := s.ready(); err != nil {
		return chain.GetAccountResponse{}, err
	}
	if in.Address.IsZero() {
		return chain.GetAccountResponse{}, status.Error(codes.InvalidArgument, "address is required")
	}
	accts, err := s.backend.GetAccounts(ctx, []address.Address{in.Address})
	if err != nil {
		return chain.GetAccountResponse{}, err
	}
	return chain.GetAccountResponse{Account: accts[0]}, nil
}

// GetAccounts returns one entry per requested address.
func (s *Service) GetAccounts(ctx context.Context, in chain.GetAccountsRequest) (chain.GetAccountsResponse, error) {
	if err := s.ready(); err != nil {
		return chain.GetAccountsResponse{}, err
	}
	accts, err := s.backend.GetAccounts(ctx, in.Addresses)
	if err != nil {
		return chain.GetAccountsResponse{}, err
	}
	return chain.GetAccountsResponse{Accounts: accts}, nil
}

// ListAccounts returns the accounts of one kind owned by an address.
func (s *Service) ListAccounts(ctx context.Context, in chain.ListAccountsRequest) (chain.ListAccountsResponse, error) {
	if err := s.ready(); err != nil {
		return chain.ListAccountsResponse{}, err
	}
	if in.Owner.IsZero() || in.Kind == "" {
		return chain.ListAccountsResponse{}, status.Error(codes.InvalidArgument, "owner and kind are required")
	}
	accts, err := s.backend.ListAccounts(ctx, in.Owner, in.Kind)
	if err != nil {
		return chain.ListAccountsResponse{}, err
	}
	return chain.ListAccountsResponse{Accounts: accts}, nil
}

// CurrentSlot returns the ledger's slot clock.
func (s *Service) CurrentSlot(ctx context.Context, _ chain.CurrentSlotRequest) (chain.CurrentSlotResponse, error) {
	if err := s.ready(); err != nil {
		return chain.CurrentSlotResponse{}, err
	}
	slot, err := s.backend.CurrentSlot(ctx)
	if err != nil {
		return chain.CurrentSlotResponse{}, err
	}
	return chain.CurrentSlotResponse{Slot: slot}, nil
}

// Simulate dry-runs a bundle.
func (s *Service) Simulate(ctx context.Context, in chain.SimulateRequest) (chain.SimulateResponse, error) {
	if err := s.ready(); err != nil {
		return chain.SimulateResponse{}, err
	}
	result, err := s.backend.Simulate(ctx, in.Bundle)
	if err != nil {
		return chain.SimulateResponse{}, err
	}
	return chain.SimulateResponse{Result: result}, nil
}

// Submit hands a bundle to the ledger.
func (s *Service) Submit(ctx context.Context, in chain.SubmitRequest) (chain.SubmitResponse, error) {
	if err := s.ready(); err != nil {
		return chain.SubmitResponse{}, err
	}
	digest, err := s.backend.Submit(ctx, in.Bundle)
	if err != nil {
		return chain.SubmitResponse{}, err
	}
	return chain.SubmitResponse{Digest: digest}, nil
}

// GetBundleStatus reports what the ledger knows about a digest.
func (s *Service) GetBundleStatus(ctx context.Context, in chain.GetBundleStatusRequest) (chain.GetBundleStatusResponse, error) {
	if err := s.ready(); err != nil {
		return chain.GetBundleStatusResponse{}, err
	}
	if in.Digest.IsZero() {
		return chain.GetBundleStatusResponse{}, status.Error(codes.InvalidArgument, "digest is required")
	}
	st, err := s.backend.GetBundleStatus(ctx, in.Digest)
	if err != nil {
		return chain.GetBundleStatusResponse{}, err
	}
	return chain.GetBundleStatusResponse{Status: st}, nil
}

// Airdrop credits a development balance.
func (s *Service) Airdrop(ctx context.Context, in chain.AirdropRequest) (chain.AirdropResponse, error) {
	if err := s.ready(); err != nil {
		return chain.AirdropResponse{}, err
	}
	acct, err := s.backend.Airdrop(ctx, in.Owner, in.Mint, in.Amount)
	if err != nil {
		return chain.AirdropResponse{}, err
	}
	return chain.AirdropResponse{Account: acct}, nil
}
