// Package settlement exposes room settlement over
// settlement.v1.SettlementService.
package settlement

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/platform/grpc/envelope"
	"github.com/louisbranch/fundraising.space/internal/platform/id"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/lifecycle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/reconcile"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/storage"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Lifecycle runs room transitions.
type Lifecycle interface {
	Deriver() address.Deriver
	InitializeGlobalConfig(ctx context.Context, p lifecycle.InitializeConfigParams) (*lifecycle.Result, error)
	UpdateGlobalConfig(ctx context.Context, p lifecycle.UpdateConfigParams) (*lifecycle.Result, error)
	GetGlobalConfig(ctx context.Context) (*room.GlobalConfig, error)
	CreateRoom(ctx context.Context, p lifecycle.CreateRoomParams) (*lifecycle.Result, error)
	UpdateRoomFees(ctx context.Context, p lifecycle.UpdateRoomFeesParams) (*lifecycle.Result, error)
	DepositPrizeAsset(ctx context.Context, p lifecycle.DepositPrizeParams) (*lifecycle.Result, error)
	ResolveJoinTarget(ctx context.Context, q lifecycle.JoinQuery) (lifecycle.ResolvedJoinParams, error)
	JoinRoom(ctx context.Context, p lifecycle.JoinParams) (*lifecycle.Result, error)
	CloseJoining(ctx context.Context, p lifecycle.RoomParams) (*lifecycle.Result, error)
	DeclareWinners(ctx context.Context, p lifecycle.DeclareWinnersParams) (*lifecycle.Result, error)
	Settle(ctx context.Context, p lifecycle.SettleParams) (*lifecycle.Result, error)
	RecoverRoom(ctx context.Context, p lifecycle.RecoverParams) (*lifecycle.Result, error)
	Cleanup(ctx context.Context, p lifecycle.RoomParams) (*lifecycle.Result, error)
	GetRoomInfo(ctx context.Context, ref lifecycle.RoomRef) (lifecycle.RoomInfo, error)
	GetPlayerEntry(ctx context.Context, ref lifecycle.RoomRef, player address.Address) (*room.PlayerEntry, error)
}

// Reconciler reports on a room.
type Reconciler interface {
	Reconcile(ctx context.Context, ref lifecycle.RoomRef) (reconcile.Report, error)
}

// Deps are the collaborators of the service.
type Deps struct {
	Lifecycle  Lifecycle
	Reconciler Reconciler
	Payments   storage.PaymentStore
	Keys       *Keyring
	Clock      func() time.Time
}

// Service exposes settlement.v1 gRPC operations.
type Service struct {
	lifecycle  Lifecycle
	reconciler Reconciler
	payments   storage.PaymentStore
	keys       *Keyring
	clock      func() time.Time
}

// NewService creates a settlement service.
func NewService(deps Deps) *Service {
	if deps.Keys == nil {
		deps.Keys = &Keyring{keys: map[address.Address]*address.KeyPair{}}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Service{
		lifecycle:  deps.Lifecycle,
		reconciler: deps.Reconciler,
		payments:   deps.Payments,
		keys:       deps.Keys,
		clock:      deps.Clock,
	}
}

// Register attaches every settlement method to server.
func (s *Service) Register(server *gogrpc.Server) {
	svc := envelope.NewService(ServiceName)
	envelope.Handle(svc, MethodInitializeGlobalConfig, s.InitializeGlobalConfig)
	envelope.Handle(svc, MethodUpdateGlobalConfig, s.UpdateGlobalConfig)
	envelope.Handle(svc, MethodGetGlobalConfig, s.GetGlobalConfig)
	envelope.Handle(svc, MethodCreateRoom, s.CreateRoom)
	envelope.Handle(svc, MethodUpdateRoomFees, s.UpdateRoomFees)
	envelope.Handle(svc, MethodDepositPrizeAsset, s.DepositPrizeAsset)
	envelope.Handle(svc, MethodResolveJoinTarget, s.ResolveJoinTarget)
	envelope.Handle(svc, MethodJoinRoom, s.JoinRoom)
	envelope.Handle(svc, MethodCloseJoining, s.CloseJoining)
	envelope.Handle(svc, MethodDeclareWinners, s.DeclareWinners)
	envelope.Handle(svc, MethodSettle, s.Settle)
	envelope.Handle(svc, MethodRecoverRoom, s.RecoverRoom)
	envelope.Handle(svc, MethodCleanup, s.Cleanup)
	envelope.Handle(svc, MethodGetRoomInfo, s.GetRoomInfo)
	envelope.Handle(svc, MethodGetPlayerEntry, s.GetPlayerEntry)
	envelope.Handle(svc, MethodReconcile, s.Reconcile)
	envelope.Handle(svc, MethodRecordPayment, s.RecordPayment)
	envelope.Handle(svc, MethodListPayments, s.ListPayments)
	svc.Register(server)
}

func (s *Service) ready() error {
	if s == nil || s.lifecycle == nil {
		return status.Error(codes.Internal, "settlement lifecycle is not configured")
	}
	return nil
}

// InitializeGlobalConfig creates the platform configuration.
func (s *Service) InitializeGlobalConfig(ctx context.Context, in InitializeGlobalConfigRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	admin, err := s.keys.Signer(in.Admin, "admin")
	if err != nil {
		return nil, err
	}
	policy := fee.DefaultPolicy()
	if in.Policy != nil {
		policy = *in.Policy
	}
	return s.lifecycle.InitializeGlobalConfig(ctx, lifecycle.InitializeConfigParams{
		Admin:          admin,
		PlatformWallet: in.PlatformWallet,
		CharityWallet:  in.CharityWallet,
		Policy:         policy,
	})
}

// UpdateGlobalConfig applies an administrative update.
func (s *Service) UpdateGlobalConfig(ctx context.Context, in UpdateGlobalConfigRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	admin, err := s.keys.Signer(in.Admin, "admin")
	if err != nil {
		return nil, err
	}
	return s.lifecycle.UpdateGlobalConfig(ctx, lifecycle.UpdateConfigParams{Admin: admin, Update: in.Update})
}

// GetGlobalConfig reads the platform configuration.
func (s *Service) GetGlobalConfig(ctx context.Context, _ GetGlobalConfigRequest) (*room.GlobalConfig, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.lifecycle.GetGlobalConfig(ctx)
}

// CreateRoom creates a room for its host.
func (s *Service) CreateRoom(ctx context.Context, in CreateRoomRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	host, err := s.keys.Signer(in.Room.Host, "room.host")
	if err != nil {
		return nil, err
	}
	params := lifecycle.CreateRoomParams{Host: host, Params: in.Room}
	if !in.Payer.IsZero() {
		if params.Payer, err = s.keys.Signer(in.Payer, "payer"); err != nil {
			return nil, err
		}
	}
	return s.lifecycle.CreateRoom(ctx, params)
}

// UpdateRoomFees replaces a room's host and prize shares.
func (s *Service) UpdateRoomFees(ctx context.Context, in UpdateRoomFeesRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	host, err := s.keys.Signer(in.Room.Host, "room.host")
	if err != nil {
		return nil, err
	}
	return s.lifecycle.UpdateRoomFees(ctx, lifecycle.UpdateRoomFeesParams{
		Room:              in.Room,
		Host:              host,
		HostBps:           in.HostBps,
		PrizeBps:          in.PrizeBps,
		PrizeDistribution: in.PrizeDistribution,
	})
}

// DepositPrizeAsset funds one asset prize slot.
func (s *Service) DepositPrizeAsset(ctx context.Context, in DepositPrizeAssetRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	host, err := s.keys.Signer(in.Room.Host, "room.host")
	if err != nil {
		return nil, err
	}
	return s.lifecycle.DepositPrizeAsset(ctx, lifecycle.DepositPrizeParams{Room: in.Room, Host: host, Slot: in.Slot})
}

// ResolveJoinTarget looks up a join without submitting anything.
func (s *Service) ResolveJoinTarget(ctx context.Context, in ResolveJoinTargetRequest) (lifecycle.ResolvedJoinParams, error) {
	if err := s.ready(); err != nil {
		return lifecycle.ResolvedJoinParams{}, err
	}
	return s.lifecycle.ResolveJoinTarget(ctx, lifecycle.JoinQuery{Room: in.Room, Player: in.Player, Extras: in.Extras})
}

// JoinRoom submits a resolved join signed by the player.
func (s *Service) JoinRoom(ctx context.Context, in JoinRoomRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	player, err := s.keys.Signer(in.Target.Player, "target.player")
	if err != nil {
		return nil, err
	}
	return s.lifecycle.JoinRoom(ctx, lifecycle.JoinParams{Target: in.Target, Player: player})
}

// CloseJoining stops further joins.
func (s *Service) CloseJoining(ctx context.Context, in RoomRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	signer, err := s.caller(in)
	if err != nil {
		return nil, err
	}
	return s.lifecycle.CloseJoining(ctx, lifecycle.RoomParams{Room: in.Room, Signer: signer})
}

// DeclareWinners records the ordered winner list.
func (s *Service) DeclareWinners(ctx context.Context, in DeclareWinnersRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	host, err := s.keys.Signer(in.Room.Host, "room.host")
	if err != nil {
		return nil, err
	}
	return s.lifecycle.DeclareWinners(ctx, lifecycle.DeclareWinnersParams{Room: in.Room, Host: host, Winners: in.Winners})
}

// Settle pays out a room.
func (s *Service) Settle(ctx context.Context, in RoomRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	caller, err := s.caller(in)
	if err != nil {
		return nil, err
	}
	return s.lifecycle.Settle(ctx, lifecycle.SettleParams{Room: in.Room, Caller: caller})
}

// RecoverRoom refunds a room.
func (s *Service) RecoverRoom(ctx context.Context, in RoomRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	caller, err := s.caller(in)
	if err != nil {
		return nil, err
	}
	return s.lifecycle.RecoverRoom(ctx, lifecycle.RecoverParams{Room: in.Room, Caller: caller})
}

// Cleanup closes an ended room's accounts.
func (s *Service) Cleanup(ctx context.Context, in RoomRequest) (*lifecycle.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	signer, err := s.caller(in)
	if err != nil {
		return nil, err
	}
	return s.lifecycle.Cleanup(ctx, lifecycle.RoomParams{Room: in.Room, Signer: signer})
}

// GetRoomInfo reads a room and its custody balances.
func (s *Service) GetRoomInfo(ctx context.Context, in RoomRequest) (lifecycle.RoomInfo, error) {
	if err := s.ready(); err != nil {
		return lifecycle.RoomInfo{}, err
	}
	return s.lifecycle.GetRoomInfo(ctx, in.Room)
}

// GetPlayerEntry reads one player's entry.
func (s *Service) GetPlayerEntry(ctx context.Context, in GetPlayerEntryRequest) (*room.PlayerEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.lifecycle.GetPlayerEntry(ctx, in.Room, in.Player)
}

// Reconcile compares a room's ledger state with its off-chain totals.
func (s *Service) Reconcile(ctx context.Context, in RoomRequest) (reconcile.Report, error) {
	if err := s.ready(); err != nil {
		return reconcile.Report{}, err
	}
	if s.reconciler == nil {
		return reconcile.Report{}, status.Error(codes.Unimplemented, "reconciliation is not configured")
	}
	return s.reconciler.Reconcile(ctx, in.Room)
}

// RecordPayment books an off-chain collection against a room.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentRequest) (RecordPaymentResponse, error) {
	if err := s.ready(); err != nil {
		return RecordPaymentResponse{}, err
	}
	if s.payments == nil {
		return RecordPaymentResponse{}, status.Error(codes.Unimplemented, "payments ledger is not configured")
	}
	kind, err := storage.ParsePaymentKind(string(in.Kind))
	if err != nil {
		return RecordPaymentResponse{}, apperrors.Field(apperrors.CodeInvalidArgument, "kind", err.Error())
	}
	if in.Amount == 0 {
		return RecordPaymentResponse{}, apperrors.Field(apperrors.CodeInvalidArgument, "amount", "amount must be positive")
	}
	roomAddr, err := in.Room.Address(s.lifecycle.Deriver())
	if err != nil {
		return RecordPaymentResponse{}, err
	}
	paymentID, err := id.NewID()
	if err != nil {
		return RecordPaymentResponse{}, err
	}
	p := storage.Payment{
		ID:         paymentID,
		Room:       roomAddr,
		Kind:       kind,
		Amount:     in.Amount,
		Reference:  in.Reference,
		RecordedAt: s.clock().UTC(),
	}
	if err := s.payments.RecordPayment(ctx, p); err != nil {
		return RecordPaymentResponse{}, err
	}
	return RecordPaymentResponse{Payment: p}, nil
}

// ListPayments lists a room's off-chain collections.
func (s *Service) ListPayments(ctx context.Context, in RoomRequest) (ListPaymentsResponse, error) {
	if err := s.ready(); err != nil {
		return ListPaymentsResponse{}, err
	}
	if s.payments == nil {
		return ListPaymentsResponse{}, status.Error(codes.Unimplemented, "payments ledger is not configured")
	}
	roomAddr, err := in.Room.Address(s.lifecycle.Deriver())
	if err != nil {
		return ListPaymentsResponse{}, err
	}
	payments, err := s.payments.ListPayments(ctx, roomAddr)
	if err != nil {
		return ListPaymentsResponse{}, err
	}
	return ListPaymentsResponse{Payments: payments}, nil
}

// caller resolves the acting key of a room request, defaulting to the host.
func (s *Service) caller(in RoomRequest) (bundle.Signer, error) {
	if in.Caller.IsZero() {
		return s.keys.Signer(in.Room.Host, "room.host")
	}
	return s.keys.Signer(in.Caller, "caller")
}
