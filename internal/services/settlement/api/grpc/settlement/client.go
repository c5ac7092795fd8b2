package settlement

import (
	"context"

	"github.com/decred/slog"
	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/platform/grpc/envelope"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/lifecycle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/reconcile"
	gogrpc "google.golang.org/grpc"
)

// Client calls a settlement service. Domain errors come back as apperrors
// values with their codes and metadata.
type Client struct {
	cc  gogrpc.ClientConnInterface
	log slog.Logger
}

// NewClient wraps a settlement connection.
func NewClient(cc gogrpc.ClientConnInterface, log slog.Logger) *Client {
	if log == nil {
		log = slog.Disabled
	}
	return &Client{cc: cc, log: log}
}

func (c *Client) InitializeGlobalConfig(ctx context.Context, in InitializeGlobalConfigRequest) (*lifecycle.Result, error) {
	return call[InitializeGlobalConfigRequest, *lifecycle.Result](ctx, c, MethodInitializeGlobalConfig, in)
}

func (c *Client) UpdateGlobalConfig(ctx context.Context, in UpdateGlobalConfigRequest) (*lifecycle.Result, error) {
	return call[UpdateGlobalConfigRequest, *lifecycle.Result](ctx, c, MethodUpdateGlobalConfig, in)
}

func (c *Client) GetGlobalConfig(ctx context.Context) (*room.GlobalConfig, error) {
	return call[GetGlobalConfigRequest, *room.GlobalConfig](ctx, c, MethodGetGlobalConfig, GetGlobalConfigRequest{})
}

func (c *Client) CreateRoom(ctx context.Context, in CreateRoomRequest) (*lifecycle.Result, error) {
	return call[CreateRoomRequest, *lifecycle.Result](ctx, c, MethodCreateRoom, in)
}

func (c *Client) UpdateRoomFees(ctx context.Context, in UpdateRoomFeesRequest) (*lifecycle.Result, error) {
	return call[UpdateRoomFeesRequest, *lifecycle.Result](ctx, c, MethodUpdateRoomFees, in)
}

func (c *Client) DepositPrizeAsset(ctx context.Context, in DepositPrizeAssetRequest) (*lifecycle.Result, error) {
	return call[DepositPrizeAssetRequest, *lifecycle.Result](ctx, c, MethodDepositPrizeAsset, in)
}

func (c *Client) ResolveJoinTarget(ctx context.Context, in ResolveJoinTargetRequest) (lifecycle.ResolvedJoinParams, error) {
	return call[ResolveJoinTargetRequest, lifecycle.ResolvedJoinParams](ctx, c, MethodResolveJoinTarget, in)
}

func (c *Client) JoinRoom(ctx context.Context, in JoinRoomRequest) (*lifecycle.Result, error) {
	return call[JoinRoomRequest, *lifecycle.Result](ctx, c, MethodJoinRoom, in)
}

func (c *Client) CloseJoining(ctx context.Context, in RoomRequest) (*lifecycle.Result, error) {
	return call[RoomRequest, *lifecycle.Result](ctx, c, MethodCloseJoining, in)
}

func (c *Client) DeclareWinners(ctx context.Context, in DeclareWinnersRequest) (*lifecycle.Result, error) {
	return call[DeclareWinnersRequest, *lifecycle.Result](ctx, c, MethodDeclareWinners, in)
}

func (c *Client) Settle(ctx context.Context, in RoomRequest) (*lifecycle.Result, error) {
	return call[RoomRequest, *lifecycle.Result](ctx, c, MethodSettle, in)
}

func (c *Client) RecoverRoom(ctx context.Context, in RoomRequest) (*lifecycle.Result, error) {
	return call[RoomRequest, *lifecycle.Result](ctx, c, MethodRecoverRoom, in)
}

func (c *Client) Cleanup(ctx context.Context, in RoomRequest) (*lifecycle.Result, error) {
	return call[RoomRequest, *lifecycle.Result](ctx, c, MethodCleanup, in)
}

func (c *Client) GetRoomInfo(ctx context.Context, ref lifecycle.RoomRef) (lifecycle.RoomInfo, error) {
	return call[RoomRequest, lifecycle.RoomInfo](ctx, c, MethodGetRoomInfo, RoomRequest{Room: ref})
}

func (c *Client) GetPlayerEntry(ctx context.Context, in GetPlayerEntryRequest) (*room.PlayerEntry, error) {
	return call[GetPlayerEntryRequest, *room.PlayerEntry](ctx, c, MethodGetPlayerEntry, in)
}

func (c *Client) Reconcile(ctx context.Context, ref lifecycle.RoomRef) (reconcile.Report, error) {
	return call[RoomRequest, reconcile.Report](ctx, c, MethodReconcile, RoomRequest{Room: ref})
}

func (c *Client) RecordPayment(ctx context.Context, in RecordPaymentRequest) (RecordPaymentResponse, error) {
	return call[RecordPaymentRequest, RecordPaymentResponse](ctx, c, MethodRecordPayment, in)
}

func (c *Client) ListPayments(ctx context.Context, ref lifecycle.RoomRef) (ListPaymentsResponse, error) {
	return call[RoomRequest, ListPaymentsResponse](ctx, c, MethodListPayments, RoomRequest{Room: ref})
}

// call leaves deadlines to ctx: transitions wait for confirmation.
func call[Req, Resp any](ctx context.Context, c *Client, method string, req Req) (Resp, error) {
	resp, err := envelope.Invoke[Req, Resp](ctx, c.cc, FullMethod(method), req)
	if err != nil {
		err = apperrors.FromGRPCStatus(err)
		c.log.Debugf("settlement %s failed: code=%s err=%v", method, apperrors.GetCode(err), err)
		return resp, err
	}
	return resp, nil
}
