package settlement

import (
	"github.com/louisbranch/fundraising.space/internal/platform/grpc/envelope"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/lifecycle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/storage"
)

// ServiceName is the settlement gRPC service.
const ServiceName = "settlement.v1.SettlementService"

// Settlement service methods.
const (
	MethodInitializeGlobalConfig = "InitializeGlobalConfig"
	MethodUpdateGlobalConfig     = "UpdateGlobalConfig"
	MethodGetGlobalConfig        = "GetGlobalConfig"
	MethodCreateRoom             = "CreateRoom"
	MethodUpdateRoomFees         = "UpdateRoomFees"
	MethodDepositPrizeAsset      = "DepositPrizeAsset"
	MethodResolveJoinTarget      = "ResolveJoinTarget"
	MethodJoinRoom               = "JoinRoom"
	MethodCloseJoining           = "CloseJoining"
	MethodDeclareWinners         = "DeclareWinners"
	MethodSettle                 = "Settle"
	MethodRecoverRoom            = "RecoverRoom"
	MethodCleanup                = "Cleanup"
	MethodGetRoomInfo            = "GetRoomInfo"
	MethodGetPlayerEntry         = "GetPlayerEntry"
	MethodReconcile              = "Reconcile"
	MethodRecordPayment          = "RecordPayment"
	MethodListPayments           = "ListPayments"
)

// FullMethod returns the wire path of a settlement method.
func FullMethod(method string) string {
	return envelope.FullMethod(ServiceName, method)
}

// Signing parties are named by address; the service signs with the keys it
// holds for them.

type InitializeGlobalConfigRequest struct {
	Admin          address.Address `json:"admin"`
	PlatformWallet address.Address `json:"platform_wallet"`
	CharityWallet  address.Address `json:"charity_wallet"`
	// Policy defaults to fee.DefaultPolicy when omitted.
	Policy *fee.Policy `json:"policy,omitempty"`
}

type UpdateGlobalConfigRequest struct {
	Admin  address.Address   `json:"admin"`
	Update room.ConfigUpdate `json:"update"`
}

type GetGlobalConfigRequest struct{}

type CreateRoomRequest struct {
	// Payer funds the account reserves and defaults to the host.
	Payer address.Address   `json:"payer,omitempty"`
	Room  room.CreateParams `json:"room"`
}

type UpdateRoomFeesRequest struct {
	Room              lifecycle.RoomRef `json:"room"`
	HostBps           uint16            `json:"host_bps"`
	PrizeBps          uint16            `json:"prize_bps"`
	PrizeDistribution []uint8           `json:"prize_distribution,omitempty"`
}

type DepositPrizeAssetRequest struct {
	Room lifecycle.RoomRef `json:"room"`
	Slot int               `json:"slot"`
}

type ResolveJoinTargetRequest struct {
	Room   lifecycle.RoomRef `json:"room"`
	Player address.Address   `json:"player"`
	Extras uint64            `json:"extras,omitempty"`
}

type JoinRoomRequest struct {
	Target lifecycle.ResolvedJoinParams `json:"target"`
}

// RoomRequest names a room and, where the operation allows anyone to act,
// the caller. An empty caller means the host.
type RoomRequest struct {
	Room   lifecycle.RoomRef `json:"room"`
	Caller address.Address   `json:"caller,omitempty"`
}

type DeclareWinnersRequest struct {
	Room    lifecycle.RoomRef `json:"room"`
	Winners []address.Address `json:"winners"`
}

type GetPlayerEntryRequest struct {
	Room   lifecycle.RoomRef `json:"room"`
	Player address.Address   `json:"player"`
}

type RecordPaymentRequest struct {
	Room      lifecycle.RoomRef   `json:"room"`
	Kind      storage.PaymentKind `json:"kind"`
	Amount    uint64              `json:"amount"`
	Reference string              `json:"reference,omitempty"`
}

type RecordPaymentResponse struct {
	Payment storage.Payment `json:"payment"`
}

type ListPaymentsResponse struct {
	Payments []storage.Payment `json:"payments"`
}
