// Package reconcile compares what a room holds and owes on the ledger with
// what the off-chain payments ledger recorded for it.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/decred/slog"
	"github.com/holiman/uint256"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/fee"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/room"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/lifecycle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/storage"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/submit"
	"golang.org/x/sync/errgroup"
)

// ExternalTotals is the off-chain payments ledger.
type ExternalTotals interface {
	GetExternalTotals(ctx context.Context, room address.Address) (storage.ExternalTotals, error)
}

// RoomReader reads authoritative room state.
type RoomReader interface {
	Deriver() address.Deriver
	GetRoomInfo(ctx context.Context, ref lifecycle.RoomRef) (lifecycle.RoomInfo, error)
}

// SubmissionLister lists journaled submissions of a room.
type SubmissionLister interface {
	ListSubmissions(ctx context.Context, room address.Address, status submit.Status) ([]submit.Submission, error)
}

// DiscrepancyKind names a reconciliation finding.
type DiscrepancyKind string

const (
	// HoldingMismatch: custody balances differ from what the room recorded.
	HoldingMismatch DiscrepancyKind = "holding_mismatch"
	// HoldingAfterEnd: custody still holds funds after the terminal payout.
	HoldingAfterEnd DiscrepancyKind = "holding_after_end"
	// UnresolvedSubmission: a submission whose outcome was never learned.
	UnresolvedSubmission DiscrepancyKind = "unresolved_submission"
)

// Discrepancy is one finding that needs an operator.
type Discrepancy struct {
	Kind   DiscrepancyKind `json:"kind"`
	Detail string          `json:"detail"`
}

// Report is the reconciliation of one room.
type Report struct {
	Room             address.Address        `json:"room"`
	RoomID           string                 `json:"room_id"`
	Phase            room.Phase             `json:"phase"`
	Recovered        bool                   `json:"recovered,omitempty"`
	Players          uint32                 `json:"players"`
	OnChainCollected uint64                 `json:"on_chain_collected"`
	OnChainExtras    uint64                 `json:"on_chain_extras"`
	Holding          lifecycle.Holding      `json:"holding"`
	ExpectedSplit    fee.Split              `json:"expected_split"`
	External         storage.ExternalTotals `json:"external"`
	// CombinedRevenue is on-chain collection plus off-chain ticket revenue
	// and payments, in decimal minor units.
	CombinedRevenue string              `json:"combined_revenue"`
	Unresolved      []submit.Submission `json:"unresolved,omitempty"`
	Discrepancies   []Discrepancy       `json:"discrepancies,omitempty"`
}

// Balanced reports whether nothing needs attention.
func (r Report) Balanced() bool {
	return len(r.Discrepancies) == 0
}

// Reconciler builds reports.
type Reconciler struct {
	rooms       RoomReader
	external    ExternalTotals
	submissions SubmissionLister
	log         slog.Logger
}

// New builds a reconciler.
func New(rooms RoomReader, external ExternalTotals, submissions SubmissionLister, log slog.Logger) (*Reconciler, error) {
	if rooms == nil {
		return nil, errors.New("room reader is required")
	}
	if external == nil {
		return nil, errors.New("external totals are required")
	}
	if submissions == nil {
		return nil, errors.New("submission lister is required")
	}
	if log == nil {
		log = slog.Disabled
	}
	return &Reconciler{rooms: rooms, external: external, submissions: submissions, log: log}, nil
}

// Reconcile reads the room, its off-chain totals and its unresolved
// submissions concurrently and compares them.
func (rc *Reconciler) Reconcile(ctx context.Context, ref lifecycle.RoomRef) (Report, error) {
	roomAddr, err := ref.Address(rc.rooms.Deriver())
	if err != nil {
		return Report{}, err
	}

	var (
		info       lifecycle.RoomInfo
		external   storage.ExternalTotals
		unresolved []submit.Submission
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = rc.rooms.GetRoomInfo(gctx, ref)
		return err
	})
	g.Go(func() error {
		var err error
		external, err = rc.external.GetExternalTotals(gctx, roomAddr)
		if err != nil {
			return fmt.Errorf("external totals of %s: %w", roomAddr, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		unresolved, err = rc.submissions.ListSubmissions(gctx, roomAddr, submit.StatusUnresolved)
		if err != nil {
			return fmt.Errorf("unresolved submissions of %s: %w", roomAddr, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	r := info.Room
	split, err := fee.SplitWithExtras(r.TotalCollected, r.TotalExtras, r.Fees, r.ExtrasRouting)
	if err != nil {
		return Report{}, err
	}
	combined := uint256.NewInt(r.TotalCollected)
	combined.Add(combined, uint256.NewInt(external.TicketRevenue))
	combined.Add(combined, uint256.NewInt(external.OffChainPayments))

	report := Report{
		Room:             roomAddr,
		RoomID:           r.RoomID,
		Phase:            r.Phase,
		Recovered:        r.Recovered,
		Players:          r.PlayerCount,
		OnChainCollected: r.TotalCollected,
		OnChainExtras:    r.TotalExtras,
		Holding:          info.Holding,
		ExpectedSplit:    split,
		External:         external,
		CombinedRevenue:  combined.Dec(),
		Unresolved:       unresolved,
		Discrepancies:    compare(r, info.Holding, unresolved),
	}
	if !report.Balanced() {
		rc.log.Warnf("Room %s reconciles with %d discrepancies", roomAddr, len(report.Discrepancies))
	}
	return report, nil
}

// compare checks custody balances against the room's own bookkeeping.
func compare(r *room.Room, h lifecycle.Holding, unresolved []submit.Submission) []Discrepancy {
	var out []Discrepancy
	if r.Phase.AtLeast(room.PhaseEnded) {
		if h.Total != 0 {
			out = append(out, Discrepancy{
				Kind:   HoldingAfterEnd,
				Detail: fmt.Sprintf("custody holds %d after the room ended", h.Total),
			})
		}
	} else {
		if h.Vault != r.TotalCollected {
			out = append(out, Discrepancy{
				Kind:   HoldingMismatch,
				Detail: fmt.Sprintf("vault holds %d, room collected %d", h.Vault, r.TotalCollected),
			})
		}
		for i, asset := range r.PrizeAssets {
			var held uint64
			if i < len(h.Escrows) {
				held = h.Escrows[i]
			}
			var want uint64
			if asset.Deposited {
				want = asset.Amount
			}
			if held != want {
				out = append(out, Discrepancy{
					Kind:   HoldingMismatch,
					Detail: fmt.Sprintf("prize slot %d holds %d, expected %d", i, held, want),
				})
			}
		}
	}
	for _, sub := range unresolved {
		out = append(out, Discrepancy{
			Kind:   UnresolvedSubmission,
			Detail: fmt.Sprintf("%s submission %s (bundle %s) has no known outcome", sub.Operation, sub.ID, sub.Digest),
		})
	}
	return out
}
