// Package accounts resolves the currency accounts a bundle pays into,
// scheduling idempotent creation for the ones that do not exist yet.
package accounts

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentReads bounds parallel ledger reads in EnsureAll.
const maxConcurrentReads = 8

// Reader is the authoritative account read the resolver needs.
type Reader interface {
	GetAccounts(ctx context.Context, addrs []address.Address) ([]*chain.Account, error)
}

// Request names the owner and currency of one account.
type Request struct {
	Owner address.Address
	Mint  address.Address
}

// Resolution is the resolved account for one request. Create is set when
// the account is missing and must be created ahead of its first use.
type Resolution struct {
	Request
	Address address.Address
	Exists  bool
	Balance uint64
	Create  *bundle.Instruction
}

// Resolver reads the ledger on every call; there is no cache because another
// actor may create an account between two operations.
type Resolver struct {
	reader  Reader
	deriver address.Deriver
}

// NewResolver builds a resolver.
func NewResolver(reader Reader, deriver address.Deriver) *Resolver {
	return &Resolver{reader: reader, deriver: deriver}
}

// Ensure resolves the associated account of owner for mint. payer funds the
// creation when the account is missing.
func (r *Resolver) Ensure(ctx context.Context, payer address.Address, req Request) (Resolution, error) {
	addr, _, err := r.deriver.Token(req.Owner, req.Mint)
	if err != nil {
		return Resolution{}, err
	}
	accts, err := r.reader.GetAccounts(ctx, []address.Address{addr})
	if err != nil {
		return Resolution{}, err
	}
	if len(accts) != 1 {
		return Resolution{}, fmt.Errorf("ledger returned %d accounts for one address", len(accts))
	}
	return resolve(payer, req, addr, accts[0])
}

// EnsureAll resolves many requests concurrently. Duplicate requests resolve
// once. Results follow the first-seen request order, and creates lists the
// creation instructions in that same order.
func (r *Resolver) EnsureAll(ctx context.Context, payer address.Address, reqs []Request) ([]Resolution, []bundle.Instruction, error) {
	unique := make([]Request, 0, len(reqs))
	seen := make(map[Request]struct{}, len(reqs))
	for _, req := range reqs {
		if _, ok := seen[req]; ok {
			continue
		}
		seen[req] = struct{}{}
		unique = append(unique, req)
	}

	out := make([]Resolution, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, req := range unique {
		g.Go(func() error {
			res, err := r.Ensure(gctx, payer, req)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var creates []bundle.Instruction
	for _, res := range out {
		if res.Create != nil {
			creates = append(creates, *res.Create)
		}
	}
	return out, creates, nil
}

func resolve(payer address.Address, req Request, addr address.Address, acct *chain.Account) (Resolution, error) {
	res := Resolution{Request: req, Address: addr}
	if acct == nil {
		ins, err := bundle.NewInstruction(addr, bundle.KindTokenCreateIdempotent,
			bundle.CreateTokenAccount{Payer: payer, Owner: req.Owner, Mint: req.Mint}, payer)
		if err != nil {
			return Resolution{}, err
		}
		res.Create = &ins
		return res, nil
	}
	if acct.Kind != chain.KindToken || acct.Owner != req.Owner || acct.Mint != req.Mint {
		return Resolution{}, apperrors.WithMetadata(apperrors.CodeAccountMismatch,
			fmt.Sprintf("account %s is not the %s account of %s", addr, req.Mint, req.Owner),
			map[string]string{"Account": addr.String()})
	}
	res.Exists = true
	res.Balance = acct.Amount
	return res, nil
}
