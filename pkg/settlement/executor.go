// Package settlement executes signed unique-asset transfer orders. Each
// order, identified by its claim, settles at most once, can be cancelled by
// its sender until then, and moves the asset and its fees as one unit.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/accordsai/transferlane/pkg/capability"
	"github.com/accordsai/transferlane/pkg/claimhash"
	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/accordsai/transferlane/pkg/ledger"
	"github.com/accordsai/transferlane/pkg/signature"
	"github.com/accordsai/transferlane/pkg/transferstate"
	"github.com/ethereum/go-ethereum/common"
)

// Config holds the identities fixed for the lifetime of an instance.
type Config struct {
	// Instance is this deployment's own identity; it is hashed into every
	// claim so orders signed for one instance do not replay on another.
	Instance    common.Address
	Token       common.Address
	TokenProxy  common.Address
	AssetProxy  common.Address
	ReadTimeout time.Duration
}

// Deps are the collaborators an Executor works through. Store and the ledger
// ports are required; Emitter, Logger and Now default to no-op emission, a
// discarding logger and time.Now.
type Deps struct {
	Store          transferstate.Store
	TokenReader    ledger.TokenReader
	TokenTransfers ledger.TokenTransferProxy
	Registries     ledger.AssetRegistries
	AssetTransfers ledger.AssetTransferProxy
	Emitter        Emitter
	Logger         *slog.Logger
	Now            func() time.Time
}

// Receipt describes a settled or cancelled order.
type Receipt struct {
	Claim  domain.Claim   `json:"claim"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Status domain.Status  `json:"status"`
}

// Executor settles and cancels orders for one instance. It is safe for
// concurrent use; per-claim exclusion comes from the state store.
type Executor struct {
	cfg          Config
	store        transferstate.Store
	registries   ledger.AssetRegistries
	assets       ledger.AssetTransferProxy
	fees         FeeDistributor
	emitter      Emitter
	logger       *slog.Logger
	now          func() time.Time
	capabilities *capability.Registry
}

// New validates cfg and deps and returns an Executor advertising the
// settlement capability.
func New(cfg Config, deps Deps) (*Executor, error) {
	zero := common.Address{}
	switch {
	case cfg.Instance == zero:
		return nil, errors.New("instance address is required")
	case cfg.Token == zero:
		return nil, errors.New("token address is required")
	case cfg.TokenProxy == zero:
		return nil, errors.New("token proxy address is required")
	case cfg.AssetProxy == zero:
		return nil, errors.New("asset proxy address is required")
	case deps.Store == nil:
		return nil, errors.New("state store is required")
	case deps.TokenReader == nil || deps.TokenTransfers == nil:
		return nil, errors.New("token reader and transfer proxy are required")
	case deps.Registries == nil || deps.AssetTransfers == nil:
		return nil, errors.New("asset registries and transfer proxy are required")
	}
	e := &Executor{
		cfg:        cfg,
		store:      deps.Store,
		registries: deps.Registries,
		assets:     deps.AssetTransfers,
		fees: FeeDistributor{
			Token:       cfg.Token,
			TokenProxy:  cfg.TokenProxy,
			Reader:      deps.TokenReader,
			Transfers:   deps.TokenTransfers,
			ReadTimeout: cfg.ReadTimeout,
		},
		emitter:      deps.Emitter,
		logger:       deps.Logger,
		now:          deps.Now,
		capabilities: capability.NewRegistry(capability.Settlement),
	}
	if e.emitter == nil {
		e.emitter = Fanout(nil)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

func (e *Executor) Instance() common.Address           { return e.cfg.Instance }
func (e *Executor) Token() common.Address              { return e.cfg.Token }
func (e *Executor) TokenTransferProxy() common.Address { return e.cfg.TokenProxy }
func (e *Executor) AssetTransferProxy() common.Address { return e.cfg.AssetProxy }

func (e *Executor) SupportsInterface(id capability.InterfaceID) bool {
	return e.capabilities.Supports(id)
}

// Claim computes the claim of the encoded order without touching state.
func (e *Executor) Claim(addresses []common.Address, uints []*big.Int) (domain.Claim, error) {
	order, err := domain.DecodeOrder(addresses, uints)
	if err != nil {
		return domain.Claim{}, newError(CodeInvalidInput, "decode order", err)
	}
	return claimhash.Compute(e.cfg.Instance, order), nil
}

func (e *Executor) IsValidSignature(signer common.Address, claim domain.Claim, sig signature.VRS) bool {
	return signature.IsValid(signer, claim, sig)
}

func (e *Executor) Status(ctx context.Context, claim domain.Claim) (transferstate.Entry, error) {
	entry, err := e.store.Get(ctx, claim)
	if err != nil {
		return transferstate.Entry{}, newError(CodeStateStoreFailure, "read claim status", err)
	}
	return entry, nil
}

// Perform settles the order encoded by addresses and uints. Only the
// order's receiver may call it. With strict set, fee affordability and the
// asset proxy's approval are checked up front; either way the transfers
// themselves fail the call if they cannot be made.
//
// A Perform or Cancel called from inside a collaborator call of another
// settlement joins that settlement: it becomes final when the outer one
// commits and is undone if the outer one fails.
func (e *Executor) Perform(ctx context.Context, caller common.Address, addresses []common.Address, uints []*big.Int, sig signature.VRS, strict bool) (Receipt, error) {
	order, err := domain.DecodeOrder(addresses, uints)
	if err != nil {
		return Receipt{}, newError(CodeInvalidInput, "decode order", err)
	}
	claim := claimhash.Compute(e.cfg.Instance, order)
	log := e.logger.With("claim", claim.Hex(), "from", order.From.Hex(), "to", order.To.Hex())

	if order.To != caller {
		return Receipt{}, newError(CodeCallerNotReceiver, "only the receiver may perform the transfer", nil)
	}
	if order.From == order.To {
		return Receipt{}, newError(CodeSameParties, "from and to must differ", nil)
	}
	if order.Expiration.Cmp(big.NewInt(e.now().Unix())) < 0 {
		return Receipt{}, newError(CodeOrderExpired, "order expired", nil)
	}
	if !signature.IsValid(order.From, claim, sig) {
		return Receipt{}, newError(CodeInvalidSignature, "signature does not recover to from", nil)
	}
	if err := e.requireUnset(ctx, claim); err != nil {
		return Receipt{}, err
	}

	if strict {
		canPay, err := e.fees.CanPayFee(ctx, order.To, order.FeeAmounts)
		if err != nil {
			return Receipt{}, err
		}
		if !canPay {
			return Receipt{}, newError(CodeInsufficientFunds, "receiver cannot cover fees", nil)
		}
		allowed, err := e.isAllowed(ctx, order)
		if err != nil {
			return Receipt{}, err
		}
		if !allowed {
			return Receipt{}, newError(CodeNFTokenNotAllowed, "asset proxy is not approved for the asset", nil)
		}
	}

	u, uctx, err := e.begin(ctx)
	if err != nil {
		return Receipt{}, err
	}
	abort := func(err error) (Receipt, error) {
		if undoErr := u.abort(ctx); undoErr != nil {
			log.ErrorContext(ctx, "transfer revert incomplete", "error", undoErr)
		}
		log.WarnContext(ctx, "transfer aborted", "reason", string(CodeOf(err)), "error", err)
		return Receipt{}, err
	}

	// The mark is taken before any collaborator call so that anything those
	// calls trigger, including a call back into Perform, finds the claim
	// taken.
	marked, err := u.tx.TryMarkPerformed(ctx, claim)
	if err != nil {
		return abort(newError(CodeStateStoreFailure, "mark performed", err))
	}
	if !marked {
		return abort(e.takenError(ctx, claim))
	}

	if err := e.assets.TransferFrom(uctx, order.Asset, order.From, order.To, order.AssetID); err != nil {
		return abort(newError(CodeAssetTransferFailed, fmt.Sprintf("asset %s", order.AssetID), err))
	}
	if err := e.fees.PayFees(uctx, order.FeeRecipients, order.FeeAmounts, order.To); err != nil {
		return abort(err)
	}
	err = u.commit(ctx, func() {
		log.InfoContext(ctx, "transfer performed", "asset", order.Asset.Hex(), "asset_id", order.AssetID.String(), "fees", len(order.FeeAmounts))
		e.emitter.Emit(ctx, Event{Type: EventPerformTransfer, From: order.From, To: order.To, Claim: claim, OccurredAt: e.now().UTC()})
	})
	if err != nil {
		return abort(newError(CodeStateStoreFailure, "commit", err))
	}
	return Receipt{Claim: claim, From: order.From, To: order.To, Status: domain.StatusPerformed}, nil
}

// Cancel marks the order as cancelled. Only the order's sender may call it
// and only before the order is performed.
func (e *Executor) Cancel(ctx context.Context, caller common.Address, addresses []common.Address, uints []*big.Int) (Receipt, error) {
	if len(addresses) > 0 && caller != addresses[0] {
		return Receipt{}, newError(CodeCallerNotSender, "only the sender may cancel the transfer", nil)
	}
	order, err := domain.DecodeOrder(addresses, uints)
	if err != nil {
		return Receipt{}, newError(CodeInvalidInput, "decode order", err)
	}
	claim := claimhash.Compute(e.cfg.Instance, order)
	log := e.logger.With("claim", claim.Hex(), "from", order.From.Hex(), "to", order.To.Hex())

	if err := e.requireUnset(ctx, claim); err != nil {
		return Receipt{}, err
	}

	u, _, err := e.begin(ctx)
	if err != nil {
		return Receipt{}, err
	}
	abort := func(err error) (Receipt, error) {
		if undoErr := u.abort(ctx); undoErr != nil {
			log.ErrorContext(ctx, "cancel revert incomplete", "error", undoErr)
		}
		return Receipt{}, err
	}

	marked, err := u.tx.TryMarkCancelled(ctx, claim, caller, order.From)
	if err != nil {
		return abort(newError(CodeStateStoreFailure, "mark cancelled", err))
	}
	if !marked {
		return abort(e.takenError(ctx, claim))
	}
	err = u.commit(ctx, func() {
		log.InfoContext(ctx, "transfer cancelled")
		e.emitter.Emit(ctx, Event{Type: EventCancelTransfer, From: order.From, To: order.To, Claim: claim, OccurredAt: e.now().UTC()})
	})
	if err != nil {
		return abort(newError(CodeStateStoreFailure, "commit", err))
	}
	return Receipt{Claim: claim, From: order.From, To: order.To, Status: domain.StatusCancelled}, nil
}

func (e *Executor) requireUnset(ctx context.Context, claim domain.Claim) error {
	status, err := transferstate.Status(ctx, e.store, claim)
	if err != nil {
		return newError(CodeStateStoreFailure, "read claim status", err)
	}
	switch status {
	case domain.StatusPerformed:
		return newError(CodeAlreadyPerformed, "transfer already performed", nil)
	case domain.StatusCancelled:
		return newError(CodeCancelled, "transfer cancelled", nil)
	}
	return nil
}

// takenError explains why a mark was refused after the status read passed:
// another settlement committed or still holds the claim.
func (e *Executor) takenError(ctx context.Context, claim domain.Claim) error {
	if err := e.requireUnset(ctx, claim); err != nil {
		return err
	}
	return newError(CodeAlreadyPerformed, "transfer is being settled", nil)
}

// isAllowed reports whether the asset proxy may move the order's asset,
// either as its approved address or as an operator for all of from's assets.
func (e *Executor) isAllowed(ctx context.Context, order domain.Order) (bool, error) {
	rctx, cancel := e.readContext(ctx)
	defer cancel()

	registry, err := e.registries.Registry(rctx, order.Asset)
	if err != nil {
		return false, newError(CodeCollaboratorReadError, "resolve asset registry", err)
	}
	approved, err := registry.GetApproved(rctx, order.AssetID)
	if err != nil {
		return false, newError(CodeCollaboratorReadError, "asset approval", err)
	}
	if approved == e.cfg.AssetProxy {
		return true, nil
	}
	operator, err := registry.IsApprovedForAll(rctx, order.From, e.cfg.AssetProxy)
	if err != nil {
		return false, newError(CodeCollaboratorReadError, "asset operator approval", err)
	}
	return operator, nil
}

func (e *Executor) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.ReadTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.ReadTimeout)
	}
	return context.WithCancel(ctx)
}
