package settlement

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/accordsai/transferlane/pkg/capability"
	"github.com/accordsai/transferlane/pkg/claimhash"
	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/accordsai/transferlane/pkg/ledger/memledger"
	"github.com/accordsai/transferlane/pkg/signature"
	"github.com/accordsai/transferlane/pkg/transferstate"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	instanceAddr   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenAddr      = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenProxyAddr = common.HexToAddress("0x3000000000000000000000000000000000000003")
	assetProxyAddr = common.HexToAddress("0x4000000000000000000000000000000000000004")
	registryAddr   = common.HexToAddress("0x5000000000000000000000000000000000000005")
	feeAddr        = common.HexToAddress("0x6000000000000000000000000000000000000006")
	receiverAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	strangerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

var testNow = time.Unix(1_700_000_000, 0)

type harness struct {
	t        *testing.T
	exec     *Executor
	store    *transferstate.Memory
	token    *memledger.Token
	registry *memledger.Registry
	events   *EventLog
	key      *ecdsa.PrivateKey
	from     common.Address
	to       common.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	h := &harness{
		t:      t,
		store:  transferstate.NewMemory(),
		events: NewEventLog(0),
		key:    key,
		from:   crypto.PubkeyToAddress(key.PublicKey),
		to:     receiverAddr,
	}

	l := memledger.New()
	h.token = l.AddToken(memledger.NewToken(tokenAddr, 18))
	h.registry = l.AddRegistry(memledger.NewRegistry(registryAddr))
	h.token.Mint(h.to, big.NewInt(100))
	h.token.Approve(h.to, tokenProxyAddr, big.NewInt(100))
	if err := h.registry.Mint(h.from, big.NewInt(1)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	h.registry.SetApprovalForAll(h.from, assetProxyAddr, true)

	h.exec, err = New(Config{
		Instance:    instanceAddr,
		Token:       tokenAddr,
		TokenProxy:  tokenProxyAddr,
		AssetProxy:  assetProxyAddr,
		ReadTimeout: time.Second,
	}, Deps{
		Store:          h.store,
		TokenReader:    h.token,
		TokenTransfers: memledger.TokenProxy{Address: tokenProxyAddr, Ledger: l},
		Registries:     l,
		AssetTransfers: memledger.AssetProxy{Address: assetProxyAddr, Ledger: l},
		Emitter:        h.events,
		Now:            func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) order(fees ...any) domain.Order {
	o := domain.Order{
		From:       h.from,
		To:         h.to,
		Asset:      registryAddr,
		AssetID:    big.NewInt(1),
		Seed:       big.NewInt(7),
		Expiration: big.NewInt(testNow.Unix() + 3600),
	}
	for i := 0; i+1 < len(fees); i += 2 {
		o.FeeRecipients = append(o.FeeRecipients, fees[i].(common.Address))
		o.FeeAmounts = append(o.FeeAmounts, fees[i+1].(*big.Int))
	}
	return o
}

func (h *harness) sign(o domain.Order) signature.VRS {
	h.t.Helper()
	sig, err := signature.Sign(claimhash.Compute(instanceAddr, o), h.key)
	if err != nil {
		h.t.Fatalf("Sign: %v", err)
	}
	return sig
}

func (h *harness) perform(ctx context.Context, caller common.Address, o domain.Order, strict bool) (Receipt, error) {
	addresses, uints := o.Encode()
	return h.exec.Perform(ctx, caller, addresses, uints, h.sign(o), strict)
}

func (h *harness) cancel(caller common.Address, o domain.Order) (Receipt, error) {
	addresses, uints := o.Encode()
	return h.exec.Cancel(context.Background(), caller, addresses, uints)
}

func (h *harness) balance(addr common.Address) int64 {
	v, err := h.token.BalanceOf(context.Background(), addr)
	if err != nil {
		h.t.Fatalf("BalanceOf: %v", err)
	}
	return v.Int64()
}

func (h *harness) owner() common.Address {
	owner, err := h.registry.OwnerOf(context.Background(), big.NewInt(1))
	if err != nil {
		h.t.Fatalf("OwnerOf: %v", err)
	}
	return owner
}

func (h *harness) status(o domain.Order) domain.Status {
	st, err := transferstate.Status(context.Background(), h.store, claimhash.Compute(instanceAddr, o))
	if err != nil {
		h.t.Fatalf("Status: %v", err)
	}
	return st
}

func TestPerformMovesAssetAndPaysFees(t *testing.T) {
	h := newHarness(t)
	o := h.order(feeAddr, big.NewInt(10))

	rec, err := h.perform(context.Background(), h.to, o, true)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if rec.Status != domain.StatusPerformed || rec.Claim != claimhash.Compute(instanceAddr, o) {
		t.Fatalf("unexpected receipt %+v", rec)
	}
	if h.owner() != h.to {
		t.Fatalf("expected receiver to own asset")
	}
	if got := h.balance(h.to); got != 90 {
		t.Fatalf("expected receiver 90, got %d", got)
	}
	if got := h.balance(feeAddr); got != 10 {
		t.Fatalf("expected fee recipient 10, got %d", got)
	}
	if h.status(o) != domain.StatusPerformed {
		t.Fatalf("expected PERFORMED")
	}
	evs := h.events.Events()
	if len(evs) != 1 || evs[0].Type != EventPerformTransfer || evs[0].Claim != rec.Claim {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestPerformTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	o := h.order()
	if _, err := h.perform(context.Background(), h.to, o, false); err != nil {
		t.Fatalf("Perform: %v", err)
	}
	_, err := h.perform(context.Background(), h.to, o, false)
	if !errors.Is(err, ErrAlreadyPerformed) {
		t.Fatalf("expected ErrAlreadyPerformed, got %v", err)
	}
	if len(h.events.Events()) != 1 {
		t.Fatalf("expected exactly one event")
	}
}

func TestCancelBlocksPerform(t *testing.T) {
	h := newHarness(t)
	o := h.order()
	rec, err := h.cancel(h.from, o)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if rec.Status != domain.StatusCancelled {
		t.Fatalf("unexpected receipt %+v", rec)
	}
	_, err = h.perform(context.Background(), h.to, o, false)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if h.owner() != h.from {
		t.Fatalf("asset moved after cancel")
	}
	evs := h.events.Events()
	if len(evs) != 1 || evs[0].Type != EventCancelTransfer {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestPerformBlocksCancel(t *testing.T) {
	h := newHarness(t)
	o := h.order()
	if _, err := h.perform(context.Background(), h.to, o, false); err != nil {
		t.Fatalf("Perform: %v", err)
	}
	_, err := h.cancel(h.from, o)
	if !errors.Is(err, ErrAlreadyPerformed) {
		t.Fatalf("expected ErrAlreadyPerformed, got %v", err)
	}
	if h.status(o) != domain.StatusPerformed {
		t.Fatalf("status changed by rejected cancel")
	}
}

func TestCancelTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	o := h.order()
	if _, err := h.cancel(h.from, o); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := h.cancel(h.from, o); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestCallerRestrictions(t *testing.T) {
	h := newHarness(t)
	o := h.order()

	if _, err := h.perform(context.Background(), h.from, o, false); !errors.Is(err, ErrCallerNotReceiver) {
		t.Fatalf("expected ErrCallerNotReceiver, got %v", err)
	}
	if _, err := h.perform(context.Background(), strangerAddr, o, false); !errors.Is(err, ErrCallerNotReceiver) {
		t.Fatalf("expected ErrCallerNotReceiver, got %v", err)
	}
	if _, err := h.cancel(h.to, o); !errors.Is(err, ErrCallerNotSender) {
		t.Fatalf("expected ErrCallerNotSender, got %v", err)
	}
	if h.status(o) != domain.StatusUnset {
		t.Fatalf("rejected calls changed status")
	}
}

func TestPerformRejectsSameParties(t *testing.T) {
	h := newHarness(t)
	o := h.order()
	o.To = h.from
	_, err := h.perform(context.Background(), h.from, o, false)
	if !errors.Is(err, ErrSameParties) {
		t.Fatalf("expected ErrSameParties, got %v", err)
	}
}

func TestPerformExpiry(t *testing.T) {
	h := newHarness(t)

	expired := h.order()
	expired.Expiration = big.NewInt(testNow.Unix() - 1)
	_, err := h.perform(context.Background(), h.to, expired, false)
	if !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("expected ErrOrderExpired, got %v", err)
	}
	if CodeOf(err).Kind() != KindTemporal {
		t.Fatalf("expected temporal kind")
	}

	edge := h.order()
	edge.Expiration = big.NewInt(testNow.Unix())
	if _, err := h.perform(context.Background(), h.to, edge, false); err != nil {
		t.Fatalf("expected expiration equal to now to pass, got %v", err)
	}
}

func TestPerformRejectsForeignSignature(t *testing.T) {
	h := newHarness(t)
	o := h.order()
	other, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sig, err := signature.Sign(claimhash.Compute(instanceAddr, o), other)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	addresses, uints := o.Encode()
	_, err = h.exec.Perform(context.Background(), h.to, addresses, uints, sig, false)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	// A signature over the same order for another instance must not verify.
	sig, _ = signature.Sign(claimhash.Compute(strangerAddr, o), h.key)
	_, err = h.exec.Perform(context.Background(), h.to, addresses, uints, sig, false)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for other instance, got %v", err)
	}
}

func TestPerformRejectsMalformedEncoding(t *testing.T) {
	h := newHarness(t)
	addresses, uints := h.order(feeAddr, big.NewInt(1)).Encode()
	_, err := h.exec.Perform(context.Background(), h.to, addresses, uints[:len(uints)-1], signature.VRS{}, false)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !errors.Is(err, domain.ErrLengthMismatch) {
		t.Fatalf("expected wrapped ErrLengthMismatch, got %v", err)
	}
	_, err = h.exec.Cancel(context.Background(), h.from, addresses[:2], uints[:2])
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput from cancel, got %v", err)
	}
}

func TestPerformSkipsZeroFeeEntries(t *testing.T) {
	h := newHarness(t)
	o := h.order(
		common.Address{}, big.NewInt(5),
		feeAddr, big.NewInt(0),
		feeAddr, big.NewInt(10),
	)
	if _, err := h.perform(context.Background(), h.to, o, false); err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if got := h.balance(h.to); got != 90 {
		t.Fatalf("expected receiver 90, got %d", got)
	}
	if got := h.balance(feeAddr); got != 10 {
		t.Fatalf("expected fee recipient 10, got %d", got)
	}
	if got := h.balance(common.Address{}); got != 0 {
		t.Fatalf("zero address received %d", got)
	}
}

func TestStrictRejectsUnaffordableFees(t *testing.T) {
	h := newHarness(t)
	o := h.order(feeAddr, big.NewInt(101))
	_, err := h.perform(context.Background(), h.to, o, true)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if h.status(o) != domain.StatusUnset || h.owner() != h.from {
		t.Fatalf("strict rejection changed state")
	}
}

func TestStrictRejectsUnapprovedAsset(t *testing.T) {
	h := newHarness(t)
	h.registry.SetApprovalForAll(h.from, assetProxyAddr, false)
	o := h.order()
	_, err := h.perform(context.Background(), h.to, o, true)
	if !errors.Is(err, ErrNFTokenNotAllowed) {
		t.Fatalf("expected ErrNFTokenNotAllowed, got %v", err)
	}

	if err := h.registry.Approve(h.from, assetProxyAddr, big.NewInt(1)); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := h.perform(context.Background(), h.to, o, true); err != nil {
		t.Fatalf("expected single-asset approval to pass, got %v", err)
	}
}

func TestStrictRejectsOverflowingFees(t *testing.T) {
	h := newHarness(t)
	o := h.order(feeAddr, new(big.Int).Set(math.MaxBig256), feeAddr, big.NewInt(1))
	_, err := h.perform(context.Background(), h.to, o, true)
	if !errors.Is(err, ErrFeeOverflow) {
		t.Fatalf("expected ErrFeeOverflow, got %v", err)
	}
}

func TestLenientUnapprovedAssetFailsAtTransfer(t *testing.T) {
	h := newHarness(t)
	h.registry.SetApprovalForAll(h.from, assetProxyAddr, false)
	o := h.order(feeAddr, big.NewInt(10))
	_, err := h.perform(context.Background(), h.to, o, false)
	if !errors.Is(err, ErrAssetTransferFailed) {
		t.Fatalf("expected ErrAssetTransferFailed, got %v", err)
	}
	if h.status(o) != domain.StatusUnset {
		t.Fatalf("failed perform left claim marked")
	}
	if got := h.balance(h.to); got != 100 {
		t.Fatalf("fees moved on failed perform: %d", got)
	}
}

func TestFeeFailureRevertsEverything(t *testing.T) {
	h := newHarness(t)
	o := h.order(feeAddr, big.NewInt(60), strangerAddr, big.NewInt(60))

	_, err := h.perform(context.Background(), h.to, o, false)
	if !errors.Is(err, ErrFeeTransferFailed) {
		t.Fatalf("expected ErrFeeTransferFailed, got %v", err)
	}
	if h.owner() != h.from {
		t.Fatalf("asset transfer not reverted")
	}
	if h.balance(h.to) != 100 || h.balance(feeAddr) != 0 {
		t.Fatalf("first fee not reverted: to=%d fee=%d", h.balance(h.to), h.balance(feeAddr))
	}
	allowance, _ := h.token.Allowance(context.Background(), h.to, tokenProxyAddr)
	if allowance.Int64() != 100 {
		t.Fatalf("allowance not restored: %s", allowance)
	}
	if h.status(o) != domain.StatusUnset {
		t.Fatalf("claim left marked after failure")
	}
	if len(h.events.Events()) != 0 {
		t.Fatalf("event emitted for failed perform")
	}

	h.token.Mint(h.to, big.NewInt(20))
	h.token.Approve(h.to, tokenProxyAddr, big.NewInt(120))
	if _, err := h.perform(context.Background(), h.to, o, false); err != nil {
		t.Fatalf("retry after funding: %v", err)
	}
}

func TestReentrantPerformIsRejected(t *testing.T) {
	h := newHarness(t)
	o := h.order(feeAddr, big.NewInt(10))
	var inner error
	calls := 0
	h.registry.SetReceiveHook(h.to, func(ctx context.Context, operator, from common.Address, assetID *big.Int) error {
		calls++
		_, inner = h.perform(ctx, h.to, o, false)
		return nil
	})

	if _, err := h.perform(context.Background(), h.to, o, false); err != nil {
		t.Fatalf("outer Perform: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected hook to run once, ran %d", calls)
	}
	if !errors.Is(inner, ErrAlreadyPerformed) {
		t.Fatalf("expected reentrant call to fail with ErrAlreadyPerformed, got %v", inner)
	}
	if got := h.balance(feeAddr); got != 10 {
		t.Fatalf("fees paid more than once: %d", got)
	}
}

func TestReentrantCancelIsRejected(t *testing.T) {
	h := newHarness(t)
	o := h.order()
	var inner error
	h.registry.SetReceiveHook(h.to, func(ctx context.Context, operator, from common.Address, assetID *big.Int) error {
		addresses, uints := o.Encode()
		_, inner = h.exec.Cancel(ctx, h.from, addresses, uints)
		return nil
	})
	if _, err := h.perform(context.Background(), h.to, o, false); err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if !errors.Is(inner, ErrAlreadyPerformed) {
		t.Fatalf("expected ErrAlreadyPerformed, got %v", inner)
	}
	if h.status(o) != domain.StatusPerformed {
		t.Fatalf("expected PERFORMED")
	}
}

// onwardSetup gives the outer order a receiver that holds a key, so its
// receive hook can sign and settle an onward order for the same asset.
func onwardSetup(t *testing.T, h *harness, funds int64) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	h.token.Mint(addr, big.NewInt(funds))
	h.token.Approve(addr, tokenProxyAddr, big.NewInt(funds))
	h.registry.SetApprovalForAll(addr, assetProxyAddr, true)
	return key, addr
}

func TestNestedPerformIsUndoneWithFailedOuterPerform(t *testing.T) {
	h := newHarness(t)
	middleKey, middle := onwardSetup(t, h, 0)
	outer := h.order(feeAddr, big.NewInt(10))
	outer.To = middle
	onward := domain.Order{
		From:       middle,
		To:         strangerAddr,
		Asset:      registryAddr,
		AssetID:    big.NewInt(1),
		Seed:       big.NewInt(8),
		Expiration: big.NewInt(testNow.Unix() + 3600),
	}
	var inner error
	h.registry.SetReceiveHook(middle, func(ctx context.Context, operator, from common.Address, assetID *big.Int) error {
		addresses, uints := onward.Encode()
		sig, err := signature.Sign(claimhash.Compute(instanceAddr, onward), middleKey)
		if err != nil {
			return err
		}
		_, inner = h.exec.Perform(ctx, strangerAddr, addresses, uints, sig, false)
		return nil
	})

	_, err := h.perform(context.Background(), middle, outer, false)
	if !errors.Is(err, ErrFeeTransferFailed) {
		t.Fatalf("expected ErrFeeTransferFailed, got %v", err)
	}
	if inner != nil {
		t.Fatalf("nested Perform: %v", inner)
	}
	if h.owner() != h.from {
		t.Fatalf("expected asset back with %s, owned by %s", h.from.Hex(), h.owner().Hex())
	}
	if h.status(onward) != domain.StatusUnset || h.status(outer) != domain.StatusUnset {
		t.Fatalf("claims left marked: onward=%s outer=%s", h.status(onward), h.status(outer))
	}
	if len(h.events.Events()) != 0 {
		t.Fatalf("events emitted for undone settlements: %+v", h.events.Events())
	}

	h.registry.SetReceiveHook(middle, nil)
	h.token.Mint(middle, big.NewInt(10))
	h.token.Approve(middle, tokenProxyAddr, big.NewInt(10))
	if _, err := h.perform(context.Background(), middle, outer, false); err != nil {
		t.Fatalf("retry outer: %v", err)
	}
}

func TestNestedPerformCommitsWithOuterPerform(t *testing.T) {
	h := newHarness(t)
	middleKey, middle := onwardSetup(t, h, 10)
	outer := h.order(feeAddr, big.NewInt(10))
	outer.To = middle
	onward := domain.Order{
		From:       middle,
		To:         strangerAddr,
		Asset:      registryAddr,
		AssetID:    big.NewInt(1),
		Seed:       big.NewInt(9),
		Expiration: big.NewInt(testNow.Unix() + 3600),
	}
	var (
		inner        error
		innerReceipt Receipt
		statusInHook domain.Status
	)
	h.registry.SetReceiveHook(middle, func(ctx context.Context, operator, from common.Address, assetID *big.Int) error {
		addresses, uints := onward.Encode()
		sig, err := signature.Sign(claimhash.Compute(instanceAddr, onward), middleKey)
		if err != nil {
			return err
		}
		innerReceipt, inner = h.exec.Perform(ctx, strangerAddr, addresses, uints, sig, false)
		statusInHook = h.status(onward)
		return nil
	})

	if _, err := h.perform(context.Background(), middle, outer, false); err != nil {
		t.Fatalf("outer Perform: %v", err)
	}
	if inner != nil || innerReceipt.Status != domain.StatusPerformed {
		t.Fatalf("nested Perform: receipt=%+v err=%v", innerReceipt, inner)
	}
	if statusInHook != domain.StatusUnset {
		t.Fatalf("nested settlement visible before the outer commit: %s", statusInHook)
	}
	if h.status(onward) != domain.StatusPerformed || h.status(outer) != domain.StatusPerformed {
		t.Fatalf("expected both claims performed")
	}
	if h.owner() != strangerAddr {
		t.Fatalf("expected onward receiver to own the asset, got %s", h.owner().Hex())
	}
	events := h.events.Events()
	if len(events) != 2 || events[0].Claim != innerReceipt.Claim || events[1].Claim != claimhash.Compute(instanceAddr, outer) {
		t.Fatalf("expected nested then outer event, got %+v", events)
	}
}

func TestNestedCancelIsUndoneWithFailedOuterPerform(t *testing.T) {
	h := newHarness(t)
	o := h.order(feeAddr, big.NewInt(1000))
	other := h.order()
	other.Seed = big.NewInt(99)
	var inner error
	h.registry.SetReceiveHook(h.to, func(ctx context.Context, operator, from common.Address, assetID *big.Int) error {
		addresses, uints := other.Encode()
		_, inner = h.exec.Cancel(ctx, h.from, addresses, uints)
		return nil
	})

	if _, err := h.perform(context.Background(), h.to, o, false); !errors.Is(err, ErrFeeTransferFailed) {
		t.Fatalf("expected ErrFeeTransferFailed, got %v", err)
	}
	if inner != nil {
		t.Fatalf("nested Cancel: %v", inner)
	}
	if h.status(other) != domain.StatusUnset {
		t.Fatalf("nested cancel survived the failed settlement")
	}
}

func TestReceiverHookFailureRevertsPerform(t *testing.T) {
	h := newHarness(t)
	o := h.order(feeAddr, big.NewInt(10))
	h.registry.SetReceiveHook(h.to, func(ctx context.Context, operator, from common.Address, assetID *big.Int) error {
		return errors.New("receiver refuses asset")
	})
	_, err := h.perform(context.Background(), h.to, o, false)
	if !errors.Is(err, ErrAssetTransferFailed) {
		t.Fatalf("expected ErrAssetTransferFailed, got %v", err)
	}
	if h.owner() != h.from || h.status(o) != domain.StatusUnset {
		t.Fatalf("state not reverted")
	}
}

func TestConcurrentPerformSettlesOnce(t *testing.T) {
	h := newHarness(t)
	o := h.order(feeAddr, big.NewInt(10))
	addresses, uints := o.Encode()
	sig := h.sign(o)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.exec.Perform(context.Background(), h.to, addresses, uints, sig, false)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAlreadyPerformed) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one success, got %d", successes)
	}
	if got := h.balance(feeAddr); got != 10 {
		t.Fatalf("expected fee paid once, got %d", got)
	}
}

func TestQueriesAndGetters(t *testing.T) {
	h := newHarness(t)
	o := h.order(feeAddr, big.NewInt(3))
	addresses, uints := o.Encode()

	claim, err := h.exec.Claim(addresses, uints)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim != claimhash.Compute(instanceAddr, o) {
		t.Fatalf("Claim disagrees with claimhash")
	}
	if !h.exec.IsValidSignature(h.from, claim, h.sign(o)) {
		t.Fatalf("expected signature to verify")
	}
	if h.exec.IsValidSignature(h.to, claim, h.sign(o)) {
		t.Fatalf("expected signature to fail for receiver")
	}
	if h.exec.Instance() != instanceAddr || h.exec.Token() != tokenAddr ||
		h.exec.TokenTransferProxy() != tokenProxyAddr || h.exec.AssetTransferProxy() != assetProxyAddr {
		t.Fatalf("getters returned wrong addresses")
	}
	if !h.exec.SupportsInterface(capability.ERC165) || !h.exec.SupportsInterface(capability.Settlement) {
		t.Fatalf("expected ERC165 and settlement support")
	}
	if h.exec.SupportsInterface(capability.Invalid) {
		t.Fatalf("0xffffffff must never be supported")
	}
	entry, err := h.exec.Status(context.Background(), claim)
	if err != nil || entry.Status != domain.StatusUnset {
		t.Fatalf("unexpected status %+v %v", entry, err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{}, Deps{})
	if err == nil {
		t.Fatalf("expected error for empty config")
	}
	_, err = New(Config{
		Instance:   instanceAddr,
		Token:      tokenAddr,
		TokenProxy: tokenProxyAddr,
		AssetProxy: assetProxyAddr,
	}, Deps{})
	if err == nil {
		t.Fatalf("expected error for missing store")
	}
}
