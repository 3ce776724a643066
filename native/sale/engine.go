package sale

import (
	"errors"
	"fmt"
	"math/big"

	"tokensale/core/events"
	"tokensale/core/types"
	"tokensale/native/common"
)

var (
	errNilState  = errors.New("sale engine: state not configured")
	errNilLedger = errors.New("sale engine: token ledger not configured")
)

// engineState is the subset of persistent state the engine operates on. Every
// record is exclusively owned by the engine and mutated only through the
// operations below.
type engineState interface {
	SaleConfigGet() (*SaleConfig, error)
	SaleConfigPut(*SaleConfig) error
	TierLimitGet(tier uint8) (*big.Int, bool, error)
	TierLimitPut(tier uint8, limit *big.Int) error
	PaymentTokenGet(token [20]byte) (*PaymentToken, bool, error)
	PaymentTokenPut(*PaymentToken) error
	ContributionGet(participant [20]byte) (*ContributionRecord, bool, error)
	ContributionPut(*ContributionRecord) error
}

// TokenLedger is the fungible-token capability the engine depends on. A
// returned error and a false-style failure are treated identically: the whole
// operation aborts with no ledger mutation retained.
type TokenLedger interface {
	Transfer(token, to [20]byte, amount *big.Int) error
	TransferFrom(token, from, to [20]byte, amount *big.Int) error
	BalanceOf(token, account [20]byte) (*big.Int, error)
}

type saleEvent struct {
	evt *types.Event
}

func (e saleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e saleEvent) Event() *types.Event { return e.evt }

// Engine settles the multi-stage token sale: it gates contributions on
// membership proofs and tier caps during the active phase and later pays out
// pro-rata refunds and fixed-price project-token claims, each participant
// self-service. State, token ledger and event emitter are injected.
type Engine struct {
	state   engineState
	ledger  TokenLedger
	emitter events.Emitter
	guard   common.ReentrancyGuard
	owner   [20]byte
	vault   [20]byte
}

// NewEngine creates a sale engine owned by the given principal. The vault is
// the account contributed funds and deposited project tokens are held under.
func NewEngine(owner, vault [20]byte) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		owner:   owner,
		vault:   vault,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the token ledger the engine transfers through.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Owner returns the current owning principal.
func (e *Engine) Owner() [20]byte { return e.owner }

// Vault returns the account the engine holds funds under.
func (e *Engine) Vault() [20]byte { return e.vault }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(saleEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

func (e *Engine) requireOwner(caller [20]byte) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) loadConfig() (*SaleConfig, error) {
	cfg, err := e.state.SaleConfigGet()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = NewSaleConfig()
	}
	return SanitizeSaleConfig(cfg)
}

// --- Owner operations ---

// TransferOwnership hands the engine to a new owning principal.
func (e *Engine) TransferOwnership(caller, newOwner [20]byte) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if newOwner == ([20]byte{}) {
		return ErrZeroAddress
	}
	e.owner = newOwner
	return nil
}

// SetSalePhase moves the sale to the requested phase. Only the range of the
// enumeration is enforced; the machine does not require forward progression.
func (e *Engine) SetSalePhase(caller [20]byte, phase SalePhase) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if !phase.Valid() {
		return ErrInvalidPhase
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	cfg.Phase = phase
	if err := e.state.SaleConfigPut(cfg); err != nil {
		return err
	}
	e.emit(NewPhaseChangedEvent(phase))
	return nil
}

// SetTierLimit overwrites the contribution cap for a tier. The cap applies at
// contribution time; records already written are unaffected.
func (e *Engine) SetTierLimit(caller [20]byte, tier uint8, limit *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if !ValidTier(tier) {
		return ErrInvalidTier
	}
	if limit == nil || limit.Sign() <= 0 {
		return ErrZeroLimit
	}
	return e.state.TierLimitPut(tier, new(big.Int).Set(limit))
}

// TierLimit returns the configured cap for a tier.
func (e *Engine) TierLimit(tier uint8) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !ValidTier(tier) {
		return nil, ErrInvalidTier
	}
	limit, ok, err := e.state.TierLimitGet(tier)
	if err != nil {
		return nil, err
	}
	if !ok || limit == nil || limit.Sign() <= 0 {
		return nil, ErrTierNotConfigured
	}
	return new(big.Int).Set(limit), nil
}

// ConfigureToken registers or redefines an accepted payment token. The
// registry is append/overwrite-only; there is no removal path.
func (e *Engine) ConfigureToken(caller, token [20]byte, decimals uint8) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if token == ([20]byte{}) {
		return ErrZeroToken
	}
	if decimals < MinTokenDecimals || decimals > MaxTokenDecimals {
		return ErrInvalidDecimals
	}
	return e.state.PaymentTokenPut(&PaymentToken{Token: token, Decimals: decimals})
}

// SetSalePrice fixes the project-token price in 1e18 fixed-point USD.
func (e *Engine) SetSalePrice(caller [20]byte, price *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return ErrZeroPrice
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	cfg.SalePrice = new(big.Int).Set(price)
	return e.state.SaleConfigPut(cfg)
}

// SetProjectToken configures the token distributed during the claim phase.
func (e *Engine) SetProjectToken(caller, token [20]byte, decimals uint8) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if token == ([20]byte{}) {
		return ErrZeroToken
	}
	if decimals < MinTokenDecimals || decimals > MaxTokenDecimals {
		return ErrInvalidDecimals
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	cfg.ProjectToken = token
	cfg.ProjectDecimals = decimals
	return e.state.SaleConfigPut(cfg)
}

// SetTargetRaised configures the fundraising target the refund ratio is
// computed against.
func (e *Engine) SetTargetRaised(caller [20]byte, target *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if target == nil || target.Sign() <= 0 {
		return ErrZeroTarget
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	cfg.TargetRaised = new(big.Int).Set(target)
	return e.state.SaleConfigPut(cfg)
}

// SetMerkleRoot publishes the whitelist root membership proofs verify against.
func (e *Engine) SetMerkleRoot(caller [20]byte, root [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if root == ([32]byte{}) {
		return ErrRootNotSet
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	cfg.MerkleRoot = root
	return e.state.SaleConfigPut(cfg)
}

// --- Queries ---

// Config returns a copy of the current sale configuration.
func (e *Engine) Config() (*SaleConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadConfig()
}

// Contribution returns a copy of the participant's record, if any. A
// zero-amount record is the absent sentinel and reports as missing.
func (e *Engine) Contribution(participant [20]byte) (*ContributionRecord, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	rec, ok, err := e.state.ContributionGet(participant)
	if err != nil || !ok {
		return nil, ok, err
	}
	if rec.Amount == nil || rec.Amount.Sign() == 0 {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

// --- Settlement operations ---

// Contribute records a one-shot, proof-gated contribution during the active
// phase and pulls the payment from the caller. Preconditions are checked in
// order with the first failure winning; the operation either fully commits
// or leaves no observable effect.
func (e *Engine) Contribute(caller [20]byte, tier uint8, proof [][32]byte, token [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Leave()

	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Phase != PhaseActive {
		return ErrWrongPhase
	}
	if !VerifyMembership(caller, tier, proof, cfg.MerkleRoot) {
		return ErrInvalidProof
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	existing, ok, err := e.state.ContributionGet(caller)
	if err != nil {
		return err
	}
	if ok && existing.Amount != nil && existing.Amount.Sign() > 0 {
		return ErrAlreadyPurchased
	}
	registered, ok, err := e.state.PaymentTokenGet(token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotRegistered
	}
	limit, ok, err := e.state.TierLimitGet(tier)
	if err != nil {
		return err
	}
	if !ok || limit == nil || limit.Sign() <= 0 {
		return ErrTierNotConfigured
	}
	if amount.Cmp(limit) > 0 {
		return ErrCapExceeded
	}
	// The settled record and total are written before the external pull so a
	// failed state write cannot leave the caller charged without a record.
	// On transfer failure both writes are rolled back.
	amt := new(big.Int).Set(amount)
	priorTotal := cfg.TotalRaised
	record := &ContributionRecord{
		Participant:  caller,
		Token:        token,
		Amount:       amt,
		Decimals:     registered.Decimals,
		RefundAmount: big.NewInt(0),
	}
	if err := e.state.ContributionPut(record); err != nil {
		return err
	}
	cfg.TotalRaised = new(big.Int).Add(priorTotal, amt)
	if err := e.state.SaleConfigPut(cfg); err != nil {
		return errors.Join(err, e.revertContribution(record))
	}
	if err := e.ledger.TransferFrom(token, caller, e.vault, amt); err != nil {
		cfg.TotalRaised = priorTotal
		restoreErr := e.state.SaleConfigPut(cfg)
		return errors.Join(fmt.Errorf("sale: pull contribution: %w", err), restoreErr, e.revertContribution(record))
	}
	e.emit(NewContributionReceivedEvent(caller, token, amt))
	return nil
}

// revertContribution rewrites the record as the zero-amount absent sentinel,
// undoing a staged one-shot create.
func (e *Engine) revertContribution(record *ContributionRecord) error {
	reverted := record.Clone()
	reverted.Amount = big.NewInt(0)
	reverted.RefundAmount = big.NewInt(0)
	return e.state.ContributionPut(reverted)
}

// ClaimRefund settles the caller's pro-rata refund when the sale overshot its
// target. The refund ratio is applied with floor division, so the sum of all
// individual refunds never exceeds the aggregate surplus; the rounding dust
// stays with the engine.
func (e *Engine) ClaimRefund(caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Leave()

	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Phase != PhaseCompletedRefund {
		return nil, ErrWrongPhase
	}
	if cfg.TotalRaised.Sign() == 0 {
		return nil, ErrNothingRaised
	}
	if cfg.TotalRaised.Cmp(cfg.TargetRaised) <= 0 {
		return nil, ErrNoRefundNeeded
	}
	record, ok, err := e.state.ContributionGet(caller)
	if err != nil {
		return nil, err
	}
	if !ok || record.Amount == nil || record.Amount.Sign() == 0 {
		return nil, ErrNoContribution
	}
	if record.RefundAmount != nil && record.RefundAmount.Sign() > 0 {
		return nil, ErrAlreadyRefunded
	}
	ratio := refundRatio(cfg.TotalRaised, cfg.TargetRaised)
	refund := refundAmount(record.Amount, ratio)
	// Record first, then pay. A failed record write aborts before any funds
	// move; a failed transfer rolls the record back so a retry settles once.
	record.RefundAmount = refund
	if err := e.state.ContributionPut(record); err != nil {
		return nil, err
	}
	if refund.Sign() > 0 {
		if err := e.ledger.Transfer(record.Token, caller, refund); err != nil {
			record.RefundAmount = big.NewInt(0)
			return nil, errors.Join(fmt.Errorf("sale: refund transfer: %w", err), e.state.ContributionPut(record))
		}
	}
	e.emit(NewRefundIssuedEvent(caller, record.Token, refund))
	return refund, nil
}

// ClaimToken converts the caller's net contribution into project-token units
// at the fixed sale price and transfers them out. One-shot per participant.
func (e *Engine) ClaimToken(caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Leave()

	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Phase != PhaseCompletedClaim {
		return nil, ErrWrongPhase
	}
	if cfg.ProjectToken == ([20]byte{}) {
		return nil, ErrProjectTokenNotSet
	}
	if cfg.SalePrice.Sign() == 0 {
		return nil, ErrPriceNotSet
	}
	record, ok, err := e.state.ContributionGet(caller)
	if err != nil {
		return nil, err
	}
	if !ok || record.Amount == nil || record.Amount.Sign() == 0 {
		return nil, ErrNoContribution
	}
	if record.Claimed {
		return nil, ErrAlreadyClaimed
	}
	// Zero when the refund phase was skipped.
	effective := new(big.Int).Sub(record.Amount, cloneBigInt(record.RefundAmount))
	out := claimAmount(effective, cfg.SalePrice, record.Decimals, cfg.ProjectDecimals)
	// Mark first, then pay, mirroring ClaimRefund.
	record.Claimed = true
	if err := e.state.ContributionPut(record); err != nil {
		return nil, err
	}
	if out.Sign() > 0 {
		if err := e.ledger.Transfer(cfg.ProjectToken, caller, out); err != nil {
			record.Claimed = false
			return nil, errors.Join(fmt.Errorf("sale: claim transfer: %w", err), e.state.ContributionPut(record))
		}
	}
	e.emit(NewClaimTokenEvent(caller, cfg.ProjectToken, out))
	return out, nil
}

// Deposit lets any caller push project tokens into the engine balance to fund
// claims. Purely additive; no record is kept of who funded how much.
func (e *Engine) Deposit(caller [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Leave()

	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if cfg.ProjectToken == ([20]byte{}) {
		return ErrProjectTokenNotSet
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	amt := new(big.Int).Set(amount)
	if err := e.ledger.TransferFrom(cfg.ProjectToken, caller, e.vault, amt); err != nil {
		return fmt.Errorf("sale: deposit transfer: %w", err)
	}
	e.emit(NewDepositEvent(caller, cfg.ProjectToken, amt))
	return nil
}

// EmergencyWithdraw sweeps the engine's entire project-token balance to the
// owner. It is not gated on the sale phase.
func (e *Engine) EmergencyWithdraw(caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Leave()

	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.ProjectToken == ([20]byte{}) {
		return nil, ErrProjectTokenNotSet
	}
	balance, err := e.ledger.BalanceOf(cfg.ProjectToken, e.vault)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	amt := new(big.Int).Set(balance)
	if err := e.ledger.Transfer(cfg.ProjectToken, e.owner, amt); err != nil {
		return nil, fmt.Errorf("sale: emergency withdraw: %w", err)
	}
	e.emit(NewEmergencyWithdrawEvent(e.owner, cfg.ProjectToken, amt))
	return amt, nil
}
