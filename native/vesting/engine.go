package vesting

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"tokensale/core/events"
	"tokensale/core/types"
	"tokensale/native/common"
)

var (
	ErrUnauthorized     = errors.New("vesting: unauthorized")
	ErrScheduleExists   = errors.New("vesting: schedule already exists")
	ErrScheduleNotFound = errors.New("vesting: schedule not found")
	ErrNothingReleased  = errors.New("vesting: nothing releasable")
	ErrNoSurplus        = errors.New("vesting: no surplus to withdraw")

	errNilState  = errors.New("vesting engine: state not configured")
	errNilLedger = errors.New("vesting engine: token ledger not configured")
)

const (
	EventTypeScheduleCreated  = "vesting.schedule_created"
	EventTypeReleased         = "vesting.released"
	EventTypeSurplusWithdrawn = "vesting.surplus_withdrawn"
)

type engineState interface {
	ScheduleGet(beneficiary [20]byte) (*Schedule, bool, error)
	SchedulePut(*Schedule) error
	VestingOutstanding() (*big.Int, error)
	SetVestingOutstanding(*big.Int) error
}

// TokenLedger is the fungible-token capability for the vesting vault.
type TokenLedger interface {
	Transfer(token, to [20]byte, amount *big.Int) error
	BalanceOf(token, account [20]byte) (*big.Int, error)
}

type vestingEvent struct {
	evt *types.Event
}

func (e vestingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vestingEvent) Event() *types.Event { return e.evt }

// Engine manages linear/cliff vesting of the project token: the owner creates
// one schedule per beneficiary, beneficiaries release vested amounts
// self-service, and the owner can withdraw any vault balance not covered by
// outstanding allocations.
type Engine struct {
	state   engineState
	ledger  TokenLedger
	emitter events.Emitter
	guard   common.ReentrancyGuard
	owner   [20]byte
	vault   [20]byte
	token   [20]byte
	nowFn   func() int64
}

// NewEngine creates a vesting engine for the given project token.
func NewEngine(owner, vault, token [20]byte) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		owner:   owner,
		vault:   vault,
		token:   token,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the token ledger used by the engine.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(vestingEvent{evt: event})
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

func (e *Engine) outstanding() (*big.Int, error) {
	outstanding, err := e.state.VestingOutstanding()
	if err != nil {
		return nil, err
	}
	if outstanding == nil {
		return big.NewInt(0), nil
	}
	return outstanding, nil
}

// CreateSchedule registers a one-shot vesting schedule for a beneficiary.
func (e *Engine) CreateSchedule(caller, beneficiary [20]byte, total *big.Int, start, cliff, duration int64) (*Schedule, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if caller != e.owner {
		return nil, ErrUnauthorized
	}
	sched, err := SanitizeSchedule(&Schedule{
		Beneficiary: beneficiary,
		Total:       total,
		Released:    big.NewInt(0),
		Start:       start,
		Cliff:       cliff,
		Duration:    duration,
	})
	if err != nil {
		return nil, err
	}
	if _, ok, err := e.state.ScheduleGet(beneficiary); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrScheduleExists
	}
	if err := e.state.SchedulePut(sched); err != nil {
		return nil, err
	}
	outstanding, err := e.outstanding()
	if err != nil {
		return nil, err
	}
	if err := e.state.SetVestingOutstanding(new(big.Int).Add(outstanding, sched.Total)); err != nil {
		return nil, err
	}
	e.emit(newScheduleEvent(EventTypeScheduleCreated, sched, nil))
	return sched.Clone(), nil
}

// VestedAt returns the amount of the schedule vested at the given time.
func VestedAt(s *Schedule, now int64) *big.Int {
	if s == nil || s.Total == nil || s.Total.Sign() <= 0 {
		return big.NewInt(0)
	}
	if now < s.Start+s.Cliff {
		return big.NewInt(0)
	}
	elapsed := now - s.Start
	if elapsed >= s.Duration {
		return new(big.Int).Set(s.Total)
	}
	vested := new(big.Int).Mul(s.Total, big.NewInt(elapsed))
	return vested.Quo(vested, big.NewInt(s.Duration))
}

// Schedule returns a copy of the beneficiary's vesting schedule, if any.
func (e *Engine) Schedule(beneficiary [20]byte) (*Schedule, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	sched, ok, err := e.state.ScheduleGet(beneficiary)
	if err != nil || !ok {
		return nil, false, err
	}
	return sched.Clone(), true, nil
}

// Releasable returns the beneficiary's currently claimable amount.
func (e *Engine) Releasable(beneficiary [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	sched, ok, err := e.state.ScheduleGet(beneficiary)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScheduleNotFound
	}
	vested := VestedAt(sched, e.nowFn())
	return vested.Sub(vested, cloneBigInt(sched.Released)), nil
}

// Release transfers the caller's vested-but-unreleased amount out of the
// vault. The settled schedule is written before the transfer and rolled back
// if the transfer fails, so a retry never releases the same amount twice.
func (e *Engine) Release(caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Leave()

	sched, ok, err := e.state.ScheduleGet(caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScheduleNotFound
	}
	vested := VestedAt(sched, e.nowFn())
	releasable := vested.Sub(vested, cloneBigInt(sched.Released))
	if releasable.Sign() <= 0 {
		return nil, ErrNothingReleased
	}
	priorReleased := sched.Released
	outstanding, err := e.outstanding()
	if err != nil {
		return nil, err
	}
	sched.Released = new(big.Int).Add(priorReleased, releasable)
	if err := e.state.SchedulePut(sched); err != nil {
		return nil, err
	}
	if err := e.state.SetVestingOutstanding(new(big.Int).Sub(outstanding, releasable)); err != nil {
		sched.Released = priorReleased
		return nil, errors.Join(err, e.state.SchedulePut(sched))
	}
	if err := e.ledger.Transfer(e.token, caller, releasable); err != nil {
		sched.Released = priorReleased
		restoreErr := e.state.SchedulePut(sched)
		return nil, errors.Join(fmt.Errorf("vesting: release transfer: %w", err), restoreErr, e.state.SetVestingOutstanding(outstanding))
	}
	e.emit(newScheduleEvent(EventTypeReleased, sched, releasable))
	return releasable, nil
}

// WithdrawSurplus sweeps any vault balance not covered by outstanding
// allocations back to the owner.
func (e *Engine) WithdrawSurplus(caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller != e.owner {
		return nil, ErrUnauthorized
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Leave()

	balance, err := e.ledger.BalanceOf(e.token, e.vault)
	if err != nil {
		return nil, err
	}
	outstanding, err := e.outstanding()
	if err != nil {
		return nil, err
	}
	surplus := new(big.Int).Sub(cloneBigInt(balance), outstanding)
	if surplus.Sign() <= 0 {
		return nil, ErrNoSurplus
	}
	if err := e.ledger.Transfer(e.token, e.owner, surplus); err != nil {
		return nil, fmt.Errorf("vesting: surplus transfer: %w", err)
	}
	e.emit(&types.Event{
		Type: EventTypeSurplusWithdrawn,
		Attributes: map[string]string{
			"owner":  hex.EncodeToString(e.owner[:]),
			"token":  hex.EncodeToString(e.token[:]),
			"amount": surplus.String(),
		},
	})
	return surplus, nil
}

func newScheduleEvent(eventType string, s *Schedule, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	if s != nil {
		attrs["beneficiary"] = hex.EncodeToString(s.Beneficiary[:])
		attrs["total"] = cloneBigInt(s.Total).String()
		attrs["released"] = cloneBigInt(s.Released).String()
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
