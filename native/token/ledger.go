package token

import (
	"errors"
	"math/big"
)

var (
	ErrUnauthorized      = errors.New("token: unauthorized")
	ErrZeroAmount        = errors.New("token: amount must be positive")
	ErrInsufficientFunds = errors.New("token: insufficient balance")
	ErrAllowanceExceeded = errors.New("token: allowance exceeded")

	errNilState = errors.New("token ledger: state not configured")
)

// ledgerState is the persistent balance and allowance book the ledger
// operates on.
type ledgerState interface {
	BalanceGet(token, account [20]byte) (*big.Int, error)
	BalancePut(token, account [20]byte, amount *big.Int) error
	AllowanceGet(token, owner, spender [20]byte) (*big.Int, error)
	AllowancePut(token, owner, spender [20]byte, amount *big.Int) error
}

// Ledger is a minimal fungible-token book: balances, allowances and an
// owner-gated mint. It backs local deployments and tests; production
// deployments substitute a bridge to the real token contracts behind the
// same capability surface.
type Ledger struct {
	state ledgerState
	owner [20]byte
}

// NewLedger creates a ledger whose mint authority is the given owner.
func NewLedger(owner [20]byte) *Ledger {
	return &Ledger{owner: owner}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

func (l *Ledger) balance(token, account [20]byte) (*big.Int, error) {
	bal, err := l.state.BalanceGet(token, account)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return big.NewInt(0), nil
	}
	return bal, nil
}

// Mint credits freshly issued units to an account. Owner-only.
func (l *Ledger) Mint(caller, token, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if caller != l.owner {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	bal, err := l.balance(token, to)
	if err != nil {
		return err
	}
	return l.state.BalancePut(token, to, new(big.Int).Add(bal, amount))
}

// BalanceOf returns the account's balance for the token.
func (l *Ledger) BalanceOf(token, account [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.balance(token, account)
}

// Transfer moves units between accounts. Zero transfers are a no-op.
func (l *Ledger) Transfer(token, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, err := l.balance(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toBal, err := l.balance(token, to)
	if err != nil {
		return err
	}
	if err := l.state.BalancePut(token, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.state.BalancePut(token, to, new(big.Int).Add(toBal, amount))
}

// Approve lets owner authorise spender to move up to amount of their balance.
func (l *Ledger) Approve(token, owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	return l.state.AllowancePut(token, owner, spender, new(big.Int).Set(amount))
}

// Allowance returns the remaining amount spender may move from owner.
func (l *Ledger) Allowance(token, owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	allowance, err := l.state.AllowanceGet(token, owner, spender)
	if err != nil {
		return nil, err
	}
	if allowance == nil {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

// TransferFrom moves units from an account on behalf of spender, consuming
// the corresponding allowance.
func (l *Ledger) TransferFrom(token, spender, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	allowance, err := l.Allowance(token, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrAllowanceExceeded
	}
	if err := l.Transfer(token, from, to, amount); err != nil {
		return err
	}
	return l.state.AllowancePut(token, from, spender, new(big.Int).Sub(allowance, amount))
}

// BoundLedger adapts the ledger to the settlement engines' capability
// surface by fixing the acting account: Transfer sends from the holder and
// TransferFrom spends the holder's allowances.
type BoundLedger struct {
	ledger *Ledger
	holder [20]byte
}

// Bound returns a ledger view acting as holder.
func (l *Ledger) Bound(holder [20]byte) *BoundLedger {
	return &BoundLedger{ledger: l, holder: holder}
}

func (b *BoundLedger) Transfer(token, to [20]byte, amount *big.Int) error {
	return b.ledger.Transfer(token, b.holder, to, amount)
}

func (b *BoundLedger) TransferFrom(token, from, to [20]byte, amount *big.Int) error {
	return b.ledger.TransferFrom(token, b.holder, from, to, amount)
}

func (b *BoundLedger) BalanceOf(token, account [20]byte) (*big.Int, error) {
	return b.ledger.BalanceOf(token, account)
}
