package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"tokensale/native/sale"
	"tokensale/native/vesting"
	"tokensale/storage"
)

// Manager persists the sale, vesting and token-ledger records in the
// underlying key-value store. Records cross the storage boundary RLP-encoded;
// big.Int fields are stored directly since all ledger amounts are
// non-negative.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager binds a manager to the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// --- Sale state ---

type storedSaleConfig struct {
	TargetRaised    *big.Int
	TotalRaised     *big.Int
	SalePrice       *big.Int
	Phase           uint8
	ProjectToken    [20]byte
	ProjectDecimals uint8
	MerkleRoot      [32]byte
}

// SaleConfigGet returns the stored sale configuration, or the deployment
// default (phase PREPARING, everything unset) when none has been written.
func (m *Manager) SaleConfigGet() (*sale.SaleConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stored storedSaleConfig
	ok, err := m.get(saleConfigKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return sale.NewSaleConfig(), nil
	}
	return &sale.SaleConfig{
		TargetRaised:    stored.TargetRaised,
		TotalRaised:     stored.TotalRaised,
		SalePrice:       stored.SalePrice,
		Phase:           sale.SalePhase(stored.Phase),
		ProjectToken:    stored.ProjectToken,
		ProjectDecimals: stored.ProjectDecimals,
		MerkleRoot:      stored.MerkleRoot,
	}, nil
}

// SaleConfigPut persists the sale configuration.
func (m *Manager) SaleConfigPut(cfg *sale.SaleConfig) error {
	sanitized, err := sale.SanitizeSaleConfig(cfg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(saleConfigKey, &storedSaleConfig{
		TargetRaised:    sanitized.TargetRaised,
		TotalRaised:     sanitized.TotalRaised,
		SalePrice:       sanitized.SalePrice,
		Phase:           uint8(sanitized.Phase),
		ProjectToken:    sanitized.ProjectToken,
		ProjectDecimals: sanitized.ProjectDecimals,
		MerkleRoot:      sanitized.MerkleRoot,
	})
}

// TierLimitGet returns the contribution cap for a tier, if configured.
func (m *Manager) TierLimitGet(tier uint8) (*big.Int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := new(big.Int)
	ok, err := m.get(tierLimitKey(tier), limit)
	if err != nil || !ok {
		return nil, false, err
	}
	return limit, true, nil
}

// TierLimitPut overwrites the contribution cap for a tier.
func (m *Manager) TierLimitPut(tier uint8, limit *big.Int) error {
	if limit == nil || limit.Sign() <= 0 {
		return fmt.Errorf("state: tier limit must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(tierLimitKey(tier), limit)
}

type storedPaymentToken struct {
	Token    [20]byte
	Decimals uint8
}

// PaymentTokenGet returns the registered payment token, if any.
func (m *Manager) PaymentTokenGet(token [20]byte) (*sale.PaymentToken, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stored storedPaymentToken
	ok, err := m.get(paymentTokenKey(token), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &sale.PaymentToken{Token: stored.Token, Decimals: stored.Decimals}, true, nil
}

// PaymentTokenPut registers or redefines a payment token.
func (m *Manager) PaymentTokenPut(cfg *sale.PaymentToken) error {
	if cfg == nil {
		return fmt.Errorf("state: nil payment token")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(paymentTokenKey(cfg.Token), &storedPaymentToken{Token: cfg.Token, Decimals: cfg.Decimals})
}

type storedContribution struct {
	Participant  [20]byte
	Token        [20]byte
	Amount       *big.Int
	Decimals     uint8
	RefundAmount *big.Int
	Claimed      bool
}

// ContributionGet returns a participant's ledger record, if any.
func (m *Manager) ContributionGet(participant [20]byte) (*sale.ContributionRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stored storedContribution
	ok, err := m.get(contributionKey(participant), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &sale.ContributionRecord{
		Participant:  stored.Participant,
		Token:        stored.Token,
		Amount:       stored.Amount,
		Decimals:     stored.Decimals,
		RefundAmount: stored.RefundAmount,
		Claimed:      stored.Claimed,
	}, true, nil
}

// ContributionPut persists a participant's ledger record.
func (m *Manager) ContributionPut(rec *sale.ContributionRecord) error {
	sanitized, err := sale.SanitizeContribution(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(contributionKey(sanitized.Participant), &storedContribution{
		Participant:  sanitized.Participant,
		Token:        sanitized.Token,
		Amount:       sanitized.Amount,
		Decimals:     sanitized.Decimals,
		RefundAmount: sanitized.RefundAmount,
		Claimed:      sanitized.Claimed,
	})
}

// --- Vesting state ---

type storedSchedule struct {
	Beneficiary [20]byte
	Total       *big.Int
	Released    *big.Int
	Start       uint64
	Cliff       uint64
	Duration    uint64
}

// ScheduleGet returns a beneficiary's vesting schedule, if any.
func (m *Manager) ScheduleGet(beneficiary [20]byte) (*vesting.Schedule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stored storedSchedule
	ok, err := m.get(vestingScheduleKey(beneficiary), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &vesting.Schedule{
		Beneficiary: stored.Beneficiary,
		Total:       stored.Total,
		Released:    stored.Released,
		Start:       int64(stored.Start),
		Cliff:       int64(stored.Cliff),
		Duration:    int64(stored.Duration),
	}, true, nil
}

// SchedulePut persists a vesting schedule.
func (m *Manager) SchedulePut(s *vesting.Schedule) error {
	sanitized, err := vesting.SanitizeSchedule(s)
	if err != nil {
		return err
	}
	if sanitized.Start < 0 {
		return fmt.Errorf("state: negative vesting start")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(vestingScheduleKey(sanitized.Beneficiary), &storedSchedule{
		Beneficiary: sanitized.Beneficiary,
		Total:       sanitized.Total,
		Released:    sanitized.Released,
		Start:       uint64(sanitized.Start),
		Cliff:       uint64(sanitized.Cliff),
		Duration:    uint64(sanitized.Duration),
	})
}

// VestingOutstanding returns the total unreleased vesting allocation.
func (m *Manager) VestingOutstanding() (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	outstanding := new(big.Int)
	ok, err := m.get(vestingOutstandingKey, outstanding)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return outstanding, nil
}

// SetVestingOutstanding overwrites the total unreleased vesting allocation.
func (m *Manager) SetVestingOutstanding(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return fmt.Errorf("state: outstanding must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(vestingOutstandingKey, v)
}

// --- Token ledger state ---

// BalanceGet returns the balance for (token, account).
func (m *Manager) BalanceGet(token, account [20]byte) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bal := new(big.Int)
	ok, err := m.get(balanceKey(token, account), bal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return bal, nil
}

// BalancePut overwrites the balance for (token, account).
func (m *Manager) BalancePut(token, account [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(balanceKey(token, account), amount)
}

// AllowanceGet returns the allowance for (token, owner, spender).
func (m *Manager) AllowanceGet(token, owner, spender [20]byte) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	allowance := new(big.Int)
	ok, err := m.get(allowanceKey(token, owner, spender), allowance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

// AllowancePut overwrites the allowance for (token, owner, spender).
func (m *Manager) AllowancePut(token, owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: allowance must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(allowanceKey(token, owner, spender), amount)
}
