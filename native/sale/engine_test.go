package sale

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"tokensale/core/events"
	"tokensale/core/types"
	"tokensale/native/common"
)

// failContributionPuts and failSaleConfigPuts reject that many writes before
// recovering, to exercise the abort-and-restore paths.
type mockState struct {
	config               *SaleConfig
	tierLimits           map[uint8]*big.Int
	paymentTokens        map[[20]byte]*PaymentToken
	contributions        map[[20]byte]*ContributionRecord
	failContributionPuts int
	failSaleConfigPuts   int
}

func newMockState() *mockState {
	return &mockState{
		tierLimits:    make(map[uint8]*big.Int),
		paymentTokens: make(map[[20]byte]*PaymentToken),
		contributions: make(map[[20]byte]*ContributionRecord),
	}
}

func (m *mockState) SaleConfigGet() (*SaleConfig, error) {
	if m.config == nil {
		return NewSaleConfig(), nil
	}
	return m.config.Clone(), nil
}

func (m *mockState) SaleConfigPut(cfg *SaleConfig) error {
	if m.failSaleConfigPuts > 0 {
		m.failSaleConfigPuts--
		return fmt.Errorf("mock state: config write rejected")
	}
	sanitized, err := SanitizeSaleConfig(cfg)
	if err != nil {
		return err
	}
	m.config = sanitized
	return nil
}

func (m *mockState) TierLimitGet(tier uint8) (*big.Int, bool, error) {
	limit, ok := m.tierLimits[tier]
	if !ok {
		return nil, false, nil
	}
	return new(big.Int).Set(limit), true, nil
}

func (m *mockState) TierLimitPut(tier uint8, limit *big.Int) error {
	if limit == nil || limit.Sign() <= 0 {
		return fmt.Errorf("invalid limit")
	}
	m.tierLimits[tier] = new(big.Int).Set(limit)
	return nil
}

func (m *mockState) PaymentTokenGet(token [20]byte) (*PaymentToken, bool, error) {
	cfg, ok := m.paymentTokens[token]
	if !ok {
		return nil, false, nil
	}
	clone := *cfg
	return &clone, true, nil
}

func (m *mockState) PaymentTokenPut(cfg *PaymentToken) error {
	if cfg == nil {
		return fmt.Errorf("nil payment token")
	}
	clone := *cfg
	m.paymentTokens[cfg.Token] = &clone
	return nil
}

func (m *mockState) ContributionGet(participant [20]byte) (*ContributionRecord, bool, error) {
	rec, ok := m.contributions[participant]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *mockState) ContributionPut(rec *ContributionRecord) error {
	if m.failContributionPuts > 0 {
		m.failContributionPuts--
		return fmt.Errorf("mock state: contribution write rejected")
	}
	sanitized, err := SanitizeContribution(rec)
	if err != nil {
		return err
	}
	m.contributions[sanitized.Participant] = sanitized
	return nil
}

// mockLedger keeps per-token balances with the engine vault as the implicit
// sender for Transfer. Hooks simulate transfer failure and reentrancy.
type mockLedger struct {
	vault            [20]byte
	balances         map[[20]byte]map[[20]byte]*big.Int
	failTransfer     bool
	failTransferFrom bool
	onTransferFrom   func() error
}

func newMockLedger(vault [20]byte) *mockLedger {
	return &mockLedger{
		vault:    vault,
		balances: make(map[[20]byte]map[[20]byte]*big.Int),
	}
}

func (l *mockLedger) balance(token, account [20]byte) *big.Int {
	if accounts, ok := l.balances[token]; ok {
		if bal, ok := accounts[account]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return big.NewInt(0)
}

func (l *mockLedger) mint(token, account [20]byte, amount int64) {
	if _, ok := l.balances[token]; !ok {
		l.balances[token] = make(map[[20]byte]*big.Int)
	}
	current := l.balance(token, account)
	l.balances[token][account] = current.Add(current, big.NewInt(amount))
}

func (l *mockLedger) move(token, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("mock ledger: bad amount")
	}
	fromBal := l.balance(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("mock ledger: insufficient balance")
	}
	if _, ok := l.balances[token]; !ok {
		l.balances[token] = make(map[[20]byte]*big.Int)
	}
	l.balances[token][from] = fromBal.Sub(fromBal, amount)
	toBal := l.balance(token, to)
	l.balances[token][to] = toBal.Add(toBal, amount)
	return nil
}

func (l *mockLedger) Transfer(token, to [20]byte, amount *big.Int) error {
	if l.failTransfer {
		return fmt.Errorf("mock ledger: transfer rejected")
	}
	return l.move(token, l.vault, to, amount)
}

func (l *mockLedger) TransferFrom(token, from, to [20]byte, amount *big.Int) error {
	if l.failTransferFrom {
		return fmt.Errorf("mock ledger: transferFrom rejected")
	}
	if l.onTransferFrom != nil {
		if err := l.onTransferFrom(); err != nil {
			return err
		}
	}
	return l.move(token, from, to, amount)
}

func (l *mockLedger) BalanceOf(token, account [20]byte) (*big.Int, error) {
	return l.balance(token, account), nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) typesEvents() []*types.Event {
	out := make([]*types.Event, 0, len(c.events))
	for _, evt := range c.events {
		if wrapper, ok := evt.(saleEvent); ok && wrapper.evt != nil {
			out = append(out, wrapper.evt)
		}
	}
	return out
}

var (
	testOwner    = testAddress(0xE0)
	testVault    = testAddress(0xE1)
	testUSD      = testAddress(0xAA) // 6-decimal payment token
	testProject  = testAddress(0xBB) // 18-decimal project token
	testOutsider = testAddress(0xEF)
)

// testWhitelist is the fixture set of (participant, tier) pairs the merkle
// fixtures are built over.
var testWhitelist = []struct {
	addr [20]byte
	tier uint8
}{
	{testAddress(0x01), 1},
	{testAddress(0x02), 2},
	{testAddress(0x03), 3},
	{testAddress(0x04), 1},
}

type saleFixture struct {
	engine  *Engine
	state   *mockState
	ledger  *mockLedger
	emitter *capturingEmitter
	root    [32]byte
	proofs  [][][32]byte
}

const usdcUnit = 1_000_000 // 10^6

func newSaleFixture(t *testing.T) *saleFixture {
	t.Helper()
	leaves := make([][32]byte, len(testWhitelist))
	for i, m := range testWhitelist {
		leaves[i] = LeafHash(m.addr, m.tier)
	}
	root, proofs := buildTree(t, leaves)

	state := newMockState()
	ledger := newMockLedger(testVault)
	emitter := &capturingEmitter{}
	engine := NewEngine(testOwner, testVault)
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetEmitter(emitter)

	if err := engine.SetMerkleRoot(testOwner, root); err != nil {
		t.Fatalf("set merkle root: %v", err)
	}
	if err := engine.SetTargetRaised(testOwner, big.NewInt(500*usdcUnit)); err != nil {
		t.Fatalf("set target: %v", err)
	}
	if err := engine.SetSalePrice(testOwner, bigFromString(t, "2000000000000000")); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := engine.SetProjectToken(testOwner, testProject, 18); err != nil {
		t.Fatalf("set project token: %v", err)
	}
	if err := engine.ConfigureToken(testOwner, testUSD, 6); err != nil {
		t.Fatalf("configure token: %v", err)
	}
	for tier, limit := range map[uint8]int64{1: 5_000 * usdcUnit, 2: 10_000 * usdcUnit, 3: 50_000 * usdcUnit} {
		if err := engine.SetTierLimit(testOwner, tier, big.NewInt(limit)); err != nil {
			t.Fatalf("set tier %d limit: %v", tier, err)
		}
	}
	if err := engine.SetSalePhase(testOwner, PhaseActive); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	return &saleFixture{engine: engine, state: state, ledger: ledger, emitter: emitter, root: root, proofs: proofs}
}

func (f *saleFixture) contribute(t *testing.T, member int, amount int64) {
	t.Helper()
	m := testWhitelist[member]
	f.ledger.mint(testUSD, m.addr, amount)
	if err := f.engine.Contribute(m.addr, m.tier, f.proofs[member], testUSD, big.NewInt(amount)); err != nil {
		t.Fatalf("contribute member %d: %v", member, err)
	}
}

func TestContributeHappyPath(t *testing.T) {
	f := newSaleFixture(t)
	f.contribute(t, 0, 1_000*usdcUnit)

	if got := f.ledger.balance(testUSD, testVault); got.Cmp(big.NewInt(1_000*usdcUnit)) != 0 {
		t.Fatalf("unexpected vault balance: %s", got)
	}
	if got := f.ledger.balance(testUSD, testWhitelist[0].addr); got.Sign() != 0 {
		t.Fatalf("unexpected participant balance: %s", got)
	}
	cfg, err := f.engine.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.TotalRaised.Cmp(big.NewInt(1_000*usdcUnit)) != 0 {
		t.Fatalf("unexpected totalRaised: %s", cfg.TotalRaised)
	}
	rec, ok, err := f.engine.Contribution(testWhitelist[0].addr)
	if err != nil || !ok {
		t.Fatalf("contribution lookup: ok=%v err=%v", ok, err)
	}
	if rec.Amount.Cmp(big.NewInt(1_000*usdcUnit)) != 0 || rec.Decimals != 6 || rec.Token != testUSD {
		t.Fatalf("unexpected record: %+v", rec)
	}
	evts := f.emitter.typesEvents()
	if len(evts) == 0 || evts[len(evts)-1].Type != EventTypeContributionReceived {
		t.Fatalf("expected contribution event, got %v", evts)
	}
}

func TestContributePhaseGating(t *testing.T) {
	f := newSaleFixture(t)
	if err := f.engine.SetSalePhase(testOwner, PhasePreparing); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	m := testWhitelist[0]
	f.ledger.mint(testUSD, m.addr, usdcUnit)
	err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, big.NewInt(usdcUnit))
	if !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected wrong phase, got %v", err)
	}
	if err := f.engine.SetSalePhase(testOwner, PhaseActive); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	if _, err := f.engine.ClaimRefund(m.addr); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected wrong phase for refund, got %v", err)
	}
	if _, err := f.engine.ClaimToken(m.addr); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected wrong phase for claim, got %v", err)
	}
}

func TestContributeRejectsBadProofs(t *testing.T) {
	f := newSaleFixture(t)
	m := testWhitelist[0]
	f.ledger.mint(testUSD, m.addr, 10*usdcUnit)

	// Forged tier: the proof is valid for tier 1 only.
	if err := f.engine.Contribute(m.addr, 2, f.proofs[0], testUSD, big.NewInt(usdcUnit)); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected proof rejection for forged tier, got %v", err)
	}
	// Outsider borrowing a member proof.
	if err := f.engine.Contribute(testOutsider, m.tier, f.proofs[0], testUSD, big.NewInt(usdcUnit)); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected proof rejection for outsider, got %v", err)
	}
	// Truncated proof.
	if err := f.engine.Contribute(m.addr, m.tier, f.proofs[0][:1], testUSD, big.NewInt(usdcUnit)); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected proof rejection for short proof, got %v", err)
	}
}

func TestContributeRejectsZeroAmount(t *testing.T) {
	f := newSaleFixture(t)
	m := testWhitelist[0]
	if err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
	if err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected nil amount rejection, got %v", err)
	}
}

func TestContributeAtMostOnce(t *testing.T) {
	f := newSaleFixture(t)
	f.contribute(t, 0, 100*usdcUnit)
	m := testWhitelist[0]
	f.ledger.mint(testUSD, m.addr, 100*usdcUnit)
	err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, big.NewInt(100*usdcUnit))
	if !errors.Is(err, ErrAlreadyPurchased) {
		t.Fatalf("expected already purchased, got %v", err)
	}
	cfg, _ := f.engine.Config()
	if cfg.TotalRaised.Cmp(big.NewInt(100*usdcUnit)) != 0 {
		t.Fatalf("totalRaised must be unchanged, got %s", cfg.TotalRaised)
	}
}

func TestContributeRejectsUnregisteredToken(t *testing.T) {
	f := newSaleFixture(t)
	m := testWhitelist[0]
	unknown := testAddress(0xCC)
	f.ledger.mint(unknown, m.addr, usdcUnit)
	err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], unknown, big.NewInt(usdcUnit))
	if !errors.Is(err, ErrTokenNotRegistered) {
		t.Fatalf("expected unregistered token rejection, got %v", err)
	}
}

func TestContributeTierCap(t *testing.T) {
	f := newSaleFixture(t)
	m := testWhitelist[0] // tier 1, cap 5000
	f.ledger.mint(testUSD, m.addr, 20_000*usdcUnit)

	err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, big.NewInt(5_001*usdcUnit))
	if !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("expected cap rejection, got %v", err)
	}
	if err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, big.NewInt(5_000*usdcUnit)); err != nil {
		t.Fatalf("contribution at exactly the cap must succeed: %v", err)
	}
}

func TestContributeTransferFailureAborts(t *testing.T) {
	f := newSaleFixture(t)
	m := testWhitelist[0]
	f.ledger.mint(testUSD, m.addr, 100*usdcUnit)
	f.ledger.failTransferFrom = true

	if err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, big.NewInt(100*usdcUnit)); err == nil {
		t.Fatalf("expected transfer failure to abort")
	}
	if _, ok, _ := f.engine.Contribution(m.addr); ok {
		t.Fatalf("no record must be retained after aborted transfer")
	}
	cfg, _ := f.engine.Config()
	if cfg.TotalRaised.Sign() != 0 {
		t.Fatalf("totalRaised must stay zero, got %s", cfg.TotalRaised)
	}
}

func TestContributeStateWriteFailureLeavesNoCharge(t *testing.T) {
	f := newSaleFixture(t)
	m := testWhitelist[0]
	f.ledger.mint(testUSD, m.addr, 100*usdcUnit)
	f.state.failSaleConfigPuts = 1

	if err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, big.NewInt(100*usdcUnit)); err == nil {
		t.Fatalf("expected config write failure to abort")
	}
	if got := f.ledger.balance(testUSD, m.addr); got.Cmp(big.NewInt(100*usdcUnit)) != 0 {
		t.Fatalf("caller must not be charged before the commit, balance %s", got)
	}
	if _, ok, _ := f.engine.Contribution(m.addr); ok {
		t.Fatalf("no record must be retained after aborted commit")
	}

	// The write failure was transient; a retry settles exactly once.
	if err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, big.NewInt(100*usdcUnit)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	cfg, _ := f.engine.Config()
	if cfg.TotalRaised.Cmp(big.NewInt(100*usdcUnit)) != 0 {
		t.Fatalf("totalRaised %s after retry, want 100", cfg.TotalRaised)
	}
	if got := f.ledger.balance(testUSD, testVault); got.Cmp(big.NewInt(100*usdcUnit)) != 0 {
		t.Fatalf("vault charged %s, want exactly 100", got)
	}
}

func TestContributeReentrancyBlocked(t *testing.T) {
	f := newSaleFixture(t)
	m := testWhitelist[0]
	f.ledger.mint(testUSD, m.addr, 200*usdcUnit)

	var inner error
	f.ledger.onTransferFrom = func() error {
		inner = f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, big.NewInt(100*usdcUnit))
		return inner
	}
	err := f.engine.Contribute(m.addr, m.tier, f.proofs[0], testUSD, big.NewInt(100*usdcUnit))
	if err == nil {
		t.Fatalf("expected outer contribution to abort")
	}
	if !errors.Is(inner, common.ErrReentrantCall) {
		t.Fatalf("expected reentrant call rejection, got %v", inner)
	}
	if _, ok, _ := f.engine.Contribution(m.addr); ok {
		t.Fatalf("no record must be retained after reentrant attempt")
	}
}

func TestClaimRefundProRata(t *testing.T) {
	f := newSaleFixture(t)
	// Single contribution of 1000 against a target of 500: half refunds.
	f.contribute(t, 0, 1_000*usdcUnit)
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedRefund); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	m := testWhitelist[0]
	refund, err := f.engine.ClaimRefund(m.addr)
	if err != nil {
		t.Fatalf("claim refund: %v", err)
	}
	if refund.Cmp(big.NewInt(500*usdcUnit)) != 0 {
		t.Fatalf("expected 500 refund, got %s", refund)
	}
	if got := f.ledger.balance(testUSD, m.addr); got.Cmp(big.NewInt(500*usdcUnit)) != 0 {
		t.Fatalf("expected participant balance 500, got %s", got)
	}
	if _, err := f.engine.ClaimRefund(m.addr); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected one-shot refund, got %v", err)
	}
	evts := f.emitter.typesEvents()
	found := false
	for _, evt := range evts {
		if evt.Type == EventTypeRefundIssued {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected refund event in %v", evts)
	}
}

func TestClaimRefundRecordWriteFailureWithholdsPayout(t *testing.T) {
	f := newSaleFixture(t)
	f.contribute(t, 0, 1_000*usdcUnit)
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedRefund); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	m := testWhitelist[0]
	f.state.failContributionPuts = 1

	if _, err := f.engine.ClaimRefund(m.addr); err == nil {
		t.Fatalf("expected record write failure to abort")
	}
	if got := f.ledger.balance(testUSD, m.addr); got.Sign() != 0 {
		t.Fatalf("no funds may move before the record commits, got %s", got)
	}

	refund, err := f.engine.ClaimRefund(m.addr)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if refund.Cmp(big.NewInt(500*usdcUnit)) != 0 {
		t.Fatalf("expected 500 refund, got %s", refund)
	}
	if got := f.ledger.balance(testUSD, m.addr); got.Cmp(big.NewInt(500*usdcUnit)) != 0 {
		t.Fatalf("retry must pay exactly one refund, got %s", got)
	}
}

func TestClaimRefundTransferFailureRollsBack(t *testing.T) {
	f := newSaleFixture(t)
	f.contribute(t, 0, 1_000*usdcUnit)
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedRefund); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	m := testWhitelist[0]
	f.ledger.failTransfer = true

	if _, err := f.engine.ClaimRefund(m.addr); err == nil {
		t.Fatalf("expected transfer failure to abort")
	}
	rec, ok, _ := f.engine.Contribution(m.addr)
	if !ok || rec.RefundAmount.Sign() != 0 {
		t.Fatalf("refund must not stay recorded after failed transfer: %+v", rec)
	}

	f.ledger.failTransfer = false
	refund, err := f.engine.ClaimRefund(m.addr)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if refund.Cmp(big.NewInt(500*usdcUnit)) != 0 {
		t.Fatalf("expected 500 refund, got %s", refund)
	}
	if got := f.ledger.balance(testUSD, m.addr); got.Cmp(big.NewInt(500*usdcUnit)) != 0 {
		t.Fatalf("retry must pay exactly once, got %s", got)
	}
}

func TestClaimRefundRequiresSurplus(t *testing.T) {
	f := newSaleFixture(t)
	f.contribute(t, 0, 400*usdcUnit) // below the 500 target
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedRefund); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	if _, err := f.engine.ClaimRefund(testWhitelist[0].addr); !errors.Is(err, ErrNoRefundNeeded) {
		t.Fatalf("expected explicit no-refund rejection, got %v", err)
	}
}

func TestClaimRefundRequiresContribution(t *testing.T) {
	f := newSaleFixture(t)
	f.contribute(t, 0, 1_000*usdcUnit)
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedRefund); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	if _, err := f.engine.ClaimRefund(testOutsider); !errors.Is(err, ErrNoContribution) {
		t.Fatalf("expected no contribution rejection, got %v", err)
	}
}

func TestClaimRefundConservation(t *testing.T) {
	f := newSaleFixture(t)
	amounts := []int64{1_001 * usdcUnit, 997 * usdcUnit, 3_333*usdcUnit + 1}
	total := int64(0)
	for i, amount := range amounts {
		f.contribute(t, i, amount)
		total += amount
	}
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedRefund); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	surplus := big.NewInt(total - 500*usdcUnit)
	sum := big.NewInt(0)
	for i := range amounts {
		refund, err := f.engine.ClaimRefund(testWhitelist[i].addr)
		if err != nil {
			t.Fatalf("refund %d: %v", i, err)
		}
		if refund.Cmp(big.NewInt(amounts[i])) > 0 {
			t.Fatalf("refund %s exceeds contribution %d", refund, amounts[i])
		}
		sum.Add(sum, refund)
	}
	if sum.Cmp(surplus) > 0 {
		t.Fatalf("refund sum %s exceeds surplus %s", sum, surplus)
	}
	// Residual dust stays in the vault.
	vaultBal := f.ledger.balance(testUSD, testVault)
	expected := new(big.Int).Sub(big.NewInt(total), sum)
	if vaultBal.Cmp(expected) != 0 {
		t.Fatalf("vault balance %s, want %s", vaultBal, expected)
	}
}

func TestClaimTokenFixedPrice(t *testing.T) {
	f := newSaleFixture(t)
	f.contribute(t, 0, 1_000*usdcUnit)
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedClaim); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	funded := bigFromString(t, "600000000000000000000000")
	f.ledger.balances[testProject] = map[[20]byte]*big.Int{testVault: new(big.Int).Set(funded)}

	m := testWhitelist[0]
	out, err := f.engine.ClaimToken(m.addr)
	if err != nil {
		t.Fatalf("claim token: %v", err)
	}
	// 1000 USD at 0.002 USD/token => 500000 tokens of 18 decimals.
	if want := bigFromString(t, "500000000000000000000000"); out.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, out)
	}
	if got := f.ledger.balance(testProject, m.addr); got.Cmp(out) != 0 {
		t.Fatalf("participant project balance %s, want %s", got, out)
	}
	if _, err := f.engine.ClaimToken(m.addr); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected one-shot claim, got %v", err)
	}
}

func TestClaimTokenFailurePathsSettleOnce(t *testing.T) {
	f := newSaleFixture(t)
	f.contribute(t, 0, 1_000*usdcUnit)
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedClaim); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	funded := bigFromString(t, "600000000000000000000000")
	f.ledger.balances[testProject] = map[[20]byte]*big.Int{testVault: new(big.Int).Set(funded)}
	m := testWhitelist[0]

	// A rejected record write aborts before any tokens move.
	f.state.failContributionPuts = 1
	if _, err := f.engine.ClaimToken(m.addr); err == nil {
		t.Fatalf("expected record write failure to abort")
	}
	if got := f.ledger.balance(testProject, m.addr); got.Sign() != 0 {
		t.Fatalf("no tokens may move before the record commits, got %s", got)
	}

	// A rejected transfer rolls the claimed flag back.
	f.ledger.failTransfer = true
	if _, err := f.engine.ClaimToken(m.addr); err == nil {
		t.Fatalf("expected transfer failure to abort")
	}
	rec, ok, _ := f.engine.Contribution(m.addr)
	if !ok || rec.Claimed {
		t.Fatalf("claim must not stay recorded after failed transfer: %+v", rec)
	}

	f.ledger.failTransfer = false
	out, err := f.engine.ClaimToken(m.addr)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	want := bigFromString(t, "500000000000000000000000")
	if out.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, out)
	}
	if got := f.ledger.balance(testProject, m.addr); got.Cmp(want) != 0 {
		t.Fatalf("retry must pay exactly once, got %s", got)
	}
	if _, err := f.engine.ClaimToken(m.addr); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected one-shot claim after settle, got %v", err)
	}
}

func TestClaimTokenAfterRefundUsesNetContribution(t *testing.T) {
	f := newSaleFixture(t)
	f.contribute(t, 0, 1_000*usdcUnit)
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedRefund); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	m := testWhitelist[0]
	if _, err := f.engine.ClaimRefund(m.addr); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedClaim); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	funded := bigFromString(t, "300000000000000000000000")
	f.ledger.balances[testProject] = map[[20]byte]*big.Int{testVault: new(big.Int).Set(funded)}

	out, err := f.engine.ClaimToken(m.addr)
	if err != nil {
		t.Fatalf("claim token: %v", err)
	}
	// Net 500 USD at 0.002 USD/token => 250000 tokens.
	if want := bigFromString(t, "250000000000000000000000"); out.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestClaimTokenConservation(t *testing.T) {
	f := newSaleFixture(t)
	amounts := []int64{777 * usdcUnit, 1_234 * usdcUnit, 55*usdcUnit + 7}
	for i, amount := range amounts {
		f.contribute(t, i, amount)
	}
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedClaim); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	funded := bigFromString(t, "2000000000000000000000000")
	f.ledger.balances[testProject] = map[[20]byte]*big.Int{testVault: new(big.Int).Set(funded)}

	claimed := big.NewInt(0)
	for i := range amounts {
		out, err := f.engine.ClaimToken(testWhitelist[i].addr)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		claimed.Add(claimed, out)
	}
	residual := f.ledger.balance(testProject, testVault)
	if got := new(big.Int).Add(claimed, residual); got.Cmp(funded) != 0 {
		t.Fatalf("claims %s + residual %s != funded %s", claimed, residual, funded)
	}
}

func TestClaimTokenRequiresConfiguration(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger(testVault)
	engine := NewEngine(testOwner, testVault)
	engine.SetState(state)
	engine.SetLedger(ledger)
	if err := engine.SetSalePhase(testOwner, PhaseCompletedClaim); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	if _, err := engine.ClaimToken(testOutsider); !errors.Is(err, ErrProjectTokenNotSet) {
		t.Fatalf("expected project token rejection, got %v", err)
	}
	if err := engine.SetProjectToken(testOwner, testProject, 18); err != nil {
		t.Fatalf("set project token: %v", err)
	}
	if _, err := engine.ClaimToken(testOutsider); !errors.Is(err, ErrPriceNotSet) {
		t.Fatalf("expected price rejection, got %v", err)
	}
}

func TestDepositFundsClaims(t *testing.T) {
	f := newSaleFixture(t)
	funder := testAddress(0xD0)
	f.ledger.mint(testProject, funder, 1_000_000)
	if err := f.engine.Deposit(funder, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.ledger.balance(testProject, testVault); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("vault project balance %s", got)
	}
	if err := f.engine.Deposit(funder, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
}

func TestEmergencyWithdrawSweepsBalance(t *testing.T) {
	f := newSaleFixture(t)
	f.ledger.mint(testProject, testVault, 777_000)

	if _, err := f.engine.EmergencyWithdraw(testOutsider); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// No phase gate: sweeping works mid-sale.
	swept, err := f.engine.EmergencyWithdraw(testOwner)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if swept.Cmp(big.NewInt(777_000)) != 0 {
		t.Fatalf("expected sweep 777000, got %s", swept)
	}
	if got := f.ledger.balance(testProject, testOwner); got.Cmp(big.NewInt(777_000)) != 0 {
		t.Fatalf("owner balance %s", got)
	}
	if got := f.ledger.balance(testProject, testVault); got.Sign() != 0 {
		t.Fatalf("vault must be empty, got %s", got)
	}
}

func TestSetSalePhaseBoundsAndDirection(t *testing.T) {
	f := newSaleFixture(t)
	if err := f.engine.SetSalePhase(testOwner, SalePhase(4)); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected range rejection, got %v", err)
	}
	if err := f.engine.SetSalePhase(testOutsider, PhaseActive); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// Backward transitions are permitted; only the range is enforced.
	if err := f.engine.SetSalePhase(testOwner, PhaseCompletedClaim); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := f.engine.SetSalePhase(testOwner, PhaseActive); err != nil {
		t.Fatalf("backward: %v", err)
	}
}

func TestSetTierLimitValidation(t *testing.T) {
	f := newSaleFixture(t)
	if err := f.engine.SetTierLimit(testOwner, 0, big.NewInt(1)); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected invalid tier, got %v", err)
	}
	if err := f.engine.SetTierLimit(testOwner, 4, big.NewInt(1)); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected invalid tier, got %v", err)
	}
	if err := f.engine.SetTierLimit(testOwner, 1, big.NewInt(0)); !errors.Is(err, ErrZeroLimit) {
		t.Fatalf("expected zero limit rejection, got %v", err)
	}
	if err := f.engine.SetTierLimit(testOutsider, 1, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := f.engine.TierLimit(4); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected invalid tier on read, got %v", err)
	}
	limit, err := f.engine.TierLimit(1)
	if err != nil {
		t.Fatalf("tier limit: %v", err)
	}
	if limit.Cmp(big.NewInt(5_000*usdcUnit)) != 0 {
		t.Fatalf("unexpected tier 1 limit %s", limit)
	}
}

func TestSetPriceAndTargetValidation(t *testing.T) {
	f := newSaleFixture(t)
	if err := f.engine.SetSalePrice(testOwner, big.NewInt(0)); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("expected ErrZeroPrice, got %v", err)
	}
	if err := f.engine.SetSalePrice(testOwner, nil); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("expected ErrZeroPrice for nil price, got %v", err)
	}
	if err := f.engine.SetTargetRaised(testOwner, big.NewInt(-1)); !errors.Is(err, ErrZeroTarget) {
		t.Fatalf("expected ErrZeroTarget, got %v", err)
	}
	if err := f.engine.SetTargetRaised(testOutsider, big.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestConfigureTokenValidation(t *testing.T) {
	f := newSaleFixture(t)
	if err := f.engine.ConfigureToken(testOwner, [20]byte{}, 6); !errors.Is(err, ErrZeroToken) {
		t.Fatalf("expected zero token rejection, got %v", err)
	}
	if err := f.engine.ConfigureToken(testOwner, testUSD, 0); !errors.Is(err, ErrInvalidDecimals) {
		t.Fatalf("expected decimals rejection, got %v", err)
	}
	if err := f.engine.ConfigureToken(testOwner, testUSD, 19); !errors.Is(err, ErrInvalidDecimals) {
		t.Fatalf("expected decimals rejection, got %v", err)
	}
	// Re-configuring overwrites.
	if err := f.engine.ConfigureToken(testOwner, testUSD, 8); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	registered, ok, err := f.state.PaymentTokenGet(testUSD)
	if err != nil || !ok {
		t.Fatalf("token lookup: ok=%v err=%v", ok, err)
	}
	if registered.Decimals != 8 {
		t.Fatalf("expected overwrite to 8 decimals, got %d", registered.Decimals)
	}
}

func TestTransferOwnership(t *testing.T) {
	f := newSaleFixture(t)
	next := testAddress(0xF1)
	if err := f.engine.TransferOwnership(testOutsider, next); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.engine.TransferOwnership(testOwner, [20]byte{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address rejection, got %v", err)
	}
	if err := f.engine.TransferOwnership(testOwner, next); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if err := f.engine.SetSalePhase(testOwner, PhaseActive); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old owner must lose control, got %v", err)
	}
	if err := f.engine.SetSalePhase(next, PhaseActive); err != nil {
		t.Fatalf("new owner must gain control: %v", err)
	}
}
