package sale

import (
	"fmt"
	"math/big"
)

// SalePhase represents the lifecycle states of the sale. Transitions are
// strictly operator-driven; the engine only enforces that the target phase is
// within the enumerated range, so moving backwards is legal.
type SalePhase uint8

const (
	PhasePreparing SalePhase = iota
	PhaseActive
	PhaseCompletedRefund
	PhaseCompletedClaim
)

// Valid reports whether the phase value is within the supported range.
func (p SalePhase) Valid() bool {
	switch p {
	case PhasePreparing, PhaseActive, PhaseCompletedRefund, PhaseCompletedClaim:
		return true
	default:
		return false
	}
}

func (p SalePhase) String() string {
	switch p {
	case PhasePreparing:
		return "preparing"
	case PhaseActive:
		return "active"
	case PhaseCompletedRefund:
		return "completed_refund"
	case PhaseCompletedClaim:
		return "completed_claim"
	default:
		return "unknown"
	}
}

// Purchase tiers run 1..3, each with its own contribution cap.
const (
	TierMin uint8 = 1
	TierMax uint8 = 3
)

// Accepted token decimal precision bounds.
const (
	MinTokenDecimals uint8 = 1
	MaxTokenDecimals uint8 = 18
)

// ValidTier reports whether the tier identifier is within 1..3.
func ValidTier(tier uint8) bool {
	return tier >= TierMin && tier <= TierMax
}

// SaleConfig is the singleton sale state mutated only by the owner: the
// fundraising target, the running total, the fixed project-token price
// (USD per whole token, 18-digit fixed point) and the membership root.
type SaleConfig struct {
	TargetRaised    *big.Int
	TotalRaised     *big.Int
	SalePrice       *big.Int
	Phase           SalePhase
	ProjectToken    [20]byte
	ProjectDecimals uint8
	MerkleRoot      [32]byte
}

// NewSaleConfig returns the deployment-time configuration: phase PREPARING
// with price and project token unset until the owner configures them.
func NewSaleConfig() *SaleConfig {
	return &SaleConfig{
		TargetRaised: big.NewInt(0),
		TotalRaised:  big.NewInt(0),
		SalePrice:    big.NewInt(0),
		Phase:        PhasePreparing,
	}
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (c *SaleConfig) Clone() *SaleConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TargetRaised = cloneBigInt(c.TargetRaised)
	clone.TotalRaised = cloneBigInt(c.TotalRaised)
	clone.SalePrice = cloneBigInt(c.SalePrice)
	return &clone
}

// SanitizeSaleConfig validates and normalises the supplied configuration,
// returning a clone with non-nil amount fields. The original is not mutated.
func SanitizeSaleConfig(c *SaleConfig) (*SaleConfig, error) {
	if c == nil {
		return nil, fmt.Errorf("nil sale config")
	}
	clone := c.Clone()
	if !clone.Phase.Valid() {
		return nil, fmt.Errorf("invalid sale phase: %d", clone.Phase)
	}
	if clone.TargetRaised.Sign() < 0 || clone.TotalRaised.Sign() < 0 || clone.SalePrice.Sign() < 0 {
		return nil, fmt.Errorf("sale config amounts must be non-negative")
	}
	return clone, nil
}

// PaymentToken describes an accepted payment token and its decimal precision.
// A token absent from the registry is not accepted for contribution; entries
// can be added or overwritten but never removed.
type PaymentToken struct {
	Token    [20]byte
	Decimals uint8
}

// ContributionRecord is a participant's one-shot ledger entry. Amount zero is
// the "absent" sentinel; RefundAmount is written at most once during the
// refund phase and Claimed flips false to true at most once during the claim
// phase.
type ContributionRecord struct {
	Participant  [20]byte
	Token        [20]byte
	Amount       *big.Int
	Decimals     uint8
	RefundAmount *big.Int
	Claimed      bool
}

// Clone returns a deep copy of the record.
func (r *ContributionRecord) Clone() *ContributionRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Amount = cloneBigInt(r.Amount)
	clone.RefundAmount = cloneBigInt(r.RefundAmount)
	return &clone
}

// SanitizeContribution validates the record invariants and returns a clone
// with non-nil amount fields.
func SanitizeContribution(r *ContributionRecord) (*ContributionRecord, error) {
	if r == nil {
		return nil, fmt.Errorf("nil contribution record")
	}
	clone := r.Clone()
	if clone.Amount.Sign() < 0 || clone.RefundAmount.Sign() < 0 {
		return nil, fmt.Errorf("contribution amounts must be non-negative")
	}
	if clone.Amount.Cmp(clone.RefundAmount) < 0 {
		return nil, fmt.Errorf("refund exceeds contribution")
	}
	if clone.Amount.Sign() > 0 && (clone.Decimals < MinTokenDecimals || clone.Decimals > MaxTokenDecimals) {
		return nil, fmt.Errorf("contribution decimals out of range: %d", clone.Decimals)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
