package vesting

import (
	"fmt"
	"math/big"
)

// Schedule is a beneficiary's linear vesting position: nothing releases
// before the cliff, then vested value grows linearly from Start over
// Duration seconds until the full Total is claimable.
type Schedule struct {
	Beneficiary [20]byte
	Total       *big.Int
	Released    *big.Int
	Start       int64
	Cliff       int64 // seconds after Start before anything vests
	Duration    int64 // seconds from Start until fully vested
}

// Clone returns a deep copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Total = cloneBigInt(s.Total)
	clone.Released = cloneBigInt(s.Released)
	return &clone
}

// SanitizeSchedule validates schedule invariants and returns a clone with
// non-nil amount fields.
func SanitizeSchedule(s *Schedule) (*Schedule, error) {
	if s == nil {
		return nil, fmt.Errorf("nil vesting schedule")
	}
	clone := s.Clone()
	if clone.Beneficiary == ([20]byte{}) {
		return nil, fmt.Errorf("vesting beneficiary required")
	}
	if clone.Total.Sign() <= 0 {
		return nil, fmt.Errorf("vesting total must be positive")
	}
	if clone.Released.Sign() < 0 || clone.Released.Cmp(clone.Total) > 0 {
		return nil, fmt.Errorf("released outside [0, total]")
	}
	if clone.Duration <= 0 {
		return nil, fmt.Errorf("vesting duration must be positive")
	}
	if clone.Cliff < 0 || clone.Cliff > clone.Duration {
		return nil, fmt.Errorf("vesting cliff outside [0, duration]")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
