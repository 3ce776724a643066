package config

import "fmt"

const (
	minTier = 1
	maxTier = 3

	minTokenDecimals = 1
	maxTokenDecimals = 18
)

// Validate rejects configurations that cannot be applied at boot. It checks
// syntax only; the engines enforce runtime invariants on top of this.
func Validate(cfg *Config) error {
	if cfg.Owner != "" {
		if _, err := ParseAddress(cfg.Owner); err != nil {
			return fmt.Errorf("Owner: %w", err)
		}
	}
	if cfg.Vault != "" {
		if _, err := ParseAddress(cfg.Vault); err != nil {
			return fmt.Errorf("Vault: %w", err)
		}
	}

	if _, err := ParseAmount(cfg.Sale.TargetRaised); err != nil {
		return fmt.Errorf("sale.TargetRaised: %w", err)
	}
	if _, err := ParseAmount(cfg.Sale.SalePrice); err != nil {
		return fmt.Errorf("sale.SalePrice: %w", err)
	}
	if cfg.Sale.ProjectToken != "" {
		if _, err := ParseAddress(cfg.Sale.ProjectToken); err != nil {
			return fmt.Errorf("sale.ProjectToken: %w", err)
		}
		if cfg.Sale.ProjectDecimals < minTokenDecimals || cfg.Sale.ProjectDecimals > maxTokenDecimals {
			return fmt.Errorf("sale.ProjectDecimals: %d outside [%d, %d]", cfg.Sale.ProjectDecimals, minTokenDecimals, maxTokenDecimals)
		}
	}
	if cfg.Sale.MerkleRoot != "" {
		if _, err := ParseRoot(cfg.Sale.MerkleRoot); err != nil {
			return fmt.Errorf("sale.MerkleRoot: %w", err)
		}
	}

	for i, token := range cfg.PaymentTokens {
		if _, err := ParseAddress(token.Token); err != nil {
			return fmt.Errorf("payment_token[%d].Token: %w", i, err)
		}
		if token.Decimals < minTokenDecimals || token.Decimals > maxTokenDecimals {
			return fmt.Errorf("payment_token[%d].Decimals: %d outside [%d, %d]", i, token.Decimals, minTokenDecimals, maxTokenDecimals)
		}
	}

	for i, tier := range cfg.Tiers {
		if tier.Tier < minTier || tier.Tier > maxTier {
			return fmt.Errorf("tier[%d].Tier: %d outside [%d, %d]", i, tier.Tier, minTier, maxTier)
		}
		limit, err := ParseAmount(tier.Limit)
		if err != nil {
			return fmt.Errorf("tier[%d].Limit: %w", i, err)
		}
		if limit.Sign() <= 0 {
			return fmt.Errorf("tier[%d].Limit: must be positive", i)
		}
	}

	for i, schedule := range cfg.Vesting {
		if _, err := ParseAddress(schedule.Beneficiary); err != nil {
			return fmt.Errorf("vesting[%d].Beneficiary: %w", i, err)
		}
		total, err := ParseAmount(schedule.Total)
		if err != nil {
			return fmt.Errorf("vesting[%d].Total: %w", i, err)
		}
		if total.Sign() <= 0 {
			return fmt.Errorf("vesting[%d].Total: must be positive", i)
		}
		if schedule.Duration == 0 {
			return fmt.Errorf("vesting[%d].Duration: must be positive", i)
		}
		if schedule.Cliff > schedule.Duration {
			return fmt.Errorf("vesting[%d].Cliff: exceeds Duration", i)
		}
	}

	return nil
}
