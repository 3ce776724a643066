package config

// SaleGenesis seeds the sale parameters applied on first boot. Amounts are
// decimal strings in the base units of the relevant token.
type SaleGenesis struct {
	TargetRaised    string `toml:"TargetRaised"`
	SalePrice       string `toml:"SalePrice"`
	ProjectToken    string `toml:"ProjectToken"`
	ProjectDecimals uint8  `toml:"ProjectDecimals"`
	MerkleRoot      string `toml:"MerkleRoot"`
}

// PaymentTokenConfig registers an accepted payment token at genesis.
type PaymentTokenConfig struct {
	Token    string `toml:"Token"`
	Decimals uint8  `toml:"Decimals"`
}

// TierConfig sets the aggregate contribution cap for a whitelist tier.
type TierConfig struct {
	Tier  uint8  `toml:"Tier"`
	Limit string `toml:"Limit"`
}

// VestingConfig creates a vesting schedule at genesis. Times are unix seconds
// for Start and second offsets for Cliff and Duration.
type VestingConfig struct {
	Beneficiary string `toml:"Beneficiary"`
	Total       string `toml:"Total"`
	Start       int64  `toml:"Start"`
	Cliff       uint64 `toml:"Cliff"`
	Duration    uint64 `toml:"Duration"`
}
