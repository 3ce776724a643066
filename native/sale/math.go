package sale

import "math/big"

// precision is the 1e18 fixed-point scale shared by the refund ratio and the
// sale price. All divisions floor; the resulting dust stays with the engine.
var precision = mustBigInt("1000000000000000000")

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// refundRatio returns (totalRaised - targetRaised) * 1e18 / totalRaised,
// the uniform fraction of each contribution returned when the sale overshot
// its target. Zero when nothing was raised or the target was not exceeded.
func refundRatio(totalRaised, targetRaised *big.Int) *big.Int {
	if totalRaised == nil || totalRaised.Sign() == 0 {
		return big.NewInt(0)
	}
	surplus := new(big.Int).Sub(totalRaised, cloneBigInt(targetRaised))
	if surplus.Sign() <= 0 {
		return big.NewInt(0)
	}
	ratio := surplus.Mul(surplus, precision)
	return ratio.Quo(ratio, totalRaised)
}

// refundAmount applies the fixed-point ratio to a single contribution.
func refundAmount(amount, ratio *big.Int) *big.Int {
	if amount == nil || ratio == nil || amount.Sign() <= 0 || ratio.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, ratio)
	return out.Quo(out, precision)
}

// claimAmount converts a net contribution in payment-token units into project
// token units at the fixed sale price:
//
//	effective * 10^projectDecimals * 1e18 / (salePrice * 10^paymentDecimals)
//
// The 1e18 factor cancels the fixed-point scale of salePrice while the
// decimal powers rescale between the two token precisions.
func claimAmount(effective, salePrice *big.Int, paymentDecimals, projectDecimals uint8) *big.Int {
	if effective == nil || effective.Sign() <= 0 || salePrice == nil || salePrice.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(effective, pow10(projectDecimals))
	num.Mul(num, precision)
	den := new(big.Int).Mul(salePrice, pow10(paymentDecimals))
	return num.Quo(num, den)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
