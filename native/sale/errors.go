package sale

import "errors"

var (
	ErrUnauthorized       = errors.New("sale: unauthorized")
	ErrWrongPhase         = errors.New("sale: operation not allowed in current phase")
	ErrInvalidPhase       = errors.New("sale: phase out of range")
	ErrInvalidTier        = errors.New("sale: invalid tier")
	ErrZeroLimit          = errors.New("sale: tier limit must be positive")
	ErrTierNotConfigured  = errors.New("sale: tier limit not configured")
	ErrInvalidProof       = errors.New("sale: membership proof rejected")
	ErrZeroAmount         = errors.New("sale: amount must be positive")
	ErrZeroPrice          = errors.New("sale: sale price must be positive")
	ErrZeroTarget         = errors.New("sale: target raised must be positive")
	ErrAlreadyPurchased   = errors.New("sale: participant already purchased")
	ErrTokenNotRegistered = errors.New("sale: payment token not registered")
	ErrInvalidDecimals    = errors.New("sale: token decimals out of range")
	ErrZeroToken          = errors.New("sale: zero token address")
	ErrZeroAddress        = errors.New("sale: zero address")
	ErrCapExceeded        = errors.New("sale: amount exceeds tier limit")
	ErrNoContribution     = errors.New("sale: no contribution recorded")
	ErrAlreadyRefunded    = errors.New("sale: refund already settled")
	ErrAlreadyClaimed     = errors.New("sale: tokens already claimed")
	ErrNothingRaised      = errors.New("sale: nothing raised")
	ErrNoRefundNeeded     = errors.New("sale: raise did not exceed target")
	ErrPriceNotSet        = errors.New("sale: sale price not configured")
	ErrProjectTokenNotSet = errors.New("sale: project token not configured")
	ErrRootNotSet         = errors.New("sale: merkle root not configured")
)
