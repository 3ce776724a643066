package sale

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"tokensale/core/types"
)

const (
	EventTypeContributionReceived = "sale.contribution_received"
	EventTypeRefundIssued         = "sale.refund_issued"
	EventTypeClaimToken           = "sale.claim_token"
	EventTypeDeposit              = "sale.deposit"
	EventTypeEmergencyWithdraw    = "sale.emergency_withdraw"
	EventTypePhaseChanged         = "sale.phase_changed"
)

// NewContributionReceivedEvent returns the canonical payload emitted when a
// contribution is recorded.
func NewContributionReceivedEvent(participant, token [20]byte, amount *big.Int) *types.Event {
	return newTransferEvent(EventTypeContributionReceived, participant, token, amount)
}

// NewRefundIssuedEvent returns the payload emitted when a pro-rata refund is
// settled for a participant.
func NewRefundIssuedEvent(participant, token [20]byte, amount *big.Int) *types.Event {
	return newTransferEvent(EventTypeRefundIssued, participant, token, amount)
}

// NewClaimTokenEvent returns the payload emitted when a participant claims
// their project-token allocation.
func NewClaimTokenEvent(participant, token [20]byte, amount *big.Int) *types.Event {
	return newTransferEvent(EventTypeClaimToken, participant, token, amount)
}

// NewDepositEvent returns the payload emitted when project tokens are pushed
// into the engine balance.
func NewDepositEvent(from, token [20]byte, amount *big.Int) *types.Event {
	return newTransferEvent(EventTypeDeposit, from, token, amount)
}

// NewEmergencyWithdrawEvent returns the payload emitted when the owner sweeps
// the engine's project-token balance.
func NewEmergencyWithdrawEvent(owner, token [20]byte, amount *big.Int) *types.Event {
	return newTransferEvent(EventTypeEmergencyWithdraw, owner, token, amount)
}

// NewPhaseChangedEvent returns the payload emitted on a phase transition.
func NewPhaseChangedEvent(phase SalePhase) *types.Event {
	return &types.Event{
		Type: EventTypePhaseChanged,
		Attributes: map[string]string{
			"phase":      strconv.FormatUint(uint64(phase), 10),
			"phaseLabel": phase.String(),
		},
	}
}

func newTransferEvent(eventType string, account, token [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"participant": hex.EncodeToString(account[:]),
		"token":       hex.EncodeToString(token[:]),
		"amount":      cloneBigInt(amount).String(),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
