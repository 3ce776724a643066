package state

import "encoding/hex"

var (
	saleConfigKey         = []byte("sale/config")
	tierLimitPrefix       = []byte("sale/tier/")
	paymentTokenPrefix    = []byte("sale/token/")
	contributionPrefix    = []byte("sale/contribution/")
	vestingSchedulePrefix = []byte("vesting/schedule/")
	vestingOutstandingKey = []byte("vesting/outstanding")
	balancePrefix         = []byte("token/balance/")
	allowancePrefix       = []byte("token/allowance/")
)

func appendKey(prefix []byte, parts ...[]byte) []byte {
	out := append([]byte(nil), prefix...)
	for i, part := range parts {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, hex.EncodeToString(part)...)
	}
	return out
}

func tierLimitKey(tier uint8) []byte {
	return appendKey(tierLimitPrefix, []byte{tier})
}

func paymentTokenKey(token [20]byte) []byte {
	return appendKey(paymentTokenPrefix, token[:])
}

func contributionKey(participant [20]byte) []byte {
	return appendKey(contributionPrefix, participant[:])
}

func vestingScheduleKey(beneficiary [20]byte) []byte {
	return appendKey(vestingSchedulePrefix, beneficiary[:])
}

func balanceKey(token, account [20]byte) []byte {
	return appendKey(balancePrefix, token[:], account[:])
}

func allowanceKey(token, owner, spender [20]byte) []byte {
	return appendKey(allowancePrefix, token[:], owner[:], spender[:])
}
