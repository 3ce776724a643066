package sale

import (
	"bytes"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LeafHash computes the canonical, order-sensitive leaf for a
// (participant, tier) whitelist entry.
func LeafHash(participant [20]byte, tier uint8) [32]byte {
	return ethcrypto.Keccak256Hash(participant[:], []byte{tier})
}

// VerifyMembership folds the proof siblings against the published root and
// reports whether (participant, tier) belongs to the whitelist. Pairs are
// sorted before hashing so proof construction is order-independent. The check
// is a pure function and fails closed: an empty or short proof simply yields
// a node that does not match the root.
func VerifyMembership(participant [20]byte, tier uint8, proof [][32]byte, root [32]byte) bool {
	node := LeafHash(participant, tier)
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return node == root
}

func hashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return ethcrypto.Keccak256Hash(a[:], b[:])
	}
	return ethcrypto.Keccak256Hash(b[:], a[:])
}
