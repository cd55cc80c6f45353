package vesting

import (
	"bytes"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Leaf returns keccak256(contract[20] ‖ chainID[32] ‖ salt[32] ‖
// beneficiary[20] ‖ total[32]) with integers big-endian encoded.
func Leaf(contract [20]byte, chainID uint64, salt [32]byte, beneficiary [20]byte, total *big.Int) ([32]byte, error) {
	if total == nil || total.Sign() < 0 || total.BitLen() > 256 {
		return [32]byte{}, ErrInvalidEntitlement
	}
	var chainWord, totalWord [32]byte
	new(big.Int).SetUint64(chainID).FillBytes(chainWord[:])
	total.FillBytes(totalWord[:])
	buf := make([]byte, 0, 136)
	buf = append(buf, contract[:]...)
	buf = append(buf, chainWord[:]...)
	buf = append(buf, salt[:]...)
	buf = append(buf, beneficiary[:]...)
	buf = append(buf, totalWord[:]...)
	var leaf [32]byte
	copy(leaf[:], ethcrypto.Keccak256(buf))
	return leaf, nil
}

// LeafFor derives the allocation leaf of beneficiary under schedule s.
func LeafFor(s *Schedule, beneficiary [20]byte, total *big.Int) ([32]byte, error) {
	return Leaf(s.Contract, s.ChainID, s.Salt, beneficiary, total)
}

func hashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(a[:], b[:]))
	return out
}

// Tree is a sorted-pair keccak Merkle tree. An odd node at the end of a layer
// is promoted unchanged to the next layer.
type Tree struct {
	layers [][][32]byte
	index  map[[32]byte]int
}

// BuildTree constructs the tree over leaves in the given order.
func BuildTree(leaves [][32]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyAllocations
	}
	index := make(map[[32]byte]int, len(leaves))
	base := make([][32]byte, len(leaves))
	for i, leaf := range leaves {
		if _, dup := index[leaf]; dup {
			return nil, fmt.Errorf("vesting: duplicate leaf %x", leaf)
		}
		index[leaf] = i
		base[i] = leaf
	}
	layers := [][][32]byte{base}
	for current := base; len(current) > 1; {
		next := make([][32]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 == len(current) {
				next = append(next, current[i])
				continue
			}
			next = append(next, hashPair(current[i], current[i+1]))
		}
		layers = append(layers, next)
		current = next
	}
	return &Tree{layers: layers, index: index}, nil
}

// Root returns the tree root.
func (t *Tree) Root() [32]byte {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.layers[0]) }

// Proof returns the inclusion proof of leaf.
func (t *Tree) Proof(leaf [32]byte) ([][32]byte, bool) {
	pos, ok := t.index[leaf]
	if !ok {
		return nil, false
	}
	proof := make([][32]byte, 0, len(t.layers))
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := pos ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		pos /= 2
	}
	return proof, true
}

// VerifyProof folds proof into leaf and compares the result with root.
func VerifyProof(proof [][32]byte, root, leaf [32]byte) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

// AllocationTree builds the tree committing to entitlements under s. The
// schedule's Contract, ChainID and Salt must already be set.
func AllocationTree(s *Schedule, entitlements []Entitlement) (*Tree, error) {
	if len(entitlements) == 0 {
		return nil, ErrEmptyAllocations
	}
	seen := make(map[[20]byte]struct{}, len(entitlements))
	leaves := make([][32]byte, 0, len(entitlements))
	for _, ent := range entitlements {
		if _, dup := seen[ent.Beneficiary]; dup {
			return nil, fmt.Errorf("%w: %x", ErrDuplicateAccount, ent.Beneficiary)
		}
		seen[ent.Beneficiary] = struct{}{}
		leaf, err := LeafFor(s, ent.Beneficiary, ent.Amount)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	return BuildTree(leaves)
}
