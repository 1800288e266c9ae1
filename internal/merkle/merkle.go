// Package merkle implements the keccak256 sorted-pair merkle commitment used
// for listing whitelists: membership of an address is proven by an inclusion
// proof against a committed root instead of enumerating the allowed set.
package merkle

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Leaf hashes an address into its leaf node.
func Leaf(addr common.Address) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(addr.Bytes()))
}

// hashPair hashes two nodes in byte order, so verification needs no position
// information alongside the proof.
func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return common.BytesToHash(ethcrypto.Keccak256(a[:], b[:]))
}

// Verify checks an inclusion proof for addr against root.
func Verify(root common.Hash, proof []common.Hash, addr common.Address) bool {
	node := Leaf(addr)
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return node == root
}

// Tree is a full merkle tree over a set of addresses, used to commit a
// whitelist and to generate proofs for its members.
type Tree struct {
	leaves []common.Hash
	levels [][]common.Hash // levels[0] = leaves, last level = root
	index  map[common.Hash]int
}

// NewTree builds a tree over the given addresses. Duplicate addresses are
// collapsed and leaves are sorted so the same set always commits to the same
// root.
func NewTree(addrs []common.Address) (*Tree, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("merkle: empty address set")
	}

	seen := make(map[common.Address]struct{}, len(addrs))
	leaves := make([]common.Hash, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		leaves = append(leaves, Leaf(a))
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i][:], leaves[j][:]) < 0
	})

	t := &Tree{
		leaves: leaves,
		index:  make(map[common.Hash]int, len(leaves)),
	}
	for i, l := range leaves {
		t.index[l] = i
	}

	level := leaves
	t.levels = append(t.levels, level)
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				// Odd node is carried up unchanged.
				next = append(next, level[i])
			}
		}
		level = next
		t.levels = append(t.levels, level)
	}

	return t, nil
}

// Root returns the committed root of the tree.
func (t *Tree) Root() common.Hash {
	return t.levels[len(t.levels)-1][0]
}

// ProofFor returns the inclusion proof for addr, or an error if the address
// is not part of the committed set.
func (t *Tree) ProofFor(addr common.Address) ([]common.Hash, error) {
	idx, ok := t.index[Leaf(addr)]
	if !ok {
		return nil, fmt.Errorf("merkle: address %s not in tree", addr.Hex())
	}

	var proof []common.Hash
	for depth := 0; depth < len(t.levels)-1; depth++ {
		level := t.levels[depth]
		sibling := idx ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		idx /= 2
	}
	return proof, nil
}
