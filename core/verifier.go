package core

import "github.com/defiweb/go-eth/types"

// TxHashVerifier compares the locally computed transaction hash with the one
// returned by the node.
type TxHashVerifier interface {
	Verify(local, remote types.Hash) bool
}

// TxHashVerifierFunc adapts a function to the TxHashVerifier interface.
type TxHashVerifierFunc func(local, remote types.Hash) bool

func (f TxHashVerifierFunc) Verify(local, remote types.Hash) bool {
	return f(local, remote)
}

// StrictTxHashVerifier requires both hashes to be equal.
type StrictTxHashVerifier struct{}

func (StrictTxHashVerifier) Verify(local, remote types.Hash) bool {
	return local == remote
}

// SkipTxHashVerifier accepts any remote hash. Useful with nodes that return
// a hash computed differently, e.g. some privacy-enabled nodes.
type SkipTxHashVerifier struct{}

func (SkipTxHashVerifier) Verify(types.Hash, types.Hash) bool {
	return true
}
