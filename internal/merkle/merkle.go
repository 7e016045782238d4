// Package merkle implements the hashing and proof math of the transparency log.
//
// Leaves are hashed as SHA-256(0x00 || payload) and interior nodes as
// SHA-256(0x01 || left || right). The tree over n leaves is split at the
// largest power of two strictly less than n, so the shape of the tree is a
// function of n alone and the left subtree is always complete.
//
// Everything in this package is pure: no I/O, no locks, no shared state.
package merkle
