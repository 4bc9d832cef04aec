// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package expr implements the small expression language of spec.md §4.4 and
// §6.2: a parser producing a tree of typed nodes, a bottom-up constant-fold
// ("prune") pass, and an evaluate pass with O(1) variable/array reference
// resolution after compile.
//
// Per §9's design note, the tree is an arena of tagged nodes indexed by
// 32-bit handles owned by the containing CompiledExpression, rather than
// the source's cooperative raw pointers with manual deletion: prune
// rewrites a handle in the parent instead of doing an identity-checked
// delete-and-replace, and a pruned-away subtree is simply unreachable from
// the root until the arena itself is discarded.
package expr

import "github.com/openkarl/karl/record"

// Handle indexes a Node within a Tree's arena. The zero Handle is never a
// valid node (arena index 0 is reserved), so the zero value of Handle
// doubles as "no node".
type Handle uint32

const invalidHandle Handle = 0

// Kind tags the operation a Node performs.
type Kind int

const (
	KLeaf Kind = iota
	KVarRef
	KArrayRef
	KUnary
	KIncDec
	KBinaryArith
	KBinaryCompare
	KLogical
	KSeq
	KAssign
	KImplication
	KTernary
	KCall
	KSyscall
	KForRange
)

// Node is one entry in a Tree's arena. Not every field is meaningful for
// every Kind; the comments on the field groups below name the Kinds that
// use them.
type Node struct {
	Kind Kind

	// KLeaf
	Value record.Record

	// KVarRef / KArrayRef
	Name  string
	Index Handle // KArrayRef only

	// KUnary / KIncDec
	Op      string
	Child   Handle
	Postfix bool // KIncDec only: true for x++, false for ++x

	// KBinaryArith / KBinaryCompare / KLogical / KAssign
	Left, Right Handle

	// KSeq
	SeqOp    string // ";" | ";>" | ","
	Children []Handle

	// KImplication / KTernary
	Cond, Then, Else Handle

	// KCall / KSyscall
	CallName string
	Args     []Handle

	// KForRange: evaluates Body Count times with Name bound to
	// Start+i*Step for i in [0,Count).
	Start, Count, Step Handle
	Body               Handle
}

// Tree is the arena backing one CompiledExpression. Handle 0 is reserved
// and never allocated so the zero Handle can mean "absent".
type Tree struct {
	nodes []Node
}

func newTree() *Tree {
	t := &Tree{nodes: make([]Node, 1, 16)} // index 0 reserved
	t.nodes[invalidHandle] = Node{Kind: KLeaf}
	return t
}

func (t *Tree) alloc(n Node) Handle {
	t.nodes = append(t.nodes, n)
	return Handle(len(t.nodes) - 1)
}

func (t *Tree) at(h Handle) *Node { return &t.nodes[h] }

// replace overwrites the node at h in place -- this is how Prune "deletes"
// a subtree and installs a fresh leaf: the parent's handle is unchanged,
// only the arena slot's contents are rewritten, so there is never a
// dangling handle or a double-free to worry about.
func (t *Tree) replace(h Handle, n Node) { t.nodes[h] = n }
