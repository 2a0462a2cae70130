// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scarce implements a "scarce array": a sparse map from
// small-ish integer ids (HTTP/2 stream ids, FastCGI
// request ids) to arbitrary values, backed by a tree of 256-way arrays
// keyed on successive bytes of the id rather than a hash map. It reuses
// internal/bufbytes's fixed-width-array-reuse idiom, extended from one
// flat buffer to a tree of them.
package scarce

// node is one level of the radix tree: 256 slots, each either nil, a leaf
// value (when this node is at the tree's bottom level), or another node.
type node struct {
	children [256]any // either *node (inner) or stored value (leaf)
}

// Table maps uint32 ids (realistically 24-31 bits, e.g. HTTP/2 stream ids)
// to values of any type via a 4-level byte-indexed radix tree.
type Table struct {
	root  node
	count int
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{}
}

// Len returns the number of stored entries.
func (t *Table) Len() int { return t.count }

func bytesOf(id uint32) [4]byte {
	return [4]byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
}

// Set stores value under id, replacing any existing entry.
func (t *Table) Set(id uint32, value any) {
	b := bytesOf(id)
	n := &t.root
	for level := 0; level < 3; level++ {
		slot := n.children[b[level]]
		child, ok := slot.(*node)
		if !ok {
			child = &node{}
			n.children[b[level]] = child
		}
		n = child
	}
	if n.children[b[3]] == nil {
		t.count++
	}
	n.children[b[3]] = leaf{value}
}

// leaf wraps a stored value so a nil user value can be distinguished from
// an empty slot (both the slot and a literal nil value would otherwise be
// indistinguishable `any(nil)`).
type leaf struct{ v any }

// Get retrieves the value stored under id, if any.
func (t *Table) Get(id uint32) (any, bool) {
	b := bytesOf(id)
	n := &t.root
	for level := 0; level < 3; level++ {
		slot := n.children[b[level]]
		child, ok := slot.(*node)
		if !ok {
			return nil, false
		}
		n = child
	}
	slot := n.children[b[3]]
	if slot == nil {
		return nil, false
	}
	return slot.(leaf).v, true
}

// Delete removes the entry for id, if present.
func (t *Table) Delete(id uint32) {
	b := bytesOf(id)
	n := &t.root
	for level := 0; level < 3; level++ {
		slot := n.children[b[level]]
		child, ok := slot.(*node)
		if !ok {
			return
		}
		n = child
	}
	if n.children[b[3]] != nil {
		n.children[b[3]] = nil
		t.count--
	}
}

// Range calls f for every stored (id, value) pair, in ascending id order.
// Iteration stops early if f returns false.
func (t *Table) Range(f func(id uint32, value any) bool) {
	var walk func(n *node, prefix uint32, level int) bool
	walk = func(n *node, prefix uint32, level int) bool {
		for i, slot := range n.children {
			if slot == nil {
				continue
			}
			id := prefix | uint32(i)<<uint(8*(3-level))
			if level == 3 {
				if !f(id, slot.(leaf).v) {
					return false
				}
				continue
			}
			if !walk(slot.(*node), id, level+1) {
				return false
			}
		}
		return true
	}
	walk(&t.root, 0, 0)
}
