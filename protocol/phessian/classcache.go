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

package phessian

import "container/list"

// classDef is a cached object layout: a class name plus its field
// names in wire order.
type classDef struct {
	className string
	fields    []string
}

// classCache is a size-bounded, least-recently-used cache of classDef
// values keyed by the index an object instance used to reference them
// on the wire: a fixed capacity with eviction once full, ordered by
// recency since a hot class is looked up far more often than it's
// defined.
type classCache struct {
	size int
	l    *list.List
	idx  map[int]*list.Element
}

type classCacheEntry struct {
	key int
	def classDef
}

func newClassCache(size int) *classCache {
	return &classCache{
		size: size,
		l:    list.New(),
		idx:  make(map[int]*list.Element),
	}
}

func (c *classCache) put(key int, def classDef) {
	if e, ok := c.idx[key]; ok {
		e.Value.(*classCacheEntry).def = def
		c.l.MoveToFront(e)
		return
	}
	if c.l.Len() >= c.size {
		back := c.l.Back()
		if back != nil {
			c.l.Remove(back)
			delete(c.idx, back.Value.(*classCacheEntry).key)
		}
	}
	e := c.l.PushFront(&classCacheEntry{key: key, def: def})
	c.idx[key] = e
}

func (c *classCache) get(key int) (classDef, bool) {
	e, ok := c.idx[key]
	if !ok {
		return classDef{}, false
	}
	c.l.MoveToFront(e)
	return e.Value.(*classCacheEntry).def, true
}
