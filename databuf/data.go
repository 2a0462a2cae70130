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

package databuf

// view is a (chunk, offset, length) triple: one contiguous slice of a
// chunk's backing array, owned by exactly one Data even though the chunk
// itself may be referenced from many views across many Data values.
type view struct {
	c   *chunk
	off int
	len int
}

// Data is an ordered list of views behaving as a single logical byte
// string. It is immutable from a consumer's standpoint (Bytes/Len/At never
// mutate it) but may be moved into another Data via Push/Shift, which hand
// off view ownership without copying content across view boundaries.
type Data struct {
	views []view
	size  int
	pool  *Pool
}

// New returns an empty Data backed by the given Pool (DefaultPool if nil).
func New(pool *Pool) Data {
	if pool == nil {
		pool = DefaultPool
	}
	return Data{pool: pool}
}

// FromBytes copies p into one or more chunks from DefaultPool and returns
// the resulting Data. Use this at ingestion boundaries (socket reads);
// everywhere else, prefer Push so views are shared rather than copied.
func FromBytes(p []byte) Data {
	d := New(DefaultPool)
	d.Write(p)
	return d
}

// Len returns the total number of logical bytes held by d.
func (d Data) Len() int { return d.size }

// Empty reports whether d holds zero bytes.
func (d Data) Empty() bool { return d.size == 0 }

// Write appends raw bytes to d, copying them into pool-owned chunks. When
// the trailing chunk is solely owned by d and has tail room, bytes are
// written in place and no new view is allocated (the in-place-append +
// in-place merge optimization).
func (d *Data) Write(p []byte) {
	if d.pool == nil {
		d.pool = DefaultPool
	}
	for len(p) > 0 {
		if n := len(d.views); n > 0 {
			last := &d.views[n-1]
			if last.c.soleOwner() && last.off+last.len == last.c.tail && last.c.tail < len(last.c.buf) {
				room := len(last.c.buf) - last.c.tail
				take := room
				if take > len(p) {
					take = len(p)
				}
				copy(last.c.buf[last.c.tail:], p[:take])
				last.c.tail += take
				last.len += take
				d.size += take
				p = p[take:]
				continue
			}
		}

		c := d.pool.get()
		take := len(p)
		if take > len(c.buf) {
			take = len(c.buf)
		}
		copy(c.buf, p[:take])
		c.tail = take
		d.views = append(d.views, view{c: c, off: 0, len: take})
		d.size += take
		p = p[take:]
	}
}

// Push moves the views of other onto the tail of d without copying any
// content; other is left empty. This is the rope's O(#views) concatenate.
func (d *Data) Push(other Data) {
	if other.size == 0 {
		return
	}
	if d.pool == nil {
		d.pool = other.pool
	}
	d.views = append(d.views, other.views...)
	d.size += other.size
	// other's chunk refs transferred conceptually; each view already
	// carries its own retain from when it was created, so no extra
	// retain/release bookkeeping is needed here — ownership of the view
	// slots themselves simply moved to d.
}

// Shift removes the first n bytes from d and returns them as a new Data
// whose views alias (not copy) the original chunks; the underlying
// chunks are retained for as long as either Data holds a view into them.
// Shift is O(#views) touched, not O(n).
func (d *Data) Shift(n int) Data {
	if n <= 0 {
		return Data{pool: d.pool}
	}
	if n > d.size {
		n = d.size
	}

	out := Data{pool: d.pool}
	remaining := n
	idx := 0
	for remaining > 0 {
		v := d.views[idx]
		if v.len <= remaining {
			v.c.retain()
			out.views = append(out.views, v)
			out.size += v.len
			remaining -= v.len
			idx++
			continue
		}

		v.c.retain()
		out.views = append(out.views, view{c: v.c, off: v.off, len: remaining})
		out.size += remaining

		d.views[idx] = view{c: v.c, off: v.off + remaining, len: v.len - remaining}
		remaining = 0
	}

	// drop the fully-consumed leading views from d, releasing their old
	// retain (the one implicit in d's own ownership) since out now holds
	// an explicit retain of its own.
	for i := 0; i < idx; i++ {
		d.views[i].c.release()
	}
	d.views = append([]view{}, d.views[idx:]...)
	d.size -= n
	return out
}

// ShiftWhile removes and returns a prefix of d for as long as pred
// returns true for each successive byte, stopping at the first byte for
// which pred is false (or at the end of d). It implements the
// prefix-shift-while-predicate operation — e.g. consuming
// leading whitespace or digits without knowing the length up front.
func (d *Data) ShiftWhile(pred func(b byte) bool) Data {
	n := 0
	for n < d.size && pred(d.byteAt(n)) {
		n++
	}
	return d.Shift(n)
}

// byteAt returns the byte at logical offset i (0 <= i < d.size).
func (d Data) byteAt(i int) byte {
	for _, v := range d.views {
		if i < v.len {
			return v.c.buf[v.off+i]
		}
		i -= v.len
	}
	panic("databuf: byteAt out of range")
}

// At returns the byte at logical offset i.
func (d Data) At(i int) byte {
	if i < 0 || i >= d.size {
		panic("databuf: index out of range")
	}
	return d.byteAt(i)
}

// Range extracts the byte range [from, to) as a new Data sharing the
// underlying chunks (no copy). O(#views) overlapping the range.
func (d Data) Range(from, to int) Data {
	if from < 0 {
		from = 0
	}
	if to > d.size {
		to = d.size
	}
	if to <= from {
		return Data{pool: d.pool}
	}

	out := Data{pool: d.pool}
	pos := 0
	for _, v := range d.views {
		vStart, vEnd := pos, pos+v.len
		pos = vEnd
		if vEnd <= from || vStart >= to {
			continue
		}
		lo := from
		if lo < vStart {
			lo = vStart
		}
		hi := to
		if hi > vEnd {
			hi = vEnd
		}
		v.c.retain()
		out.views = append(out.views, view{c: v.c, off: v.off + (lo - vStart), len: hi - lo})
		out.size += hi - lo
	}
	return out
}

// Bytes materializes d's full content into one contiguous slice, copying
// across view boundaries. Use sparingly — it defeats the rope's point —
// but it's unavoidable at codec boundaries needing a flat []byte (e.g.
// passing a body to net/http or a protobuf unmarshal call).
func (d Data) Bytes() []byte {
	out := make([]byte, 0, d.size)
	for _, v := range d.views {
		out = append(out, v.c.buf[v.off:v.off+v.len]...)
	}
	return out
}

// IndexByte returns the logical offset of the first occurrence of b in d,
// or -1 if not present.
func (d Data) IndexByte(b byte) int {
	pos := 0
	for _, v := range d.views {
		for i := 0; i < v.len; i++ {
			if v.c.buf[v.off+i] == b {
				return pos + i
			}
		}
		pos += v.len
	}
	return -1
}

// Close releases every chunk referenced by d's views. After Close, d must
// not be used again. Filters that buffer Data across event boundaries
// (demux receivers, mux stream adapters) must Close what they discard.
func (d *Data) Close() {
	for _, v := range d.views {
		v.c.release()
	}
	d.views = nil
	d.size = 0
}

// Clone returns a Data aliasing the same chunks as d (incrementing every
// view's refcount), useful when a filter needs to hand the same body to
// two downstream consumers (e.g. logging and forwarding).
func (d Data) Clone() Data {
	out := Data{pool: d.pool, size: d.size}
	out.views = make([]view, len(d.views))
	for i, v := range d.views {
		v.c.retain()
		out.views[i] = v
	}
	return out
}

// ViewCount reports the number of views currently backing d — mostly
// useful for tests asserting the rope stays O(#views), not O(bytes).
func (d Data) ViewCount() int { return len(d.views) }
