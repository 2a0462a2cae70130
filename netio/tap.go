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

package netio

import "sync"

// Tap is the congestion controller gating a Conn's read pump:
// downstream (a slow filter chain, a backed-up write queue on the other
// leg of a proxied pair) closes the tap to pause reads without tearing
// the connection down, and opens it again once it has caught up.
type Tap struct {
	mu   sync.Mutex
	cond *sync.Cond
	open bool
}

// NewTap returns a Tap that starts open.
func NewTap() *Tap {
	t := &Tap{open: true}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Close pauses the read pump; in-flight reads finish, but the pump blocks
// in Wait before issuing its next one.
func (t *Tap) Close() {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()
}

// Open resumes the read pump.
func (t *Tap) Open() {
	t.mu.Lock()
	t.open = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

// IsOpen reports the current state without blocking.
func (t *Tap) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Wait blocks until the tap is open.
func (t *Tap) Wait() {
	t.mu.Lock()
	for !t.open {
		t.cond.Wait()
	}
	t.mu.Unlock()
}
