// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import "sync"

// PeerTrust implements the banned/trusted identity-string sets of §4.8: a
// peer is trusted iff it is either in the trusted set or absent from the
// banned set; if the trusted set is non-empty, only its members are
// trusted. Per spec.md §1's Non-goals, this is identity-string comparison
// only -- no cryptographic verification is in scope.
type PeerTrust struct {
	mu      sync.RWMutex
	trusted map[string]struct{}
	banned  map[string]struct{}
}

// NewPeerTrust builds a PeerTrust from the given identity lists.
func NewPeerTrust(trusted, banned []string) *PeerTrust {
	t := &PeerTrust{
		trusted: make(map[string]struct{}, len(trusted)),
		banned:  make(map[string]struct{}, len(banned)),
	}
	for _, p := range trusted {
		t.trusted[p] = struct{}{}
	}
	for _, p := range banned {
		t.banned[p] = struct{}{}
	}
	return t
}

// IsTrusted implements the §4.8 rule.
func (t *PeerTrust) IsTrusted(peer string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.trusted) > 0 {
		_, ok := t.trusted[peer]
		return ok
	}
	_, banned := t.banned[peer]
	return !banned
}

// Ban adds peer to the banned set.
func (t *PeerTrust) Ban(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.banned[peer] = struct{}{}
}

// Trust adds peer to the trusted set.
func (t *PeerTrust) Trust(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trusted[peer] = struct{}{}
}
