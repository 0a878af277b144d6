// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "sync"

// ProviderStats counts stream outcomes for one provider.
type ProviderStats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Masked    int64 `json:"masked"`
	Errors    int64 `json:"errors"`
	Cancelled int64 `json:"cancelled"`
}

// Stats tracks ProviderStats per provider key.
type Stats struct {
	mu        sync.Mutex
	providers map[string]*ProviderStats
}

func newStats() *Stats {
	return &Stats{providers: make(map[string]*ProviderStats)}
}

func (s *Stats) record(provider string, fn func(*ProviderStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.providers[provider]
	if !ok {
		ps = &ProviderStats{}
		s.providers[provider] = ps
	}
	fn(ps)
}

func (s *Stats) started(p string)   { s.record(p, func(ps *ProviderStats) { ps.Started++ }) }
func (s *Stats) completed(p string) { s.record(p, func(ps *ProviderStats) { ps.Completed++ }) }
func (s *Stats) masked(p string)    { s.record(p, func(ps *ProviderStats) { ps.Masked++ }) }
func (s *Stats) errored(p string)   { s.record(p, func(ps *ProviderStats) { ps.Errors++ }) }
func (s *Stats) cancelled(p string) { s.record(p, func(ps *ProviderStats) { ps.Cancelled++ }) }

// Snapshot returns a copy of every counter.
func (s *Stats) Snapshot() map[string]ProviderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ProviderStats, len(s.providers))
	for k, v := range s.providers {
		out[k] = *v
	}
	return out
}
