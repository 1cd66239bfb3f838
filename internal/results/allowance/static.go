// Package allowance provides sources of per-user log allowances.
package allowance

import (
	"sync"

	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

// Static hands every user the same allowance and keeps usage in memory.
type Static struct {
	mu        sync.Mutex
	allowance model.LogAllowance
	usages    []model.LogUsage
}

func NewStatic(allowance model.LogAllowance) *Static {
	return &Static{allowance: allowance}
}

func (s *Static) ReadLogAllowance(_ *runctx.Context, _ int, _ string) (model.LogAllowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowance, nil
}

func (s *Static) RecordLogUsage(_ *runctx.Context, usage model.LogUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usages = append(s.usages, usage)
	s.allowance.RemainingToday -= usage.BytesUsed
	return nil
}

// Usages returns the usage recorded so far.
func (s *Static) Usages() []model.LogUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LogUsage, len(s.usages))
	copy(out, s.usages)
	return out
}
