package notify

import (
	"sync"

	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

// RunCounts is the number of packets of each kind sent for one run.
type RunCounts struct {
	Debug         int
	SecurityTypes int
	RuntimeErrors int
	HandledErrors int
	Results       int
	FinalResults  int
}

// Counter counts the packets sent for each run without retaining them.
type Counter struct {
	mu   sync.Mutex
	runs map[string]*RunCounts
}

func NewCounter() *Counter {
	return &Counter{runs: map[string]*RunCounts{}}
}

func (c *Counter) SendDebug(_ *runctx.Context, packet model.DebugPacket) error {
	c.increment(packet.Identity.RunId, func(counts *RunCounts) { counts.Debug++ })
	return nil
}

func (c *Counter) SendSecurityTypes(_ *runctx.Context, packet model.SecurityTypesPacket) error {
	c.increment(packet.Identity.RunId, func(counts *RunCounts) { counts.SecurityTypes++ })
	return nil
}

func (c *Counter) SendRuntimeError(_ *runctx.Context, packet model.RuntimeErrorPacket) error {
	c.increment(packet.Identity.RunId, func(counts *RunCounts) { counts.RuntimeErrors++ })
	return nil
}

func (c *Counter) SendHandledError(_ *runctx.Context, packet model.HandledErrorPacket) error {
	c.increment(packet.Identity.RunId, func(counts *RunCounts) { counts.HandledErrors++ })
	return nil
}

func (c *Counter) SendResult(_ *runctx.Context, packet *model.ResultPacket, final bool) error {
	c.increment(packet.Identity.RunId, func(counts *RunCounts) {
		counts.Results++
		if final {
			counts.FinalResults++
		}
	})
	return nil
}

// Counts returns the counts for runId. A run that has sent nothing has zero counts.
func (c *Counter) Counts(runId string) RunCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	if counts, ok := c.runs[runId]; ok {
		return *counts
	}
	return RunCounts{}
}

// Forget drops the counts held for runId.
func (c *Counter) Forget(runId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, runId)
}

func (c *Counter) increment(runId string, f func(counts *RunCounts)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts, ok := c.runs[runId]
	if !ok {
		counts = &RunCounts{}
		c.runs[runId] = counts
	}
	f(counts)
}
