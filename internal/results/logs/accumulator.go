package logs

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vladiki/Lean/internal/common/config"
)

const timestampLayout = "2006-01-02 15:04:05"

// Line is a single timestamped log line.
type Line struct {
	Time time.Time
	Text string
}

func (l Line) String() string {
	return fmt.Sprintf("%s %s\n", l.Time.UTC().Format(timestampLayout), l.Text)
}

type FlushResult struct {
	// Text is the persisted log, including the truncation notice if there is one.
	Text string
	// Truncated is true if some lines did not fit the quota.
	Truncated bool
	// BytesUsed counts the log lines written, excluding the notice.
	BytesUsed int64
}

// Accumulator buffers every log line of a run until it is flushed at teardown.
// Memory is unbounded during the run; the quota only applies to what is flushed.
type Accumulator struct {
	mu    sync.Mutex
	lines []Line
	bytes int64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) Append(t time.Time, text string) {
	line := Line{Time: t, Text: text}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, line)
	a.bytes += int64(len(line.String()))
}

// Len returns the number of lines appended so far.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lines)
}

// Size returns the number of bytes the unabridged log would take.
func (a *Accumulator) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes
}

// Flush concatenates lines in order until the next one would take the output over quota bytes.
// If lines are left over, a notice naming the quota is appended.
func (a *Accumulator) Flush(quota int64) FlushResult {
	return a.FlushWithNotice(quota, TruncationNotice(quota, 0))
}

// FlushWithNotice is Flush with a caller supplied truncation notice.
func (a *Accumulator) FlushWithNotice(quota int64, notice string) FlushResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sb strings.Builder
	var used int64
	truncated := false
	for _, line := range a.lines {
		s := line.String()
		if used+int64(len(s)) > quota {
			truncated = true
			break
		}
		sb.WriteString(s)
		used += int64(len(s))
	}
	if truncated {
		sb.WriteString(notice)
	}
	return FlushResult{Text: sb.String(), Truncated: truncated, BytesUsed: used}
}

// TruncationNotice is the line appended to a log that did not fit the allowance.
// perDayCap is omitted when zero.
func TruncationNotice(perRunCap, perDayCap int64) string {
	if perDayCap > 0 {
		return fmt.Sprintf(
			"\nLog truncated: runs may persist at most %s of log data, and %s in total per day. "+
				"Contact support to request a larger log allowance.\n",
			config.ByteSize(perRunCap), config.ByteSize(perDayCap))
	}
	return fmt.Sprintf(
		"\nLog truncated: this run could persist at most %s of log data. "+
			"Contact support to request a larger log allowance.\n",
		config.ByteSize(perRunCap))
}
