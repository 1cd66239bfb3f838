package sampling

import (
	"math"
	"time"
)

const (
	DefaultSampleBudget       = 4000
	DefaultMinResamplePeriod  = 4 * time.Minute
	DefaultNotificationPeriod = 2 * time.Second
	DefaultStoragePeriod      = 30 * time.Second
	DefaultProgressCeiling    = 0.999
)

// ResamplePeriod returns the interval of simulated time between chart samples so that a run from start to end
// produces roughly budget samples, but never samples more often than floor.
func ResamplePeriod(start, end time.Time, budget int, floor time.Duration) time.Duration {
	if budget <= 0 || !end.After(start) {
		return floor
	}
	totalMinutes := end.Sub(start).Minutes()
	period := time.Duration(totalMinutes / float64(budget) * float64(time.Minute))
	if period < floor {
		return floor
	}
	return period
}

// JobDays returns the number of simulated days between start and end, counting a partial day as a whole one.
func JobDays(start, end time.Time) int {
	days := int(math.Ceil(end.Sub(start).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

// Progress returns daysProcessed/jobDays clamped to [0, ceiling].
// 1.0 is reserved for the final result.
func Progress(daysProcessed, jobDays int, ceiling float64) float64 {
	if jobDays <= 0 || daysProcessed <= 0 {
		return 0
	}
	return math.Min(ceiling, float64(daysProcessed)/float64(jobDays))
}

// Throttle gates periodic work on both wall-clock time and simulation progress.
// It is owned by the dispatcher goroutine and is not safe for concurrent use.
type Throttle struct {
	notificationPeriod time.Duration
	storagePeriod      time.Duration
	nextUpdate         time.Time
	nextStore          time.Time
	lastDaysProcessed  int
}

func NewThrottle(now time.Time, notificationPeriod, storagePeriod time.Duration) *Throttle {
	return &Throttle{
		notificationPeriod: notificationPeriod,
		storagePeriod:      storagePeriod,
		nextUpdate:         now,
		nextStore:          now.Add(storagePeriod),
	}
}

// UpdateDue returns true once now has passed the next update deadline and at least one more full simulated
// day has completed since the last update.
func (t *Throttle) UpdateDue(now time.Time, daysProcessed int) bool {
	return now.After(t.nextUpdate) && daysProcessed > t.lastDaysProcessed+1
}

// MarkUpdated records a successful update.
func (t *Throttle) MarkUpdated(now time.Time, daysProcessed int) {
	t.nextUpdate = now.Add(t.notificationPeriod)
	t.lastDaysProcessed = daysProcessed
}

// StoreDue reports whether a full snapshot should be persisted.
func (t *Throttle) StoreDue(now time.Time) bool {
	return now.After(t.nextStore)
}

func (t *Throttle) MarkStored(now time.Time) {
	t.nextStore = now.Add(t.storagePeriod)
}

// Sampler decides when the simulation should record its periodic equity and benchmark samples.
// Time here is simulated time, not wall-clock time.
type Sampler struct {
	period time.Duration
	next   time.Time
}

func NewSampler(start time.Time, period time.Duration) *Sampler {
	return &Sampler{period: period, next: start}
}

func (s *Sampler) Period() time.Duration {
	return s.period
}

// Due returns true if simTime has reached the next sample time.
func (s *Sampler) Due(simTime time.Time) bool {
	return !simTime.Before(s.next)
}

// Advance schedules the next sample one period after simTime.
func (s *Sampler) Advance(simTime time.Time) {
	s.next = simTime.Add(s.period)
}
