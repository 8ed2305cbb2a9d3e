package combat

import "time"

const windowDuration = time.Second

// outcomeSample is one observed value with its arrival time, held in the
// sliding window until it ages out past windowDuration.
type outcomeSample struct {
	at    time.Time
	value int64
}

// StatisticBlock is a per-actor-per-channel accumulator: damage or
// healing totals split into four outcome bins, a count per bin, a
// sliding 1-second window for rate computation, and the active
// interval's [start, last] bounds.
type StatisticBlock struct {
	Normal    int64 `json:"normal"`
	Critical  int64 `json:"critical"`
	Lucky     int64 `json:"lucky"`
	CritLucky int64 `json:"critLucky"`
	Total     int64 `json:"total"`

	HPLessenTotal int64 `json:"hpLessenTotal"`

	CountNormal    int `json:"countNormal"`
	CountCritical  int `json:"countCritical"`
	CountLucky     int `json:"countLucky"`
	CountCritLucky int `json:"countCritLucky"`
	Count          int `json:"count"`

	window   []outcomeSample
	peakRate int64

	Start time.Time `json:"start"`
	Last  time.Time `json:"last"`
}

// record applies one outcome value to the block: updates the correct
// bin, the running total, the sliding window, and the active interval.
// hpLessen is added to HPLessenTotal unconditionally (zero for healing).
func (b *StatisticBlock) record(now time.Time, value, hpLessen int64, crit, lucky bool) {
	switch {
	case crit && lucky:
		b.CritLucky += value
		b.CountCritLucky++
	case crit:
		b.Critical += value
		b.CountCritical++
	case lucky:
		b.Lucky += value
		b.CountLucky++
	default:
		b.Normal += value
		b.CountNormal++
	}

	b.Total += value
	b.Count++
	b.HPLessenTotal += hpLessen

	if b.Start.IsZero() {
		b.Start = now
	}

	b.Last = now

	b.window = append(b.window, outcomeSample{at: now, value: value})
	b.evictWindow(now)
	b.updatePeak(now)
}

// evictWindow drops entries older than windowDuration relative to now.
func (b *StatisticBlock) evictWindow(now time.Time) {
	cutoff := now.Add(-windowDuration)

	i := 0
	for ; i < len(b.window); i++ {
		if !b.window[i].at.Before(cutoff) {
			break
		}
	}

	if i > 0 {
		b.window = append([]outcomeSample(nil), b.window[i:]...)
	}
}

// currentRate sums window entries after evicting stale ones.
func (b *StatisticBlock) currentRate(now time.Time) int64 {
	b.evictWindow(now)

	var sum int64
	for _, s := range b.window {
		sum += s.value
	}

	return sum
}

// updatePeak recomputes the current rate and advances peakRate if it
// grew; peakRate is non-decreasing for the block's lifetime.
func (b *StatisticBlock) updatePeak(now time.Time) {
	if rate := b.currentRate(now); rate > b.peakRate {
		b.peakRate = rate
	}
}

// sessionRate returns total / elapsed seconds, zero if the interval is
// empty.
func (b *StatisticBlock) sessionRate() float64 {
	elapsed := b.Last.Sub(b.Start).Seconds()
	if elapsed <= 0 {
		return 0
	}

	return float64(b.Total) / elapsed
}

// Rates is the read-side view of a StatisticBlock's derived rate fields,
// recomputed at snapshot time.
type Rates struct {
	Current int64   `json:"current"`
	Peak    int64   `json:"peak"`
	Session float64 `json:"session"`
}

func (b *StatisticBlock) rates(now time.Time) Rates {
	b.updatePeak(now)

	return Rates{
		Current: b.currentRate(now),
		Peak:    b.peakRate,
		Session: b.sessionRate(),
	}
}

// clone returns a deep, independent copy safe to hand to a reader outside
// the dispatcher's lock.
func (b *StatisticBlock) clone() StatisticBlock {
	cp := *b
	cp.window = append([]outcomeSample(nil), b.window...)

	return cp
}
