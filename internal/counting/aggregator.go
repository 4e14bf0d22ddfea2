package counting

import (
	"math"
	"strconv"
	"time"
)

// EnterRecord is one Move-In column entry of the ledger.
type EnterRecord struct {
	Seq  int
	Time time.Time
}

// ExitRecord is one Move-Out column entry of the ledger.
type ExitRecord struct {
	Seq   int
	Time  time.Time
	Dwell float64
}

// Ledger holds the two parallel event columns. Rows align by index only:
// the Nth enter and the Nth exit may describe different tracks.
type Ledger struct {
	Enters []EnterRecord
	Exits  []ExitRecord
}

// Rows returns the number of rows an export of l contains.
func (l Ledger) Rows() int {
	return max(len(l.Enters), len(l.Exits))
}

// Clone returns a copy of l that shares no backing arrays with it.
func (l Ledger) Clone() Ledger {
	return Ledger{
		Enters: append([]EnterRecord(nil), l.Enters...),
		Exits:  append([]ExitRecord(nil), l.Exits...),
	}
}

// Aggregator owns the enter and exit sequence counters. Both start at zero
// and grow by exactly one per event for the lifetime of a run.
type Aggregator struct {
	ledger Ledger
}

// Enters is the current enter sequence counter.
func (a *Aggregator) Enters() int { return len(a.ledger.Enters) }

// Exits is the current exit sequence counter.
func (a *Aggregator) Exits() int { return len(a.ledger.Exits) }

// Enter records an enter at t and returns its sequence number.
func (a *Aggregator) Enter(t time.Time) int {
	seq := len(a.ledger.Enters) + 1
	a.ledger.Enters = append(a.ledger.Enters, EnterRecord{Seq: seq, Time: t})
	return seq
}

// Exit records an exit at t for a stay of frames frames at rate frames per
// second and returns its sequence number and dwell.
func (a *Aggregator) Exit(t time.Time, frames int64, rate float64) (int, float64) {
	seq := len(a.ledger.Exits) + 1
	d := Dwell(frames, rate)
	a.ledger.Exits = append(a.ledger.Exits, ExitRecord{Seq: seq, Time: t, Dwell: d})
	return seq, d
}

// Ledger returns a copy of the accumulated columns.
func (a *Aggregator) Ledger() Ledger {
	return a.ledger.Clone()
}

// Dwell converts a frame-index delta into seconds at rate, rounded to two
// decimals. Rounding is exact on the binary value, so a quotient that is
// exactly halfway rounds to even (1/8 s is 0.12, 3/8 s is 0.38). Negative
// deltas and non-positive rates yield zero.
func Dwell(frames int64, rate float64) float64 {
	if frames <= 0 || rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	v, _ := strconv.ParseFloat(strconv.FormatFloat(float64(frames)/rate, 'f', 2, 64), 64)
	return v
}
