package batchz

import "github.com/zoobzio/clockz"

// Clock provides time operations for latency windows and stats reporting,
// and lets tests drive time deterministically.
type Clock = clockz.Clock

// Timer represents a single event timer.
type Timer = clockz.Timer

// Ticker delivers ticks at intervals.
type Ticker = clockz.Ticker

// RealClock is the default Clock using standard time.
var RealClock Clock = clockz.RealClock
