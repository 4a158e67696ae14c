// Package progress provides the sinks that report per-file transfer progress.
// Sinks write to the diagnostic stream only; stdout carries file names.
package progress

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/sendgrab/sendgrab/internal/transfer/types"
)

// Silent returns a sink that drops every event.
func Silent() types.ProgressFunc {
	return func(string, float64) {}
}

// Verbose returns a sink that writes "<stage> <percent>%" lines to w.
// The sink is safe for concurrent use.
func Verbose(w io.Writer) types.ProgressFunc {
	var mu sync.Mutex
	return func(stage string, percent float64) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%s %g%%\n", stage, round(percent))
	}
}

// Throttled wraps sink so that each stage only reports when its integer
// percentage changes. Large files otherwise emit thousands of identical lines.
func Throttled(sink types.ProgressFunc) types.ProgressFunc {
	var mu sync.Mutex
	last := make(map[string]int)
	return func(stage string, percent float64) {
		p := int(math.Floor(clamp(percent)))
		mu.Lock()
		prev, seen := last[stage]
		if seen && prev == p {
			mu.Unlock()
			return
		}
		last[stage] = p
		mu.Unlock()
		sink(stage, percent)
	}
}

// New picks the sink for a run.
func New(verbose bool, w io.Writer) types.ProgressFunc {
	if !verbose {
		return Silent()
	}
	return Throttled(Verbose(w))
}

// Prefixed labels every stage with the file being transferred.
func Prefixed(sink types.ProgressFunc, prefix string) types.ProgressFunc {
	if sink == nil {
		return Silent()
	}
	return func(stage string, percent float64) {
		sink(prefix+" "+stage, percent)
	}
}

func round(p float64) float64 {
	return math.Round(clamp(p)*10) / 10
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
