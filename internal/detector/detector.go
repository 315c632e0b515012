// Package detector provides pluggable failure-detection strategies for
// circuit breakers. A detector is a pure function of its input: it decides
// whether accumulated failures justify opening a breaker, and never mutates
// breaker state itself.
package detector

import (
	"fmt"
	"time"
)

// Strategy identifies a failure-detection algorithm.
type Strategy string

const (
	// StrategySimpleThreshold opens on the all-time failure ratio.
	StrategySimpleThreshold Strategy = "simple_threshold"

	// StrategySlidingWindow opens on the failure ratio over a recent
	// time window, discarding older samples.
	StrategySlidingWindow Strategy = "sliding_window"

	// StrategyAdaptive uses the effective threshold computed by the
	// adaptive threshold engine in place of the configured one.
	StrategyAdaptive Strategy = "adaptive"

	// StrategyAnomaly is an extension point for a statistical detector.
	StrategyAnomaly Strategy = "anomaly"
)

// Valid reports whether the strategy is a known one.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySimpleThreshold, StrategySlidingWindow, StrategyAdaptive, StrategyAnomaly:
		return true
	}
	return false
}

// Sample is a single recorded outcome.
type Sample struct {
	At      time.Time
	Success bool
}

// Input is a read-only view of a breaker's configuration and metrics.
type Input struct {
	// FailureThreshold is the statically configured failure-rate threshold.
	FailureThreshold float64

	// EffectiveThreshold is the adaptively recalibrated threshold.
	// Zero means no recalibration has happened yet.
	EffectiveThreshold float64

	// MinimumSamples is the minimum observation count before the ratio
	// test applies.
	MinimumSamples int

	// WindowLength bounds the sliding-window detector's memory.
	WindowLength time.Duration

	// Failures and Total are the all-time counters for the current
	// evaluation window.
	Failures int
	Total    int

	// Window holds timestamped recent outcomes, oldest first.
	Window []Sample

	// Now is the evaluation time.
	Now time.Time
}

// Verdict is the result of a detector evaluation.
type Verdict struct {
	Open   bool
	Reason string
}

// Detector decides whether a breaker should open.
type Detector interface {
	Evaluate(in Input) (Verdict, error)
}

// ForStrategy returns the detector implementing the given strategy.
func ForStrategy(s Strategy) (Detector, error) {
	switch s {
	case StrategySimpleThreshold:
		return SimpleThreshold{}, nil
	case StrategySlidingWindow:
		return SlidingWindow{}, nil
	case StrategyAdaptive:
		return AdaptiveThreshold{}, nil
	case StrategyAnomaly:
		return AnomalyBased{}, nil
	default:
		return nil, fmt.Errorf("unknown detection strategy %q", s)
	}
}

// SimpleThreshold opens when failures/total meets the configured threshold,
// given at least MinimumSamples observations.
type SimpleThreshold struct{}

// Evaluate implements Detector.
func (SimpleThreshold) Evaluate(in Input) (Verdict, error) {
	if in.Total < in.MinimumSamples {
		return Verdict{Reason: fmt.Sprintf("insufficient samples: %d of %d", in.Total, in.MinimumSamples)}, nil
	}
	ratio := ratio(in.Failures, in.Total)
	if ratio >= in.FailureThreshold {
		return Verdict{
			Open:   true,
			Reason: fmt.Sprintf("failure rate %.3f reached threshold %.3f over %d samples", ratio, in.FailureThreshold, in.Total),
		}, nil
	}
	return Verdict{Reason: fmt.Sprintf("failure rate %.3f below threshold %.3f", ratio, in.FailureThreshold)}, nil
}

// SlidingWindow applies the same ratio test, computed only over samples
// within WindowLength of the evaluation time.
type SlidingWindow struct{}

// Evaluate implements Detector.
func (SlidingWindow) Evaluate(in Input) (Verdict, error) {
	cutoff := in.Now.Add(-in.WindowLength)

	var failures, total int
	for _, s := range in.Window {
		if s.At.Before(cutoff) {
			continue
		}
		total++
		if !s.Success {
			failures++
		}
	}

	if total < in.MinimumSamples {
		return Verdict{Reason: fmt.Sprintf("insufficient windowed samples: %d of %d", total, in.MinimumSamples)}, nil
	}
	r := ratio(failures, total)
	if r >= in.FailureThreshold {
		return Verdict{
			Open:   true,
			Reason: fmt.Sprintf("windowed failure rate %.3f reached threshold %.3f over %d samples in %s", r, in.FailureThreshold, total, in.WindowLength),
		}, nil
	}
	return Verdict{Reason: fmt.Sprintf("windowed failure rate %.3f below threshold %.3f", r, in.FailureThreshold)}, nil
}

// AdaptiveThreshold behaves like SimpleThreshold but tests against the
// effective threshold computed by the adaptive threshold engine, falling
// back to the configured threshold before the first recalibration.
type AdaptiveThreshold struct{}

// Evaluate implements Detector.
func (AdaptiveThreshold) Evaluate(in Input) (Verdict, error) {
	threshold := in.EffectiveThreshold
	if threshold <= 0 {
		threshold = in.FailureThreshold
	}

	if in.Total < in.MinimumSamples {
		return Verdict{Reason: fmt.Sprintf("insufficient samples: %d of %d", in.Total, in.MinimumSamples)}, nil
	}
	r := ratio(in.Failures, in.Total)
	if r >= threshold {
		return Verdict{
			Open:   true,
			Reason: fmt.Sprintf("failure rate %.3f reached adaptive threshold %.3f (baseline %.3f)", r, threshold, in.FailureThreshold),
		}, nil
	}
	return Verdict{Reason: fmt.Sprintf("failure rate %.3f below adaptive threshold %.3f", r, threshold)}, nil
}

// AnomalyBased is a drop-in extension point for a statistical or ML-backed
// detector. Until an Evaluator is installed it defers to SimpleThreshold so
// breakers configured with the strategy still get baseline protection.
type AnomalyBased struct {
	// Evaluator, when set, replaces the fallback evaluation.
	Evaluator func(in Input) (Verdict, error)
}

// Evaluate implements Detector.
func (a AnomalyBased) Evaluate(in Input) (Verdict, error) {
	if a.Evaluator != nil {
		return a.Evaluator(in)
	}
	v, err := SimpleThreshold{}.Evaluate(in)
	if err != nil {
		return v, err
	}
	v.Reason = "anomaly detector not installed; " + v.Reason
	return v, nil
}

func ratio(failures, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}
