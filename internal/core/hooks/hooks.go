// Package hooks evaluates the low wasm memory hook condition.
package hooks

import "github.com/yndnr/snapmesh-go/internal/core/domain"

// Evaluate returns the hook status the canister should have given its
// current settings and usage. An Executed status is kept while the
// condition still holds; only the scheduler moves a hook to Executed.
func Evaluate(c *domain.Canister) domain.HookStatus {
	if !ConditionHolds(c) {
		return domain.HookConditionNotSatisfied
	}
	if c.HookStatus == domain.HookExecuted {
		return domain.HookExecuted
	}
	return domain.HookReady
}

// Update stores the evaluated status on the canister and reports whether
// it changed.
func Update(c *domain.Canister) bool {
	next := Evaluate(c)
	if next == c.HookStatus {
		return false
	}
	c.HookStatus = next
	return true
}

// ConditionHolds reports whether wasm memory usage has reached the trigger
// point. Without a threshold, or without any limit to measure against, the
// condition never holds.
func ConditionHolds(c *domain.Canister) bool {
	trigger, ok := TriggerPoint(c)
	if !ok {
		return false
	}
	return c.WasmMemoryUsage() >= trigger
}

// TriggerPoint returns the wasm memory usage at which the hook fires: the
// smaller of (wasm memory limit - threshold) and (memory allocation -
// non-wasm usage - threshold), over whichever limits are set.
func TriggerPoint(c *domain.Canister) (uint64, bool) {
	s := c.Settings
	if s.WasmMemoryThreshold == 0 {
		return 0, false
	}

	var (
		trigger uint64
		found   bool
	)
	consider := func(capacity uint64) {
		t := satSub(capacity, s.WasmMemoryThreshold)
		if !found || t < trigger {
			trigger = t
			found = true
		}
	}

	if s.WasmMemoryLimit > 0 {
		consider(s.WasmMemoryLimit)
	}
	if s.MemoryAllocation > 0 {
		consider(satSub(s.MemoryAllocation, nonWasmUsage(c)))
	}
	return trigger, found
}

func nonWasmUsage(c *domain.Canister) uint64 {
	return satSub(c.MemoryUsage(), c.WasmMemoryUsage())
}

func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
