package vram

import "fmt"

// modelNotFoundError indicates a name with no registry entry.
type modelNotFoundError struct{ name string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.name }

// IsModelNotFound reports whether err indicates a missing registry entry.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// budgetExceededError indicates a light model that does not fit even after
// every heavy model was evicted. The budget is sized to hold all light
// models combined, so this is a fatal configuration error, never a
// transient scheduling condition.
type budgetExceededError struct {
	name     string
	needGB   float64
	usedGB   float64
	budgetGB float64
}

func (e budgetExceededError) Error() string {
	return fmt.Sprintf("vram budget exceeded admitting %s: need %.1fGB, used %.1fGB of %.1fGB",
		e.name, e.needGB, e.usedGB, e.budgetGB)
}

// IsBudgetExceeded reports whether err is the fatal over-budget condition.
func IsBudgetExceeded(err error) bool {
	_, ok := err.(budgetExceededError)
	return ok
}
