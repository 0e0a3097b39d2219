// Package validation holds constructor guards for mandatory dependencies.
package validation

import "fmt"

// AssertNotNil panics when ptr is nil. Constructors call it for
// dependencies without which the component cannot work:
//
//	validation.AssertNotNil(pool, "database pool")
//
// A nil here is a wiring bug, not a runtime condition.
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertNotNilInterface is AssertNotNil for interface-typed dependencies.
func AssertNotNilInterface(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}
