// Package failure defines the typed failures surfaced by hub clients.
//
// A failure is a *Error tagged with a Kind. Each Kind is fixed to exactly one
// status.Category, which is the value callers branch on:
//
//	var f *failure.Error
//	if errors.As(err, &f) && f.Category() == status.CategoryUnauthorized {
//	    // rotate credentials
//	}
//
// Every Kind also has a sentinel so errors.Is works without a type assertion:
//
//	if errors.Is(err, failure.ErrThrottled) { ... }
package failure
