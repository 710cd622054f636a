// Package util holds small generic helpers.
package util

// Ptr returns a pointer to v, for filling nullable fields from literals
// and loop variables.
func Ptr[T any](v T) *T {
	return &v
}
