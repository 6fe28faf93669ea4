package utils

// Ptr returns a pointer to v. Handy for optional fields of wire types.
func Ptr[T any](v T) *T {
	return &v
}
