package common

// Float64 returns a pointer to v. Handy for building nullable measurement
// fields in code and tests.
func Float64(v float64) *float64 {
	return &v
}

// Float64Equal compares two nullable floats; two nils are equal.
func Float64Equal(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
