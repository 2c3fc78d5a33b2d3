package domain

import "fmt"

// PatchID identifies one tracked unit in the range [1, N].
type PatchID int

// Patches returns the fixed id range [1, n].
func Patches(n int) []PatchID {
	if n <= 0 {
		return nil
	}
	ids := make([]PatchID, n)
	for i := range ids {
		ids[i] = PatchID(i + 1)
	}
	return ids
}

// ValidatePatch checks id against the deployment's patch count.
func ValidatePatch(id PatchID, n int) error {
	if id < 1 || int(id) > n {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidPatch, id, n)
	}
	return nil
}
