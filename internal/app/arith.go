package app

import "fmt"

func addU64Checked(a, b uint64, what string) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, fmt.Errorf("%s overflow: %d + %d", what, a, b)
	}
	return a + b, nil
}

func mulU64Checked(a, b uint64, what string) (uint64, error) {
	if a != 0 && b > ^uint64(0)/a {
		return 0, fmt.Errorf("%s overflow: %d * %d", what, a, b)
	}
	return a * b, nil
}
