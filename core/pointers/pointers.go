// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package pointers builds and reads the optional fields of partial updates
package pointers

// To returns a pointer to a copy of v
func To[T any](v T) *T {
	return &v
}

// Deref returns the value from ptr or the zero value if the pointer is nil
func Deref[T any](ptr *T) T {
	if ptr != nil {
		return *ptr
	}
	var zero T
	return zero
}

// Or returns the value from ptr or fallback if the pointer is nil
func Or[T any](ptr *T, fallback T) T {
	if ptr != nil {
		return *ptr
	}
	return fallback
}
