// Package testutil provides seeded generators for tests.
//
// This package is intended for use in tests only.
//
//	rng := testutil.NewRNG(seed)
//	keys, err := rng.Populate(eng, 100) // 100 random accounts
package testutil
