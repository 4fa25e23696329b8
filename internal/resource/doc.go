// Package resource bounds the memory, concurrency and IO bandwidth used
// outside the engine's serialized core: the record cache of the stable
// account store and the archive transfer workers.
//
// A nil *Controller is valid and imposes no limits.
package resource
