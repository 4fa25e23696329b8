// Package cache provides a byte-budgeted LRU for decoded records.
//
// The stable account store keeps recently read account values here so that
// repeated lookups of hot keys do not go back to the partition.
// Reservations are tracked through an optional resource.Controller.
package cache
