// Package perf records recent performance samples and exceptional
// transaction IDs. Everything here is diagnostic: limits evict silently and
// decode failures degrade to empty counts.
package perf

import (
	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/internal/record"
)

const (
	// MaxSamples is the ring buffer capacity.
	MaxSamples = 100
	// MaxExceptionalTransactions is the number of exceptional transaction IDs kept.
	MaxExceptionalTransactions = 1000
)

// Sample is one counter reading.
type Sample struct {
	TimestampNs uint64
	Name        string
	Counter     uint64
}

// Counts holds the samples, oldest first, and the exceptional transaction
// IDs, most recent first.
type Counts struct {
	samples       []Sample
	exceptional   []uint64
	periodicTasks uint32
	hasPeriodic   bool
}

// New returns empty counts.
func New() *Counts {
	return &Counts{}
}

// Record appends s, evicting the oldest sample when full.
func (c *Counts) Record(s Sample) {
	if len(c.samples) >= MaxSamples {
		copy(c.samples, c.samples[1:])
		c.samples = c.samples[:len(c.samples)-1]
	}
	c.samples = append(c.samples, s)
}

// Samples returns a copy of the samples, oldest first.
func (c *Counts) Samples() []Sample {
	return append([]Sample(nil), c.samples...)
}

// RecordExceptionalTransaction prepends id, dropping the oldest beyond the cap.
func (c *Counts) RecordExceptionalTransaction(id uint64) {
	c.exceptional = append(c.exceptional, 0)
	copy(c.exceptional[1:], c.exceptional)
	c.exceptional[0] = id
	if len(c.exceptional) > MaxExceptionalTransactions {
		c.exceptional = c.exceptional[:MaxExceptionalTransactions]
	}
}

// ExceptionalTransactions returns the IDs, most recent first.
func (c *Counts) ExceptionalTransactions() []uint64 {
	return append([]uint64(nil), c.exceptional...)
}

// IncrementPeriodicTasks counts one run of the periodic task.
func (c *Counts) IncrementPeriodicTasks() {
	c.periodicTasks++
	c.hasPeriodic = true
}

// PeriodicTasks returns the periodic task count; ok is false if it never ran.
func (c *Counts) PeriodicTasks() (n uint32, ok bool) {
	return c.periodicTasks, c.hasPeriodic
}

const (
	fieldSample      = 1
	fieldExceptional = 2
	fieldPeriodic    = 3

	fieldTimestamp = 1
	fieldName      = 2
	fieldCounter   = 3
)

// MarshalBinary encodes the counts.
func (c *Counts) MarshalBinary() ([]byte, error) {
	e := record.NewEncoder(len(c.samples)*32 + len(c.exceptional)*4)
	for _, s := range c.samples {
		e.Message(fieldSample, func(e *record.Encoder) {
			e.Varint(fieldTimestamp, s.TimestampNs)
			e.String(fieldName, s.Name)
			e.Varint(fieldCounter, s.Counter)
		})
	}
	for _, id := range c.exceptional {
		e.Varint(fieldExceptional, id)
	}
	if c.hasPeriodic {
		e.Varint(fieldPeriodic, uint64(c.periodicTasks))
	}
	return e.Result(), nil
}

// Unmarshal decodes counts written by MarshalBinary. Limits are reapplied.
func Unmarshal(b []byte) (*Counts, error) {
	c := New()
	err := record.Fields(b, func(f record.Field) error {
		switch f.Num {
		case fieldSample:
			var s Sample
			if err := record.Fields(f.Bytes, func(f record.Field) error {
				switch f.Num {
				case fieldTimestamp:
					s.TimestampNs = f.Varint
				case fieldName:
					s.Name = f.String()
				case fieldCounter:
					s.Counter = f.Varint
				}
				return nil
			}); err != nil {
				return err
			}
			c.Record(s)
		case fieldExceptional:
			if len(c.exceptional) < MaxExceptionalTransactions {
				c.exceptional = append(c.exceptional, f.Varint)
			}
		case fieldPeriodic:
			c.periodicTasks = uint32(f.Varint)
			c.hasPeriodic = true
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode performance counts")
	}
	return c, nil
}

// UnmarshalLenient is Unmarshal that returns empty counts on error. The
// error is returned alongside so the caller can log it.
func UnmarshalLenient(b []byte) (*Counts, error) {
	c, err := Unmarshal(b)
	if err != nil {
		return New(), err
	}
	return c, nil
}
