package partition

import (
	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/memory"
)

// Kind tells which interpretation a raw memory is under.
type Kind int

const (
	// KindLegacy is raw memory holding a single flat blob at offset 0.
	KindLegacy Kind = iota
	// KindPartitioned is raw memory managed by Partitions.
	KindPartitioned
)

func (k Kind) String() string {
	if k == KindPartitioned {
		return "partitioned"
	}
	return "legacy"
}

// Layout is either Legacy(raw) or Partitioned(*Partitions), decided once at
// load.
type Layout struct {
	raw   memory.Memory
	parts *Partitions
}

// Legacy returns the legacy interpretation of raw.
func Legacy(raw memory.Memory) Layout {
	return Layout{raw: raw}
}

// Partitioned returns the managed interpretation of p.
func Partitioned(p *Partitions) Layout {
	return Layout{raw: p.Raw(), parts: p}
}

// Detect interprets raw as partitioned when it carries a header and as
// legacy otherwise. A corrupt header is an error.
func Detect(raw memory.Memory) (Layout, error) {
	p, err := TryFromMemory(raw)
	switch {
	case err == nil:
		return Partitioned(p), nil
	case errors.Is(err, ErrNotPartitioned):
		return Legacy(raw), nil
	default:
		return Layout{}, err
	}
}

// Kind reports the interpretation.
func (l Layout) Kind() Kind {
	if l.parts != nil {
		return KindPartitioned
	}
	return KindLegacy
}

// Raw returns the raw memory under either interpretation.
func (l Layout) Raw() memory.Memory {
	return l.raw
}

// Partitions returns the managed memory, or nil for the legacy layout.
func (l Layout) Partitions() *Partitions {
	return l.parts
}
