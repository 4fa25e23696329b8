package schema

import (
	"github.com/cockroachdb/errors"
)

// LabelSource reads the persisted label of managed memory.
type LabelSource interface {
	SchemaLabel() (Label, bool, error)
}

// LabelSink persists or clears the label of managed memory.
type LabelSink interface {
	SetSchemaLabel(Label) error
	ClearSchemaLabel() error
}

// Registry is the single source of truth for which layout is authoritative.
type Registry struct {
	labels []Label
}

// NewRegistry returns a registry of every known layout.
func NewRegistry() *Registry {
	return &Registry{labels: All()}
}

// Known reports whether l is registered.
func (r *Registry) Known(l Label) bool {
	for _, k := range r.labels {
		if k == l {
			return true
		}
	}
	return false
}

// Validate returns ErrUnknownLabel for a label that is not registered.
func (r *Registry) Validate(l Label) error {
	if !r.Known(l) {
		return errors.Wrapf(ErrUnknownLabel, "%s", l)
	}
	return nil
}

// Oldest returns the implied layout of unlabeled memory.
func (r *Registry) Oldest() Label {
	return r.labels[0]
}

// Authoritative returns the current layout. Without managed memory, or with
// managed memory that was never labeled, the oldest layout is implied.
func (r *Registry) Authoritative(src LabelSource) (Label, error) {
	if src == nil {
		return r.Oldest(), nil
	}
	l, ok, err := src.SchemaLabel()
	if err != nil {
		return 0, err
	}
	if !ok {
		return r.Oldest(), nil
	}
	if err := r.Validate(l); err != nil {
		return 0, err
	}
	return l, nil
}

// Commit records l as authoritative. The oldest layout is recorded by
// clearing the label.
func (r *Registry) Commit(dst LabelSink, l Label) error {
	if err := r.Validate(l); err != nil {
		return err
	}
	if dst == nil {
		if l == r.Oldest() {
			return nil
		}
		return errors.AssertionFailedf("schema: cannot commit %s without managed memory", l)
	}
	if l == r.Oldest() {
		return dst.ClearSchemaLabel()
	}
	return dst.SetSchemaLabel(l)
}
