package migration

import (
	"testing"

	"github.com/hupe1980/stablestate/schema"
	"github.com/stretchr/testify/assert"
)

func label(l schema.Label) *schema.Label { return &l }

func TestPlan(t *testing.T) {
	flat, part := schema.FlatSerialized, schema.PartitionedStable
	tests := []struct {
		name      string
		current   schema.Label
		target    *schema.Label
		requested *schema.Label
		want      Decision
	}{
		{"idle without request", flat, nil, nil, Noop},
		{"idle same schema", flat, nil, label(flat), Noop},
		{"idle other schema", flat, nil, label(part), Start},
		{"idle partitioned to flat", part, nil, label(flat), Start},
		{"migrating without request", flat, label(part), nil, Continue},
		{"migrating same target", flat, label(part), label(part), Continue},
		{"migrating back to source", flat, label(part), label(flat), Cancel},
		{"migrating elsewhere", flat, label(part), label(schema.Label(7)), Redirect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Plan(tt.current, tt.target, tt.requested))
		})
	}
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "rolled-back", RolledBack.String())
	assert.Equal(t, "Phase(9)", Phase(9).String())
	assert.Equal(t, "cancel", Cancel.String())
	assert.Equal(t, "Decision(9)", Decision(9).String())
}
