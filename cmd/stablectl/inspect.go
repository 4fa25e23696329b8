package main

import (
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/stablestate"
	"github.com/hupe1980/stablestate/memory"
	"github.com/hupe1980/stablestate/partition"
	"github.com/hupe1980/stablestate/stats"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <memory-file>",
	Short: "print the layout, schema label and statistics of a memory file",
	Long: `
  Detects the layout of a memory file and prints it together with the
  partition sizes and a statistics snapshot as YAML. The file is not
  modified.
`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

type partitionReport struct {
	ID    uint8  `yaml:"id"`
	Pages uint64 `yaml:"pages"`
}

type inspectReport struct {
	File        string            `yaml:"file"`
	Pages       uint64            `yaml:"pages"`
	Layout      string            `yaml:"layout"`
	Label       string            `yaml:"label,omitempty"`
	BucketPages uint64            `yaml:"bucket_pages,omitempty"`
	Buckets     int               `yaml:"buckets,omitempty"`
	Partitions  []partitionReport `yaml:"partitions,omitempty"`
	Stats       stats.Stats       `yaml:"stats"`
}

func inspect(cmd *cobra.Command, path string) (*inspectReport, error) {
	mem, err := memory.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer mem.Close()

	rep := &inspectReport{File: path, Pages: mem.Size()}
	layout, err := partition.Detect(mem)
	if err != nil {
		return nil, err
	}
	rep.Layout = layout.Kind().String()
	if p := layout.Partitions(); p != nil {
		label, ok, err := p.SchemaLabel()
		if err != nil {
			return nil, err
		}
		if ok {
			rep.Label = label.String()
		}
		rep.BucketPages = p.BucketPages()
		rep.Buckets = p.AllocatedBuckets()
		for id, pages := range p.Sizes() {
			rep.Partitions = append(rep.Partitions, partitionReport{ID: uint8(id), Pages: pages})
		}
		sort.Slice(rep.Partitions, func(i, j int) bool { return rep.Partitions[i].ID < rep.Partitions[j].ID })
	}

	opts, err := engineOptions()
	if err != nil {
		return nil, err
	}
	eng, err := stablestate.Open(cmd.Context(), mem, opts...)
	if err != nil {
		return nil, err
	}
	rep.Stats = eng.Stats()
	return rep, nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	rep, err := inspect(cmd, args[0])
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}
