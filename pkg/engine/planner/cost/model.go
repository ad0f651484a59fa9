// Package cost holds the weights used to price physical plan alternatives
// and the estimate type the optimizer compares them by.
package cost

import (
	"flag"
	"fmt"
)

// Model holds the named weights of the cost model. A Model is plain
// configuration: it is never mutated after the optimizer is built and is
// safe for concurrent use.
type Model struct {
	CPUTuple      float64 `yaml:"cpu_tuple_cost"`
	CPUIndexTuple float64 `yaml:"cpu_index_tuple_cost"`
	CPUOperator   float64 `yaml:"cpu_operator_cost"`

	SeqPage    float64 `yaml:"seq_page_cost"`
	RandomPage float64 `yaml:"random_page_cost"`
	CPUPage    float64 `yaml:"cpu_page_cost"`

	NetworkPerByte float64 `yaml:"network_cost_per_byte"`
	NetworkLatency float64 `yaml:"network_latency_cost"`

	MemoryPerMB float64 `yaml:"memory_cost_per_mb"`

	ParallelWorker float64 `yaml:"parallel_worker_cost"`
	ParallelSetup  float64 `yaml:"parallel_setup_cost"`

	Selectivity Selectivity `yaml:"selectivity"`
}

// Selectivity is the table of fixed selectivities used when a predicate
// cannot be estimated from statistics.
type Selectivity struct {
	Equal    float64 `yaml:"equal"`
	Range    float64 `yaml:"range"`
	NotEqual float64 `yaml:"not_equal"`
	Default  float64 `yaml:"default"`

	And float64 `yaml:"and"`
	Or  float64 `yaml:"or"`
	Not float64 `yaml:"not"`

	EquiJoin  float64 `yaml:"equi_join"`
	Join      float64 `yaml:"join"`
	OtherJoin float64 `yaml:"other_join"`
}

// DefaultModel returns the default weights.
func DefaultModel() Model {
	return Model{
		CPUTuple:       0.01,
		CPUIndexTuple:  0.005,
		CPUOperator:    0.0025,
		SeqPage:        1.0,
		RandomPage:     4.0,
		CPUPage:        0.1,
		NetworkPerByte: 0.000001,
		NetworkLatency: 0.1,
		MemoryPerMB:    0.01,
		ParallelWorker: 0.1,
		ParallelSetup:  1000.0,
		Selectivity:    DefaultSelectivity(),
	}
}

// DefaultSelectivity returns the default selectivity table.
func DefaultSelectivity() Selectivity {
	return Selectivity{
		Equal:     0.1,
		Range:     0.3,
		NotEqual:  0.9,
		Default:   0.5,
		And:       0.3,
		Or:        0.7,
		Not:       0.5,
		EquiJoin:  0.1,
		Join:      0.3,
		OtherJoin: 0.5,
	}
}

// RegisterFlagsWithPrefix registers every weight with the defaults of
// [DefaultModel].
func (m *Model) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	d := DefaultModel()
	f.Float64Var(&m.CPUTuple, prefix+"cpu-tuple-cost", d.CPUTuple, "Cost of processing one row.")
	f.Float64Var(&m.CPUIndexTuple, prefix+"cpu-index-tuple-cost", d.CPUIndexTuple, "Cost of processing one index entry.")
	f.Float64Var(&m.CPUOperator, prefix+"cpu-operator-cost", d.CPUOperator, "Cost of evaluating one operator or function.")
	f.Float64Var(&m.SeqPage, prefix+"seq-page-cost", d.SeqPage, "Cost of reading one page sequentially.")
	f.Float64Var(&m.RandomPage, prefix+"random-page-cost", d.RandomPage, "Cost of reading one page at random.")
	f.Float64Var(&m.CPUPage, prefix+"cpu-page-cost", d.CPUPage, "Cost of processing one page in memory.")
	f.Float64Var(&m.NetworkPerByte, prefix+"network-cost-per-byte", d.NetworkPerByte, "Cost of sending one byte between nodes.")
	f.Float64Var(&m.NetworkLatency, prefix+"network-latency-cost", d.NetworkLatency, "Fixed cost of one network round trip.")
	f.Float64Var(&m.MemoryPerMB, prefix+"memory-cost-per-mb", d.MemoryPerMB, "Cost of holding one megabyte in memory.")
	f.Float64Var(&m.ParallelWorker, prefix+"parallel-worker-cost", d.ParallelWorker, "Cost of running one parallel worker.")
	f.Float64Var(&m.ParallelSetup, prefix+"parallel-setup-cost", d.ParallelSetup, "Fixed cost of starting a parallel operator.")
	m.Selectivity.RegisterFlagsWithPrefix(prefix+"selectivity.", f)
}

// RegisterFlagsWithPrefix registers the selectivity table.
func (s *Selectivity) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	d := DefaultSelectivity()
	f.Float64Var(&s.Equal, prefix+"equal", d.Equal, "Selectivity of an equality predicate.")
	f.Float64Var(&s.Range, prefix+"range", d.Range, "Selectivity of a <, <=, > or >= predicate.")
	f.Float64Var(&s.NotEqual, prefix+"not-equal", d.NotEqual, "Selectivity of an inequality predicate.")
	f.Float64Var(&s.Default, prefix+"default", d.Default, "Selectivity of any other predicate.")
	f.Float64Var(&s.And, prefix+"and", d.And, "Selectivity of an AND connective.")
	f.Float64Var(&s.Or, prefix+"or", d.Or, "Selectivity of an OR connective.")
	f.Float64Var(&s.Not, prefix+"not", d.Not, "Selectivity of a NOT connective.")
	f.Float64Var(&s.EquiJoin, prefix+"equi-join", d.EquiJoin, "Selectivity of an equality join condition.")
	f.Float64Var(&s.Join, prefix+"join", d.Join, "Selectivity of any other comparison join condition.")
	f.Float64Var(&s.OtherJoin, prefix+"other-join", d.OtherJoin, "Selectivity of a join condition that is not a comparison.")
}

// Validate rejects negative weights and selectivities outside [0, 1].
func (m *Model) Validate() error {
	weights := map[string]float64{
		"cpu_tuple_cost":        m.CPUTuple,
		"cpu_index_tuple_cost":  m.CPUIndexTuple,
		"cpu_operator_cost":     m.CPUOperator,
		"seq_page_cost":         m.SeqPage,
		"random_page_cost":      m.RandomPage,
		"cpu_page_cost":         m.CPUPage,
		"network_cost_per_byte": m.NetworkPerByte,
		"network_latency_cost":  m.NetworkLatency,
		"memory_cost_per_mb":    m.MemoryPerMB,
		"parallel_worker_cost":  m.ParallelWorker,
		"parallel_setup_cost":   m.ParallelSetup,
	}
	for name, w := range weights {
		if w < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, w)
		}
	}
	return m.Selectivity.Validate()
}

// Validate checks that every selectivity is a fraction within [0, 1].
func (s *Selectivity) Validate() error {
	for name, v := range map[string]float64{
		"equal":      s.Equal,
		"range":      s.Range,
		"not_equal":  s.NotEqual,
		"default":    s.Default,
		"and":        s.And,
		"or":         s.Or,
		"not":        s.Not,
		"equi_join":  s.EquiJoin,
		"join":       s.Join,
		"other_join": s.OtherJoin,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("selectivity %s must be within [0, 1], got %v", name, v)
		}
	}
	return nil
}
