package cost

import (
	"fmt"
	"math"
)

// Estimate is the estimated cost of a plan node including its inputs.
//
// Rows and Width describe the output of the node; they are not summed when
// estimates are combined.
type Estimate struct {
	Startup float64
	IO      float64
	CPU     float64
	Network float64
	Memory  float64
	Total   float64

	Rows  float64
	Width float64
}

// CalculateTotal sets Total to the sum of the cost components.
func (e *Estimate) CalculateTotal() {
	e.Total = e.sum()
}

func (e Estimate) sum() float64 {
	return e.Startup + e.IO + e.CPU + e.Network + e.Memory
}

// Add returns e with the cost components of o added to it. Rows and Width
// are kept from e and the total is recomputed.
func (e Estimate) Add(o Estimate) Estimate {
	e.Startup += o.Startup
	e.IO += o.IO
	e.CPU += o.CPU
	e.Network += o.Network
	e.Memory += o.Memory
	e.CalculateTotal()
	return e
}

// Finalized reports whether Total is consistent with the cost components.
func (e Estimate) Finalized() bool {
	const epsilon = 1e-9
	return math.Abs(e.Total-e.sum()) <= epsilon*math.Max(1, math.Abs(e.Total))
}

// Less reports whether e is strictly cheaper than o.
func (e Estimate) Less(o Estimate) bool { return e.Total < o.Total }

func (e Estimate) String() string {
	return fmt.Sprintf("cost=%.2f..%.2f rows=%.0f width=%.0f", e.Startup, e.Total, e.Rows, e.Width)
}
