// Package ratios maintains the dense pairwise price-ratio state.
package ratios

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Cell addresses one (from, to) position in the matrix.
type Cell struct {
	From int
	To   int
}

// Matrix is the dense N×N price-ratio state with dirty tracking and
// transactional rollback. The diagonal is 1.0; off-diagonal cells are NaN
// until first observed. Consumers must test IsNaN before comparing values.
//
// The first write to a cell within a transaction stashes the prior value so
// that Rollback can restore it. Commit clears the dirty set; the caller is
// responsible for persisting dirty cells beforehand.
type Matrix struct {
	n     int
	data  *mat.Dense
	ids   []int64 // pair ids, row-major, parallel to data
	dirty map[Cell]float64
}

// New creates an N×N matrix with 1.0 on the diagonal and NaN elsewhere.
func New(n int) *Matrix {
	data := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				data.Set(i, j, 1.0)
			} else {
				data.Set(i, j, math.NaN())
			}
		}
	}
	return &Matrix{
		n:     n,
		data:  data,
		ids:   make([]int64, n*n),
		dirty: make(map[Cell]float64),
	}
}

// Size returns N.
func (m *Matrix) Size() int {
	return m.n
}

// Get returns the ratio at (from, to).
func (m *Matrix) Get(from, to int) float64 {
	return m.data.At(from, to)
}

// Set writes the ratio at (from, to), recording the prior value on the first
// write within the current transaction.
func (m *Matrix) Set(from, to int, val float64) {
	cell := Cell{From: from, To: to}
	if _, ok := m.dirty[cell]; !ok {
		m.dirty[cell] = m.data.At(from, to)
	}
	m.data.Set(from, to, val)
}

// Row returns a copy of row `from` (ratios from one coin to every coin).
func (m *Matrix) Row(from int) []float64 {
	return mat.Row(nil, from, m.data)
}

// Col returns a copy of column `to` (ratios from every coin to one coin).
func (m *Matrix) Col(to int) []float64 {
	return mat.Col(nil, to, m.data)
}

// SetPairID records the persistent pair id for (from, to).
func (m *Matrix) SetPairID(from, to int, id int64) {
	m.ids[from*m.n+to] = id
}

// PairID returns the persistent pair id for (from, to).
func (m *Matrix) PairID(from, to int) int64 {
	return m.ids[from*m.n+to]
}

// Dirty returns the cells modified in the current transaction.
func (m *Matrix) Dirty() []Cell {
	cells := make([]Cell, 0, len(m.dirty))
	for cell := range m.dirty {
		cells = append(cells, cell)
	}
	return cells
}

// Rollback restores every dirty cell to its stashed value and clears the
// dirty set.
func (m *Matrix) Rollback() {
	for cell, prior := range m.dirty {
		m.data.Set(cell.From, cell.To, prior)
	}
	m.dirty = make(map[Cell]float64)
}

// Commit clears the dirty set.
func (m *Matrix) Commit() {
	m.dirty = make(map[Cell]float64)
}
