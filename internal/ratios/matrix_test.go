package ratios

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DiagonalIsOneOffDiagonalIsNaN(t *testing.T) {
	m := New(4)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				assert.Equal(t, 1.0, m.Get(i, j))
			} else {
				assert.True(t, math.IsNaN(m.Get(i, j)), "cell (%d,%d) should start NaN", i, j)
			}
		}
	}
}

func TestSet_RecordsPriorValueOnce(t *testing.T) {
	m := New(3)
	m.Set(0, 1, 10)
	m.Set(0, 1, 20)
	require.Len(t, m.Dirty(), 1)

	m.Rollback()
	assert.True(t, math.IsNaN(m.Get(0, 1)), "rollback should restore the pre-transaction NaN")
}

func TestRollback_RestoresEveryDirtyCell(t *testing.T) {
	m := New(3)
	m.Set(0, 1, 2.0)
	m.Set(1, 2, 3.0)
	m.Commit()

	m.Set(0, 1, 5.0)
	m.Set(1, 2, 7.0)
	m.Set(2, 0, 9.0)
	m.Rollback()

	assert.Equal(t, 2.0, m.Get(0, 1))
	assert.Equal(t, 3.0, m.Get(1, 2))
	assert.True(t, math.IsNaN(m.Get(2, 0)))
	assert.Empty(t, m.Dirty())
}

func TestCommit_MakesRollbackANoOp(t *testing.T) {
	m := New(2)
	m.Set(0, 1, 4.2)
	m.Commit()
	m.Rollback()
	assert.Equal(t, 4.2, m.Get(0, 1))
}

func TestDiagonalSurvivesTransactions(t *testing.T) {
	m := New(3)
	m.Set(0, 1, 2)
	m.Set(1, 0, 0.5)
	m.Rollback()
	m.Set(0, 2, 3)
	m.Commit()
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1.0, m.Get(i, i))
	}
}

func TestRowAndColCopies(t *testing.T) {
	m := New(3)
	m.Set(0, 1, 2)
	m.Set(0, 2, 3)
	row := m.Row(0)
	require.Len(t, row, 3)
	assert.Equal(t, 1.0, row[0])
	assert.Equal(t, 2.0, row[1])
	assert.Equal(t, 3.0, row[2])

	// Mutating the copy must not touch the matrix.
	row[1] = 99
	assert.Equal(t, 2.0, m.Get(0, 1))

	col := m.Col(1)
	assert.Equal(t, 2.0, col[0])
	assert.Equal(t, 1.0, col[1])
}

func TestPairIDs(t *testing.T) {
	m := New(3)
	m.SetPairID(1, 2, 42)
	assert.Equal(t, int64(42), m.PairID(1, 2))
	assert.Equal(t, int64(0), m.PairID(2, 1))
}
