package labelprop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelBuffer_Seeds(t *testing.T) {
	seeds := oneHotRows(2, 4, 3, 1)
	buf, err := NewLabelBuffer(2, 2, 3, 5, seeds)
	require.NoError(t, err)
	assert.Equal(t, 2, buf.Cursor())
	assert.Equal(t, 5, buf.Len())
	assert.False(t, buf.Complete())

	row, err := buf.Row(1)
	require.NoError(t, err)
	assert.Equal(t, seeds[1], row)

	seeds[1][0] = 42
	row, _ = buf.Row(1)
	assert.NotEqual(t, float32(42), row[0], "seed rows are copied")

	_, err = buf.Row(2)
	assert.ErrorIs(t, err, ErrFutureLeak)
	_, err = buf.Row(-1)
	assert.ErrorIs(t, err, ErrFutureLeak)
}

func TestLabelBuffer_Errors(t *testing.T) {
	_, err := NewLabelBuffer(2, 2, 3, 5, nil)
	assert.ErrorIs(t, err, ErrEmptyVideo)

	_, err = NewLabelBuffer(2, 2, 3, 1, oneHotRows(2, 4, 3, 1))
	assert.ErrorIs(t, err, ErrEmptyVideo)

	_, err = NewLabelBuffer(2, 2, 3, 5, [][]float32{make([]float32, 5)})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewLabelBuffer(0, 2, 3, 5, oneHotRows(1, 4, 3, 1))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

// handAffinity points every query at a fixed list of (index, weight) pairs.
func handAffinity(size int, idx []int, w []float32) Affinity {
	a := newAffinity(len(idx), size)
	for q := range size {
		for j := range idx {
			a.Indices[j*size+q] = int32(idx[j])
			a.Weights[j*size+q] = w[j]
		}
	}
	return a
}

func TestPropagator_SeedCopyAndWeightedSum(t *testing.T) {
	// One position, two labels, n_context 2, no anchors.
	seeds := [][]float32{{1, 0}, {0, 1}}
	buf, err := NewLabelBuffer(1, 1, 2, 4, seeds)
	require.NoError(t, err)
	bank, err := BuildContextIndexBank(2, nil, 2)
	require.NoError(t, err)

	affs := []Affinity{
		handAffinity(1, []int{0, 1}, []float32{0.5, 0.5}),
		// Target 1 reads frames 1 and 2; frame 2 is target 0's output.
		handAffinity(1, []int{0, 1}, []float32{0.25, 0.75}),
	}

	var got []FramePrediction
	err = (&Propagator{}).Run(context.Background(), buf, bank, affs, func(p FramePrediction) error {
		got = append(got, p)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, buf.Complete())

	assert.Equal(t, 0, got[0].Target)
	assert.Equal(t, 2, got[0].Frame)
	assert.Equal(t, []float32{1, 0}, got[0].Soft, "first target copies the first seed")
	assert.Nil(t, got[0].Display)

	// 0.25*frame1 + 0.75*frame2 = 0.25*(0,1) + 0.75*(1,0)
	assert.Equal(t, 3, got[1].Frame)
	assert.InDeltaSlice(t, []float32{0.75, 0.25}, got[1].Soft, 1e-6)

	row, err := buf.Row(3)
	require.NoError(t, err)
	assert.Equal(t, got[1].Soft, row)
}

func TestPropagator_NormalizeOutputKeepsSoft(t *testing.T) {
	seeds := [][]float32{{0.2, 0.6, 0.2}}
	buf, err := NewLabelBuffer(1, 1, 3, 3, seeds)
	require.NoError(t, err)
	bank, err := BuildContextIndexBank(1, nil, 2)
	require.NoError(t, err)
	affs := []Affinity{
		handAffinity(1, []int{0}, []float32{1}),
		handAffinity(1, []int{0}, []float32{1}),
	}

	var got []FramePrediction
	err = (&Propagator{NormalizeOutput: true}).Run(context.Background(), buf, bank, affs, func(p FramePrediction) error {
		got = append(got, p)
		return nil
	})
	require.NoError(t, err)
	for _, p := range got {
		assert.InDeltaSlice(t, []float32{0.2, 0.6, 0.2}, p.Soft, 1e-6)
		assert.InDeltaSlice(t, []float32{0, 1, 0}, p.Display, 1e-6)
		assert.Equal(t, p.Display, p.Labels())
	}
}

func TestPropagator_Preconditions(t *testing.T) {
	bank, err := BuildContextIndexBank(2, nil, 2)
	require.NoError(t, err)
	affs := []Affinity{handAffinity(1, []int{0}, []float32{1}), handAffinity(1, []int{0}, []float32{1})}

	buf, err := NewLabelBuffer(1, 1, 2, 4, [][]float32{{1, 0}})
	require.NoError(t, err)
	err = (&Propagator{}).Run(context.Background(), buf, bank, affs, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch, "cursor must equal n_context")

	buf, err = NewLabelBuffer(1, 1, 2, 4, [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)
	err = (&Propagator{}).Run(context.Background(), buf, bank, affs[:1], nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	bad := []Affinity{affs[0], handAffinity(1, []int{5}, []float32{1})}
	err = (&Propagator{}).Run(context.Background(), buf, bank, bad, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch, "neighbour slot past the context window")
}

func TestMinMaxPerPixel(t *testing.T) {
	out := minMaxPerPixel([]float32{1, 3, 2, 5, 5, 5}, 3)
	assert.InDeltaSlice(t, []float32{0, 1, 0.5, 0, 0, 0}, out, 1e-6)
}
