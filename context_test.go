package labelprop

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextIndexBank_FirstFrameAnchor(t *testing.T) {
	bank, err := BuildContextIndexBank(3, []int{0}, 5)
	require.NoError(t, err)

	require.Equal(t, 5, bank.Len())
	require.Equal(t, 4, bank.Slots())
	require.Equal(t, 1, bank.LongTerm())
	for tgt := range bank.Len() {
		assert.Equal(t, []int{0, tgt, tgt + 1, tgt + 2}, bank.Sources(tgt), "target %d", tgt)
		assert.Equal(t, tgt+3, bank.Frame(tgt))
	}
}

func TestContextIndexBank_AnchorActivation(t *testing.T) {
	// Anchor 2 with n_context 1 switches on strictly after target 3.
	bank, err := BuildContextIndexBank(1, []int{0, 2}, 6)
	require.NoError(t, err)

	want := []int{0, 0, 0, 0, 2, 2}
	for tgt, a := range want {
		assert.Equal(t, 0, bank.Sources(tgt)[0], "anchor 0 at target %d", tgt)
		assert.Equal(t, a, bank.Sources(tgt)[1], "anchor 2 at target %d", tgt)
		assert.Equal(t, tgt, bank.Sources(tgt)[2])
	}
}

func TestContextIndexBank_NoFutureLeak(t *testing.T) {
	for n := 1; n <= 8; n++ {
		for nContext := 1; nContext <= 6; nContext++ {
			t.Run(fmt.Sprintf("n=%d/ctx=%d", n, nContext), func(t *testing.T) {
				bank, err := BuildContextIndexBank(nContext, []int{0, n - 1}, n)
				require.NoError(t, err)
				for tgt := range bank.Len() {
					for _, src := range bank.Sources(tgt) {
						assert.GreaterOrEqual(t, src, 0)
						assert.Less(t, src, tgt+nContext, "target %d reads frame %d", tgt, src)
					}
				}
			})
		}
	}
}

func TestContextIndexBank_Errors(t *testing.T) {
	_, err := BuildContextIndexBank(2, []int{5}, 5)
	assert.ErrorIs(t, err, ErrAnchorOutOfRange)

	_, err = BuildContextIndexBank(2, []int{-1}, 5)
	assert.ErrorIs(t, err, ErrAnchorOutOfRange)

	_, err = BuildContextIndexBank(0, nil, 5)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = BuildContextIndexBank(2, nil, 0)
	assert.ErrorIs(t, err, ErrEmptyVideo)
}

func TestContextIndexBank_NoAnchors(t *testing.T) {
	bank, err := BuildContextIndexBank(2, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, bank.LongTerm())
	assert.Equal(t, []int{2, 3}, bank.Sources(2))
}
