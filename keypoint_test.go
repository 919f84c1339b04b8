package labelprop

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeypoints(t *testing.T) {
	const h, w, n = 4, 5, 3
	pred := make([]float32, h*w*n)
	// Channel 1 is one-hot at x=3, y=2; channel 2 is empty.
	pred[(2*w+3)*n+1] = 1

	kp := DecodeKeypoints(pred, h, w, n, 3)
	require.Equal(t, 2, kp.Len())
	assert.True(t, kp.Found(0))
	assert.InDelta(t, 3.0, kp.X[0], 1e-9)
	assert.InDelta(t, 2.0, kp.Y[0], 1e-9)
	assert.False(t, kp.Found(1))
	assert.Equal(t, -1.0, kp.X[1])
	assert.Equal(t, -1.0, kp.Y[1])
}

func TestDecodeKeypoints_WeightedCentroid(t *testing.T) {
	const h, w, n = 3, 4, 2
	pred := make([]float32, h*w*n)
	pred[(0*w+0)*n+1] = 0.25
	pred[(2*w+2)*n+1] = 0.75
	pred[(1*w+3)*n+1] = 0.01 // below the top 2

	kp := DecodeKeypoints(pred, h, w, n, 2)
	assert.InDelta(t, 1.5, kp.X[0], 1e-6)
	assert.InDelta(t, 1.5, kp.Y[0], 1e-6)
}

func TestKeypoints_Scale(t *testing.T) {
	kp := Keypoints{X: []float64{1.5, -1}, Y: []float64{2, -1}}
	s := kp.Scale(image.Pt(8, 4))
	assert.Equal(t, []float64{12, -1}, s.X)
	assert.Equal(t, []float64{8, -1}, s.Y)
}

func TestDatasetKind_Decoder(t *testing.T) {
	pred := make([]float32, 2*2*2)
	pred[1] = 1
	assert.Nil(t, Segmentation.decoder(3).decode(pred, 2, 2, 2))

	kp := Pose.decoder(3).decode(pred, 2, 2, 2)
	require.NotNil(t, kp)
	assert.Equal(t, 1, kp.Len())
	assert.True(t, kp.Found(0))

	k, err := ParseDatasetKind("Pose")
	require.NoError(t, err)
	assert.Equal(t, Pose, k)
	_, err = ParseDatasetKind("depth")
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
