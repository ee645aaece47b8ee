package phash

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(c color.Color, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestHashImage_DeterministicLength(t *testing.T) {
	img := solidImage(color.RGBA{R: 200, G: 50, B: 50, A: 255}, 64, 64)
	hash := HashImage(img)
	require.NotEmpty(t, hash)
	assert.Equal(t, bitLength/4, len(hash), "hex string should encode bitLength bits")
}

func TestHashImage_SameImageSameHash(t *testing.T) {
	img := solidImage(color.RGBA{R: 10, G: 200, B: 30, A: 255}, 32, 32)
	assert.Equal(t, HashImage(img), HashImage(img))
}

func TestHamming_Symmetric(t *testing.T) {
	a := "abcd1234"
	b := "1234abcd"
	assert.Equal(t, Hamming(a, b), Hamming(b, a))
}

func TestHamming_SelfIsZero(t *testing.T) {
	a := "deadbeef"
	assert.Equal(t, 0, Hamming(a, a))
}

func TestHamming_LengthMismatchIsMinusOne(t *testing.T) {
	assert.Equal(t, -1, Hamming("ab", "abcd"))
}

func TestHamming_InRangeOfBitLength(t *testing.T) {
	a := strings.Repeat("0", bitLength/4)
	b := strings.Repeat("f", bitLength/4)
	d := Hamming(a, b)
	assert.GreaterOrEqual(t, d, 0)
	assert.LessOrEqual(t, d, bitLength)
}
