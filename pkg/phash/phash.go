// Package phash computes a perceptual hash for anime cover/thumbnail images
// so candidate titles scraped from different providers can be compared by
// visual similarity rather than by text alone.
package phash

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/disintegration/gift"
)

const (
	gridSize     = 16 // hash is computed over a gridSize x gridSize grayscale grid
	bitLength    = gridSize * gridSize
	fetchTimeout = 15 * time.Second
	browserUA    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Hash downloads the image at imageURL and returns its perceptual hash as a
// lowercase hex string, plus whether the fetch and decode succeeded. A false
// return means the caller should treat this candidate as having no
// comparable hash rather than fail the whole operation.
func Hash(ctx context.Context, imageURL string) (string, bool) {
	img, ok := fetchImage(ctx, imageURL)
	if !ok {
		return "", false
	}
	return HashImage(img), true
}

// HashImage computes the perceptual hash of an already-decoded image.
func HashImage(img image.Image) string {
	g := gift.New(
		gift.Resize(gridSize, gridSize, gift.LinearResampling),
		gift.Grayscale(),
	)
	dst := image.NewGray(g.Bounds(img.Bounds()))
	g.Draw(dst, img)

	var sum int
	values := make([]byte, bitLength)
	for y := 0; y < gridSize; y++ {
		for x := 0; x < gridSize; x++ {
			v := dst.GrayAt(x, y).Y
			values[y*gridSize+x] = v
			sum += int(v)
		}
	}
	mean := sum / bitLength

	return packBits(values, mean)
}

// packBits turns the grid into a hex string, MSB-first, one bit per pixel:
// 1 if the pixel is at or above the grid mean, 0 otherwise.
func packBits(values []byte, mean int) string {
	bits := make([]byte, 0, bitLength/8+1)
	var cur byte
	var filled int
	for _, v := range values {
		cur <<= 1
		if int(v) >= mean {
			cur |= 1
		}
		filled++
		if filled == 8 {
			bits = append(bits, cur)
			cur = 0
			filled = 0
		}
	}
	if filled > 0 {
		cur <<= uint(8 - filled)
		bits = append(bits, cur)
	}
	return fmt.Sprintf("%x", bits)
}

// Hamming returns the Hamming distance between two hex-encoded perceptual
// hashes. It returns -1 if the hashes have different lengths, since they are
// then not meaningfully comparable.
func Hamming(a, b string) int {
	if len(a) != len(b) {
		return -1
	}

	ab, err := decodeHex(a)
	if err != nil {
		return -1
	}
	bb, err := decodeHex(b)
	if err != nil {
		return -1
	}
	if len(ab) != len(bb) {
		return -1
	}

	distance := 0
	for i := range ab {
		x := ab[i] ^ bb[i]
		for x != 0 {
			distance += int(x & 1)
			x >>= 1
		}
	}
	return distance
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func fetchImage(ctx context.Context, imageURL string) (image.Image, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, false
	}
	return img, true
}
