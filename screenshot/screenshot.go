// Package screenshot loads reference images and compares captured guest
// framebuffers against them.
//
// Comparison is exact: two images match when they have the same width and
// height and every pixel has the same 8-bit RGBA value. Pixels are normalized
// through color.RGBAModel before hashing, so a PNG stored as paletted or
// grayscale still matches a framebuffer capture decoded as RGBA.
package screenshot

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest of an image's normalized pixels.
type Digest [32]byte

// String returns the hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for log lines.
func (d Digest) Short() string {
	return d.String()[:12]
}

// Image is a decoded image together with its digest. The zero value is not
// usable; construct with Load or FromImage.
type Image struct {
	Name   string
	Width  int
	Height int
	digest Digest
}

// Digest returns the pixel digest of the image.
func (i Image) Digest() Digest {
	return i.digest
}

// Equal reports whether both images have identical pixels.
func (i Image) Equal(other Image) bool {
	return i.Width == other.Width && i.Height == other.Height && i.digest == other.digest
}

// Matches reports whether a captured framebuffer is identical to i.
func (i Image) Matches(img image.Image) bool {
	return i.Equal(FromImage("", img))
}

// FromImage computes the digest of img.
func FromImage(name string, img image.Image) Image {
	b := img.Bounds()
	return Image{
		Name:   name,
		Width:  b.Dx(),
		Height: b.Dy(),
		digest: hashPixels(img),
	}
}

// Load reads a PNG reference image from disk.
func Load(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, fmt.Errorf("failed to open screenshot %s: %w", path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return Image{}, fmt.Errorf("failed to decode screenshot %s: %w", path, err)
	}
	return FromImage(path, img), nil
}

// LoadAll loads each path in order.
func LoadAll(paths []string) (Set, error) {
	set := make(Set, 0, len(paths))
	for _, p := range paths {
		img, err := Load(p)
		if err != nil {
			return nil, err
		}
		set = append(set, img)
	}
	return set, nil
}

// Set is an ordered, read-only collection of reference images.
type Set []Image

// Match returns the index of the first reference identical to img.
func (s Set) Match(img image.Image) (int, bool) {
	if len(s) == 0 {
		return -1, false
	}
	return s.Find(FromImage("", img))
}

// Find returns the index of the first reference equal to captured.
func (s Set) Find(captured Image) (int, bool) {
	for idx, ref := range s {
		if ref.Equal(captured) {
			return idx, true
		}
	}
	return -1, false
}

func hashPixels(img image.Image) Digest {
	b := img.Bounds()
	h := blake3.New()

	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[4:8], uint32(b.Dy()))
	_, _ = h.Write(dims[:])

	row := make([]byte, 0, b.Dx()*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row = row[:0]
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			row = append(row, c.R, c.G, c.B, c.A)
		}
		_, _ = h.Write(row)
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}
