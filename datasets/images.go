package datasets

import (
	"fmt"
	"image"
	"image/color"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "github.com/lmittmann/ppm" // register ppm
	_ "golang.org/x/image/bmp"   // register bmp
)

// NormStats are per-channel pixel normalization statistics applied after
// scaling pixel values to [0,1].
type NormStats struct {
	Mean [3]float64
	Std  [3]float64
}

// DefaultImageNorm are the ImageNet statistics used by the stereo models.
var DefaultImageNorm = NormStats{
	Mean: [3]float64{0.485, 0.456, 0.406},
	Std:  [3]float64{0.229, 0.224, 0.225},
}

// LoaderFunc loads one raster from disk. StereoConfig takes one per modality
// so tests and exotic formats can substitute their own.
type LoaderFunc func(path string) (image.Image, error)

// LoadImage decodes a color image from any of the supported raster formats
// (.jpg/.jpeg/.png/.ppm/.bmp, case-insensitive). Failures wrap ErrLoad.
func LoadImage(path string) (image.Image, error) {
	if !IsImageFile(path) {
		return nil, fmt.Errorf("%w: %s: unsupported image extension", ErrLoad, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open image %s: %v", ErrLoad, path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image %s: %v", ErrLoad, path, err)
	}
	return img, nil
}

// LoadDisparity decodes a disparity raster. Disparity ground truth is stored
// fixed-point in a single-channel image, typically 16-bit PNG; the raw value
// divided by 256 is the disparity in pixels (see disparityValue).
func LoadDisparity(path string) (image.Image, error) {
	return LoadImage(path)
}

// disparityValue reads the fixed-point disparity at (x, y) in absolute image
// coordinates and converts it to float pixels. Sources decoded to 16-bit
// grayscale keep their raw values; other color models are converted through
// 16-bit grayscale first.
func disparityValue(img image.Image, x, y int) float32 {
	c := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
	return float32(c.Y) / 256
}

// normalizeCHW converts an NRGBA image to a planar CHW float32 buffer,
// scaling each channel to [0,1] and applying (v-mean)/std.
func normalizeCHW(img *image.NRGBA, stats NormStats) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, 3*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			for c := 0; c < 3; c++ {
				v := float64(img.Pix[i+c]) / 255
				out[c*h*w+y*w+x] = float32((v - stats.Mean[c]) / stats.Std[c])
			}
		}
	}
	return out
}
