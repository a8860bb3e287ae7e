package datasets

import (
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// imageExtensions are the raster formats the image loaders accept.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".ppm", ".bmp"}

// IsImageFile reports whether filename has a supported raster extension,
// case-insensitively.
func IsImageFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// denseToFloat32 flattens a gonum matrix into a row-major float32 buffer.
func denseToFloat32(m *mat.Dense) []float32 {
	rows, cols := m.Dims()
	out := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = float32(m.At(i, j))
		}
	}
	return out
}

func vec3ToFloat32(v [3]float64) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}
