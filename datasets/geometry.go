package datasets

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const twoPi = 2 * math.Pi

// AngleToClass converts a continuous heading angle (radians, any real) to a
// discrete class plus a residual. Class k is centered at k*(2*pi/numClasses),
// so bin boundaries sit at half-bin offsets from the centers, and
//
//	classID*(2*pi/numClasses) + residual == angle (mod 2*pi)
//
// with classID in [0, numClasses). numClasses must be positive.
func AngleToClass(angle float64, numClasses int) (classID int, residual float64, err error) {
	if numClasses <= 0 {
		return 0, 0, fmt.Errorf("%w: angle class count must be positive, got %d", ErrConfig, numClasses)
	}
	angle = math.Mod(angle, twoPi)
	if angle < 0 {
		angle += twoPi
	}
	binWidth := twoPi / float64(numClasses)
	shifted := math.Mod(angle+binWidth/2, twoPi)
	classID = int(shifted / binWidth)
	residual = shifted - (float64(classID)*binWidth + binWidth/2)
	return classID, residual, nil
}

// ClassToAngle is the inverse of AngleToClass: it reconstructs the angle from
// a class and residual, normalized into [0, 2*pi).
func ClassToAngle(classID int, residual float64, numClasses int) (float64, error) {
	if numClasses <= 0 {
		return 0, fmt.Errorf("%w: angle class count must be positive, got %d", ErrConfig, numClasses)
	}
	binWidth := twoPi / float64(numClasses)
	angle := math.Mod(float64(classID)*binWidth+residual, twoPi)
	if angle < 0 {
		angle += twoPi
	}
	return angle, nil
}

// SizeToResidual encodes a 3D box size (l,w,h) as the residual against a mean
// template size. A single template is used per dataset; selecting among
// multiple per-category templates is a deferred extension.
func SizeToResidual(size, mean [3]float64) [3]float64 {
	return [3]float64{size[0] - mean[0], size[1] - mean[1], size[2] - mean[2]}
}

// ResidualToSize reconstructs a box size from its residual and the mean
// template it was encoded against.
func ResidualToSize(residual, mean [3]float64) [3]float64 {
	return [3]float64{residual[0] + mean[0], residual[1] + mean[1], residual[2] + mean[2]}
}

// RotateAlongY rotates an NxC point matrix by angle radians about the y axis.
// The first three columns are (x,z,...) coordinates in a frame with z facing
// forward, x leftward and y downward; only the x and z columns change, y and
// any extra channels pass through. Returns a new matrix, the input is not
// modified. The matrix must have at least 3 columns.
func RotateAlongY(pc *mat.Dense, angle float64) *mat.Dense {
	out := mat.DenseCopyOf(pc)
	rows, _ := pc.Dims()
	cos, sin := math.Cos(angle), math.Sin(angle)
	for i := 0; i < rows; i++ {
		x, z := pc.At(i, 0), pc.At(i, 2)
		out.Set(i, 0, cos*x-sin*z)
		out.Set(i, 2, sin*x+cos*z)
	}
	return out
}

// rotateVec3AlongY applies the same (x,z) rotation to a single 3-vector, used
// to keep a box center consistent with its rotated point cloud.
func rotateVec3AlongY(v [3]float64, angle float64) [3]float64 {
	cos, sin := math.Cos(angle), math.Sin(angle)
	return [3]float64{cos*v[0] - sin*v[2], v[1], sin*v[0] + cos*v[2]}
}
