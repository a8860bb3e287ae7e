package datasets

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultMeanBoxSize is the mean KITTI car box size (l,w,h) in meters,
// estimated offline over the training split. Box sizes are regressed as
// residuals against this template.
var DefaultMeanBoxSize = [3]float64{
	3.996132075471698908,
	1.617452830188679469,
	1.517264150943395506,
}

// PointConfig configures a PointDataset.
type PointConfig struct {
	// NumPoints is the fixed cloud size every item is subsampled to,
	// with replacement. Default 1024.
	NumPoints int

	// NumAngleClasses is the number of heading bins. Default 12.
	NumAngleClasses int

	// RandomFlip mirrors the cloud across the x=0 plane with probability
	// 0.5. The RotAngle carried on flipped items no longer recovers the
	// true heading; do not use it for that when flipping is on.
	RandomFlip bool

	// RandomShift perturbs the cloud depth with a Gaussian draw scaled by
	// the object's planar distance.
	RandomShift bool

	// LidarFrame selects the lidar-frame point/label members of each
	// record instead of the camera-frame ones.
	LidarFrame bool

	// MeanBoxSize overrides DefaultMeanBoxSize when non-zero.
	MeanBoxSize [3]float64

	// BatchSize for Yield. Default 32.
	BatchSize int

	// Seed for augmentation and shuffling draws. Zero picks a time-based
	// seed. Parallel workers must each use a distinct seed so their
	// augmentation draws are uncorrelated.
	Seed int64
}

// PointDataset reads frustum point records from a directory, one .npz file
// per object instance, and serves augmented frustum-frame training items.
// Records are indexed in sorted filename order.
type PointDataset struct {
	cfg PointConfig

	// Record file paths, sorted at construction.
	paths []string

	// Iteration order over paths; permuted by Shuffle.
	order  []int
	cursor int

	// rng guarded by mu so concurrent At calls are safe.
	mu     sync.Mutex
	rng    *rand.Rand
	normal distuv.Normal
}

// PointItem is one fetched and encoded object instance. Points holds exactly
// NumPoints rows of Channels values in row-major order, frustum-rotated;
// SegLabels has one class per row.
type PointItem struct {
	Points    []float32
	NumPoints int
	Channels  int
	SegLabels []int64

	// Center is the box center in the frustum frame.
	Center [3]float32

	// Heading encoded against the frustum rotation.
	AngleClass    int
	AngleResidual float64

	// Box size encoded against the configured mean size.
	SizeResidual [3]float32

	// RotAngle is the rotation applied to reach the frustum frame.
	RotAngle float64

	ImageID int64
	Name    string
}

// NewPointDataset scans dir for .npz records and returns a dataset over them.
func NewPointDataset(dir string, cfg PointConfig) (*PointDataset, error) {
	if cfg.NumPoints == 0 {
		cfg.NumPoints = 1024
	}
	if cfg.NumAngleClasses == 0 {
		cfg.NumAngleClasses = 12
	}
	if cfg.NumPoints < 0 || cfg.NumAngleClasses < 0 {
		return nil, fmt.Errorf("%w: point count %d and angle class count %d must be positive",
			ErrConfig, cfg.NumPoints, cfg.NumAngleClasses)
	}
	if cfg.MeanBoxSize == [3]float64{} {
		cfg.MeanBoxSize = DefaultMeanBoxSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read record directory %s: %v", ErrLoad, dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".npz") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no .npz records found in %s", ErrLoad, dir)
	}
	sort.Strings(paths)

	src := rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)>>1)
	ds := &PointDataset{
		cfg:    cfg,
		paths:  paths,
		order:  make([]int, len(paths)),
		rng:    rand.New(src),
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
	for i := range ds.order {
		ds.order[i] = i
	}
	return ds, nil
}

// Len returns the number of records.
func (d *PointDataset) Len() int {
	return len(d.paths)
}

// Name returns the dataset name for gomlx training loops.
func (d *PointDataset) Name() string {
	return "PointDataset"
}

// At loads the record at index and returns its encoded item. Augmentation
// draws come from the dataset's seeded generator; everything else is a pure
// function of the stored record, materialized fresh on every call.
func (d *PointDataset) At(index int) (*PointItem, error) {
	if index < 0 || index >= len(d.paths) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.paths))
	}
	path := d.paths[index]
	rec, err := ReadPointRecord(path)
	if err != nil {
		return nil, err
	}

	points, labels := rec.Points, rec.Labels
	if d.cfg.LidarFrame {
		if rec.LidarPoints == nil {
			return nil, fmt.Errorf("%w: %s: missing member %q", ErrSchema, path, memberLidarPoints)
		}
		points, labels = rec.LidarPoints, rec.LidarLabels
	}
	rows, cols := points.Dims()
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s: empty point cloud", ErrSchema, path)
	}

	// The rotation that centers the frustum: the viewing ray at
	// frustumAngle maps onto the z axis.
	rotAngle := math.Pi/2 + rec.FrustumAngle

	// Fixed-size working copy, sampled with replacement so clouds smaller
	// than NumPoints still fill the tensor (with duplicates).
	sampled := mat.NewDense(d.cfg.NumPoints, cols, nil)
	segLabels := make([]int64, d.cfg.NumPoints)
	row := make([]float64, cols)

	d.mu.Lock()
	for i := 0; i < d.cfg.NumPoints; i++ {
		j := d.rng.IntN(rows)
		sampled.SetRow(i, mat.Row(row, j, points))
		segLabels[i] = labels[j]
	}
	flip := d.cfg.RandomFlip && d.rng.Float64() > 0.5
	var gauss float64
	if d.cfg.RandomShift {
		gauss = d.normal.Rand()
	}
	d.mu.Unlock()

	center, heading := rec.Center, rec.Heading
	if flip {
		center, heading = flipAcrossX(sampled, center, heading)
	}
	if d.cfg.RandomShift {
		center, _ = shiftAlongZ(sampled, center, gauss)
	}

	sizeResidual := SizeToResidual(rec.Size, d.cfg.MeanBoxSize)
	rotated := RotateAlongY(sampled, rotAngle)
	center = rotateVec3AlongY(center, rotAngle)
	angleClass, angleResidual, err := AngleToClass(heading-rotAngle, d.cfg.NumAngleClasses)
	if err != nil {
		return nil, err
	}

	return &PointItem{
		Points:        denseToFloat32(rotated),
		NumPoints:     d.cfg.NumPoints,
		Channels:      cols,
		SegLabels:     segLabels,
		Center:        vec3ToFloat32(center),
		AngleClass:    angleClass,
		AngleResidual: angleResidual,
		SizeResidual:  vec3ToFloat32(sizeResidual),
		RotAngle:      rotAngle,
		ImageID:       rec.ImageID,
		Name:          filepath.Base(path),
	}, nil
}

// flipAcrossX mirrors the working cloud across the x=0 plane in place and
// returns the matching center and heading. Mirroring maps heading to
// pi - heading.
func flipAcrossX(points *mat.Dense, center [3]float64, heading float64) ([3]float64, float64) {
	rows, _ := points.Dims()
	for i := 0; i < rows; i++ {
		points.Set(i, 0, -points.At(i, 0))
	}
	center[0] = -center[0]
	return center, math.Pi - heading
}

// shiftAlongZ adds a depth perturbation to the working cloud in place and to
// the returned center. The magnitude is gauss scaled by 5% of the object's
// planar distance, clipped into [0.8*dist, 1.2*dist]. The planar distance
// deliberately uses the center's first two components, and the clip bounds
// derive from the unshifted distance; both follow the reference encoding.
func shiftAlongZ(points *mat.Dense, center [3]float64, gauss float64) ([3]float64, float64) {
	dist := math.Hypot(center[0], center[1])
	shift := clamp(gauss*dist*0.05, 0.8*dist, 1.2*dist)
	rows, _ := points.Dims()
	for i := 0; i < rows; i++ {
		points.Set(i, 2, points.At(i, 2)+shift)
	}
	center[2] += shift
	return center, shift
}

// Tensors converts the item into gomlx tensors: points (NumPoints x Channels,
// float32), segmentation labels (NumPoints, int64), frustum-frame center (3)
// and size residual (3).
func (it *PointItem) Tensors() (points, segLabels, center, sizeResidual *tensors.Tensor) {
	rows := make([][]float32, it.NumPoints)
	for i := range rows {
		rows[i] = it.Points[i*it.Channels : (i+1)*it.Channels]
	}
	points = tensors.FromAnyValue(rows)
	segLabels = tensors.FromAnyValue(it.SegLabels)
	center = tensors.FromAnyValue(it.Center[:])
	sizeResidual = tensors.FromAnyValue(it.SizeResidual[:])
	return points, segLabels, center, sizeResidual
}

// Yield returns the next batch for the gomlx Dataset interface. Inputs hold
// one tensor (batch x NumPoints x Channels); labels hold segmentation classes
// (batch x NumPoints), centers (batch x 3), angle classes (batch), angle
// residuals (batch) and size residuals (batch x 3). Returns io.EOF once the
// epoch is exhausted; Restart begins the next epoch.
func (d *PointDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	d.mu.Lock()
	if d.cursor >= len(d.order) {
		d.mu.Unlock()
		return nil, nil, nil, io.EOF
	}
	end := d.cursor + d.cfg.BatchSize
	if end > len(d.order) {
		end = len(d.order)
	}
	batch := make([]int, end-d.cursor)
	copy(batch, d.order[d.cursor:end])
	d.cursor = end
	d.mu.Unlock()

	n := len(batch)
	pts := make([][][]float32, n)
	segs := make([][]int64, n)
	centers := make([][]float32, n)
	classes := make([]int64, n)
	residuals := make([]float32, n)
	sizes := make([][]float32, n)
	for i, idx := range batch {
		item, err := d.At(idx)
		if err != nil {
			return nil, nil, nil, err
		}
		rows := make([][]float32, item.NumPoints)
		for r := range rows {
			rows[r] = item.Points[r*item.Channels : (r+1)*item.Channels]
		}
		pts[i] = rows
		segs[i] = item.SegLabels
		centers[i] = item.Center[:]
		classes[i] = int64(item.AngleClass)
		residuals[i] = float32(item.AngleResidual)
		sizes[i] = item.SizeResidual[:]
	}

	inputs = []*tensors.Tensor{tensors.FromAnyValue(pts)}
	labels = []*tensors.Tensor{
		tensors.FromAnyValue(segs),
		tensors.FromAnyValue(centers),
		tensors.FromAnyValue(classes),
		tensors.FromAnyValue(residuals),
		tensors.FromAnyValue(sizes),
	}
	return nil, inputs, labels, nil
}

// Restart resets the epoch cursor.
func (d *PointDataset) Restart() error {
	d.mu.Lock()
	d.cursor = 0
	d.mu.Unlock()
	return nil
}

// Shuffle permutes the iteration order used by Yield. Indices passed to At
// are unaffected.
func (d *PointDataset) Shuffle(seed int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1))
	rng.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}
