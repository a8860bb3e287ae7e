package datasets

import (
	"fmt"
	"image"
	"io"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Crop windows used by the stereo models: training takes a random window,
// evaluation the bottom-right window at the fixed KITTI test resolution.
const (
	trainCropWidth  = 512
	trainCropHeight = 256
	evalCropWidth   = 1232
	evalCropHeight  = 368
)

// StereoConfig configures a StereoDataset.
type StereoConfig struct {
	// Training selects random 512x256 crops; otherwise items are cropped
	// deterministically to the bottom-right 1232x368 window.
	Training bool

	// LoadOnly skips disparity loading; items carry an all-zero disparity
	// buffer of the crop size.
	LoadOnly bool

	// Norm is applied per channel after scaling pixels to [0,1]. Zero
	// value means DefaultImageNorm.
	Norm NormStats

	// Loader and DispLoader load the color images and the disparity
	// rasters. Defaults are LoadImage and LoadDisparity.
	Loader     LoaderFunc
	DispLoader LoaderFunc

	// BatchSize for Yield. Default 32.
	BatchSize int

	// Seed for crop and shuffle draws. Zero picks a time-based seed; give
	// parallel workers distinct seeds.
	Seed int64
}

// StereoDataset serves stereo image pairs with optional disparity ground
// truth, cropped and normalized for training or evaluation.
type StereoDataset struct {
	cfg   StereoConfig
	left  []string
	right []string
	disp  []string

	order  []int
	cursor int

	mu  sync.Mutex
	rng *rand.Rand
}

// StereoItem is one processed stereo pair. Left and Right are planar CHW
// float32 buffers of the crop size; Disparity is a HW buffer in float pixels,
// all zeros when the dataset is load-only. FullWidth and FullHeight are the
// pre-crop image dimensions.
type StereoItem struct {
	Left  []float32
	Right []float32

	Disparity []float32

	Width, Height         int
	FullWidth, FullHeight int

	Name string
}

// NewStereoDataset builds a dataset over parallel path lists: left[i],
// right[i] and disp[i] form one sample. disp may be nil when cfg.LoadOnly is
// set. The sample name is the base name of the left image.
func NewStereoDataset(left, right, disp []string, cfg StereoConfig) (*StereoDataset, error) {
	if len(left) == 0 {
		return nil, fmt.Errorf("%w: no stereo pairs given", ErrConfig)
	}
	if len(right) != len(left) {
		return nil, fmt.Errorf("%w: %d left images but %d right images", ErrConfig, len(left), len(right))
	}
	if !cfg.LoadOnly && len(disp) != len(left) {
		return nil, fmt.Errorf("%w: %d left images but %d disparity maps", ErrConfig, len(left), len(disp))
	}
	if cfg.Norm == (NormStats{}) {
		cfg.Norm = DefaultImageNorm
	}
	if cfg.Loader == nil {
		cfg.Loader = LoadImage
	}
	if cfg.DispLoader == nil {
		cfg.DispLoader = LoadDisparity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	ds := &StereoDataset{
		cfg:   cfg,
		left:  left,
		right: right,
		disp:  disp,
		order: make([]int, len(left)),
		rng:   rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)>>1)),
	}
	for i := range ds.order {
		ds.order[i] = i
	}
	return ds, nil
}

// Len returns the number of stereo pairs.
func (d *StereoDataset) Len() int {
	return len(d.left)
}

// Name returns the dataset name for gomlx training loops.
func (d *StereoDataset) Name() string {
	return "StereoDataset"
}

// At loads and processes the pair at index. Training mode crops a random
// 512x256 window that fits the image; evaluation mode crops the bottom-right
// 1232x368 window. Both images and the disparity map are cropped identically;
// disparity raw values are scaled by 1/256 and the images normalized with the
// configured statistics.
func (d *StereoDataset) At(index int) (*StereoItem, error) {
	if index < 0 || index >= len(d.left) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.left))
	}

	leftImg, err := d.cfg.Loader(d.left[index])
	if err != nil {
		return nil, err
	}
	rightImg, err := d.cfg.Loader(d.right[index])
	if err != nil {
		return nil, err
	}
	lb, rb := leftImg.Bounds(), rightImg.Bounds()
	if lb.Dx() != rb.Dx() || lb.Dy() != rb.Dy() {
		return nil, fmt.Errorf("%w: stereo pair %s: left is %dx%d but right is %dx%d",
			ErrSchema, d.left[index], lb.Dx(), lb.Dy(), rb.Dx(), rb.Dy())
	}

	var dispImg image.Image
	if !d.cfg.LoadOnly {
		if dispImg, err = d.cfg.DispLoader(d.disp[index]); err != nil {
			return nil, err
		}
	}

	cw, ch := evalCropWidth, evalCropHeight
	if d.cfg.Training {
		cw, ch = trainCropWidth, trainCropHeight
	}
	w, h := lb.Dx(), lb.Dy()
	if w < cw || h < ch {
		return nil, fmt.Errorf("%w: image %s is %dx%d, smaller than the %dx%d crop window",
			ErrConfig, d.left[index], w, h, cw, ch)
	}

	var rect image.Rectangle
	if d.cfg.Training {
		d.mu.Lock()
		x1 := d.rng.IntN(w - cw + 1)
		y1 := d.rng.IntN(h - ch + 1)
		d.mu.Unlock()
		rect = image.Rect(lb.Min.X+x1, lb.Min.Y+y1, lb.Min.X+x1+cw, lb.Min.Y+y1+ch)
	} else {
		rect = image.Rect(lb.Max.X-cw, lb.Max.Y-ch, lb.Max.X, lb.Max.Y)
	}

	leftCrop := imaging.Crop(leftImg, rect)
	rightCrop := imaging.Crop(rightImg, rect)

	disparity := make([]float32, ch*cw)
	if dispImg != nil {
		for y := 0; y < ch; y++ {
			for x := 0; x < cw; x++ {
				disparity[y*cw+x] = disparityValue(dispImg, rect.Min.X+x, rect.Min.Y+y)
			}
		}
	}

	return &StereoItem{
		Left:       normalizeCHW(leftCrop, d.cfg.Norm),
		Right:      normalizeCHW(rightCrop, d.cfg.Norm),
		Disparity:  disparity,
		Width:      cw,
		Height:     ch,
		FullWidth:  w,
		FullHeight: h,
		Name:       filepath.Base(d.left[index]),
	}, nil
}

// Tensors converts the item into gomlx tensors: two CHW image tensors and a
// HW disparity tensor.
func (it *StereoItem) Tensors() (left, right, disparity *tensors.Tensor) {
	left = tensors.FromAnyValue(chwNested(it.Left, it.Height, it.Width))
	right = tensors.FromAnyValue(chwNested(it.Right, it.Height, it.Width))
	disparity = tensors.FromAnyValue(hwNested(it.Disparity, it.Height, it.Width))
	return left, right, disparity
}

// Yield returns the next batch for the gomlx Dataset interface. Inputs hold
// the left and right image tensors (batch x 3 x H x W); labels hold the
// disparity tensor (batch x H x W). Returns io.EOF once the epoch is
// exhausted; Restart begins the next epoch.
func (d *StereoDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
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
	lefts := make([][][][]float32, n)
	rights := make([][][][]float32, n)
	disps := make([][][]float32, n)
	for i, idx := range batch {
		item, err := d.At(idx)
		if err != nil {
			return nil, nil, nil, err
		}
		lefts[i] = chwNested(item.Left, item.Height, item.Width)
		rights[i] = chwNested(item.Right, item.Height, item.Width)
		disps[i] = hwNested(item.Disparity, item.Height, item.Width)
	}

	inputs = []*tensors.Tensor{tensors.FromAnyValue(lefts), tensors.FromAnyValue(rights)}
	labels = []*tensors.Tensor{tensors.FromAnyValue(disps)}
	return nil, inputs, labels, nil
}

// Restart resets the epoch cursor.
func (d *StereoDataset) Restart() error {
	d.mu.Lock()
	d.cursor = 0
	d.mu.Unlock()
	return nil
}

// Shuffle permutes the iteration order used by Yield. Indices passed to At
// are unaffected.
func (d *StereoDataset) Shuffle(seed int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1))
	rng.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

// chwNested reshapes a planar CHW buffer into nested slices sharing the
// backing array.
func chwNested(buf []float32, h, w int) [][][]float32 {
	out := make([][][]float32, 3)
	for c := 0; c < 3; c++ {
		plane := make([][]float32, h)
		for y := 0; y < h; y++ {
			start := c*h*w + y*w
			plane[y] = buf[start : start+w]
		}
		out[c] = plane
	}
	return out
}

// hwNested reshapes a HW buffer into nested rows sharing the backing array.
func hwNested(buf []float32, h, w int) [][]float32 {
	out := make([][]float32, h)
	for y := 0; y < h; y++ {
		out[y] = buf[y*w : y*w+w]
	}
	return out
}
