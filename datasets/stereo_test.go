package datasets

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeColorPNG(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func writeDisparityPNG(t *testing.T, path string, w, h int, raw func(x, y int) uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: raw(x, y)})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// stereoFixture writes one uniform stereo pair plus disparity and returns the
// three path lists.
func stereoFixture(t *testing.T, w, h int, raw func(x, y int) uint16) (left, right, disp []string) {
	t.Helper()
	tmp := t.TempDir()
	l := filepath.Join(tmp, "0001_left.png")
	r := filepath.Join(tmp, "0001_right.png")
	d := filepath.Join(tmp, "0001_disp.png")
	writeColorPNG(t, l, w, h, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
	writeColorPNG(t, r, w, h, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
	writeDisparityPNG(t, d, w, h, raw)
	return []string{l}, []string{r}, []string{d}
}

func TestStereoEvalCrop(t *testing.T) {
	const w, h = 1300, 400
	left, right, disp := stereoFixture(t, w, h, func(x, y int) uint16 {
		return uint16(x % 1000)
	})

	ds, err := NewStereoDataset(left, right, disp, StereoConfig{Seed: 21})
	if err != nil {
		t.Fatalf("NewStereoDataset failed: %v", err)
	}
	if ds.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ds.Len())
	}

	item, err := ds.At(0)
	if err != nil {
		t.Fatalf("At(0) failed: %v", err)
	}
	if item.Width != evalCropWidth || item.Height != evalCropHeight {
		t.Fatalf("crop is %dx%d, want %dx%d", item.Width, item.Height, evalCropWidth, evalCropHeight)
	}
	if item.FullWidth != w || item.FullHeight != h {
		t.Fatalf("full size %dx%d, want %dx%d", item.FullWidth, item.FullHeight, w, h)
	}
	if len(item.Left) != 3*evalCropHeight*evalCropWidth || len(item.Right) != len(item.Left) {
		t.Fatalf("image buffers have %d/%d values, want %d", len(item.Left), len(item.Right), 3*evalCropHeight*evalCropWidth)
	}
	if item.Name != "0001_left.png" {
		t.Fatalf("name %q, want 0001_left.png", item.Name)
	}

	// The eval crop is the bottom-right window, so crop x maps to source
	// x + (w - 1232). Disparity is the raw value over 256.
	x0 := w - evalCropWidth
	for _, x := range []int{0, 5, 700, evalCropWidth - 1} {
		want := float32((x0+x)%1000) / 256
		if got := item.Disparity[100*evalCropWidth+x]; got != want {
			t.Fatalf("disparity at x=%d is %v, want %v", x, got, want)
		}
	}

	// Uniform pixels normalize to ((v/255)-mean)/std per channel.
	pixels := [3]float64{100, 150, 200}
	for c := 0; c < 3; c++ {
		want := (pixels[c]/255 - DefaultImageNorm.Mean[c]) / DefaultImageNorm.Std[c]
		got := float64(item.Left[c*evalCropHeight*evalCropWidth])
		if math.Abs(got-want) > 1e-5 {
			t.Fatalf("channel %d normalized to %v, want %v", c, got, want)
		}
	}
}

func TestStereoTrainingCrop(t *testing.T) {
	const w, h = 600, 300
	left, right, disp := stereoFixture(t, w, h, func(x, y int) uint16 {
		return 512
	})

	ds, err := NewStereoDataset(left, right, disp, StereoConfig{Training: true, Seed: 17})
	if err != nil {
		t.Fatalf("NewStereoDataset failed: %v", err)
	}
	item, err := ds.At(0)
	if err != nil {
		t.Fatalf("At(0) failed: %v", err)
	}
	if item.Width != trainCropWidth || item.Height != trainCropHeight {
		t.Fatalf("crop is %dx%d, want %dx%d", item.Width, item.Height, trainCropWidth, trainCropHeight)
	}
	if len(item.Disparity) != trainCropHeight*trainCropWidth {
		t.Fatalf("disparity has %d values, want %d", len(item.Disparity), trainCropHeight*trainCropWidth)
	}
	for i, v := range item.Disparity {
		if v != 2.0 {
			t.Fatalf("disparity[%d] = %v, want 2.0 (raw 512 / 256)", i, v)
		}
	}
}

func TestStereoLoadOnly(t *testing.T) {
	const w, h = 600, 300
	left, right, _ := stereoFixture(t, w, h, func(x, y int) uint16 { return 1 })

	ds, err := NewStereoDataset(left, right, nil, StereoConfig{Training: true, LoadOnly: true, Seed: 2})
	if err != nil {
		t.Fatalf("NewStereoDataset failed: %v", err)
	}
	item, err := ds.At(0)
	if err != nil {
		t.Fatalf("At(0) failed: %v", err)
	}
	for i, v := range item.Disparity {
		if v != 0 {
			t.Fatalf("disparity[%d] = %v, want 0 sentinel in load-only mode", i, v)
		}
	}
}

func TestStereoCropTooLarge(t *testing.T) {
	left, right, disp := stereoFixture(t, 400, 200, func(x, y int) uint16 { return 0 })

	ds, err := NewStereoDataset(left, right, disp, StereoConfig{Training: true, Seed: 4})
	if err != nil {
		t.Fatalf("NewStereoDataset failed: %v", err)
	}
	if _, err := ds.At(0); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v, want ErrConfig for undersized training image", err)
	}

	ds, err = NewStereoDataset(left, right, disp, StereoConfig{Seed: 4})
	if err != nil {
		t.Fatalf("NewStereoDataset failed: %v", err)
	}
	if _, err := ds.At(0); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v, want ErrConfig for undersized evaluation image", err)
	}
}

func TestStereoPairMismatch(t *testing.T) {
	tmp := t.TempDir()
	l := filepath.Join(tmp, "l.png")
	r := filepath.Join(tmp, "r.png")
	d := filepath.Join(tmp, "d.png")
	writeColorPNG(t, l, 600, 300, color.NRGBA{A: 255})
	writeColorPNG(t, r, 500, 300, color.NRGBA{A: 255})
	writeDisparityPNG(t, d, 600, 300, func(x, y int) uint16 { return 0 })

	ds, err := NewStereoDataset([]string{l}, []string{r}, []string{d}, StereoConfig{Training: true, Seed: 6})
	if err != nil {
		t.Fatalf("NewStereoDataset failed: %v", err)
	}
	if _, err := ds.At(0); !errors.Is(err, ErrSchema) {
		t.Fatalf("got %v, want ErrSchema for mismatched pair", err)
	}
}

func TestStereoMissingFile(t *testing.T) {
	tmp := t.TempDir()
	l := filepath.Join(tmp, "missing_left.png")
	r := filepath.Join(tmp, "missing_right.png")

	ds, err := NewStereoDataset([]string{l}, []string{r}, nil, StereoConfig{LoadOnly: true, Seed: 8})
	if err != nil {
		t.Fatalf("NewStereoDataset failed: %v", err)
	}
	if _, err := ds.At(0); !errors.Is(err, ErrLoad) {
		t.Fatalf("got %v, want ErrLoad", err)
	}
}

func TestStereoListLengthMismatch(t *testing.T) {
	if _, err := NewStereoDataset([]string{"a", "b"}, []string{"a"}, nil, StereoConfig{LoadOnly: true}); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v, want ErrConfig", err)
	}
	if _, err := NewStereoDataset([]string{"a"}, []string{"a"}, nil, StereoConfig{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v, want ErrConfig when disparity list is missing", err)
	}
}

func TestStereoCustomLoader(t *testing.T) {
	calls := 0
	loader := func(path string) (image.Image, error) {
		calls++
		return image.NewNRGBA(image.Rect(0, 0, 600, 300)), nil
	}

	ds, err := NewStereoDataset([]string{"synthetic_left"}, []string{"synthetic_right"}, nil,
		StereoConfig{Training: true, LoadOnly: true, Loader: loader, Seed: 12})
	if err != nil {
		t.Fatalf("NewStereoDataset failed: %v", err)
	}
	if _, err := ds.At(0); err != nil {
		t.Fatalf("At(0) failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("custom loader called %d times, want 2", calls)
	}
}

func TestStereoYield(t *testing.T) {
	left, right, disp := stereoFixture(t, 600, 300, func(x, y int) uint16 { return 256 })

	ds, err := NewStereoDataset(left, right, disp, StereoConfig{Training: true, BatchSize: 1, Seed: 3})
	if err != nil {
		t.Fatalf("NewStereoDataset failed: %v", err)
	}
	_, inputs, labels, err := ds.Yield()
	if err != nil {
		t.Fatalf("Yield failed: %v", err)
	}
	if len(inputs) != 2 || len(labels) != 1 {
		t.Fatalf("got %d input and %d label tensors, want 2 and 1", len(inputs), len(labels))
	}
	if inputs[0] == nil || inputs[1] == nil || labels[0] == nil {
		t.Fatalf("Yield returned nil tensor(s)")
	}
	if _, _, _, err := ds.Yield(); err == nil {
		t.Fatalf("second Yield should end the epoch")
	}
	if err := ds.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if _, _, _, err := ds.Yield(); err != nil {
		t.Fatalf("Yield after Restart failed: %v", err)
	}
}
