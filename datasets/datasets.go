package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// This package provides two dataset implementations used to train
// stereo-matching and frustum point-based 3D detection models on KITTI-style
// data:
//
// PointDataset
//   - One .npz record per object instance: a point cloud cropped to the
//     object's viewing frustum, per-point segmentation labels and the 3D box
//     annotation (center, size, heading).
//   - Each access subsamples the cloud to a fixed size, optionally augments
//     it, re-expresses the geometry in the frustum-centered frame and encodes
//     heading and box size as class+residual regression targets.
//
// StereoDataset
//   - Left/right image pairs with optional disparity ground truth stored as
//     16-bit fixed-point rasters (raw value / 256 = disparity in pixels).
//   - Training accesses take a random 512x256 crop; evaluation accesses take
//     the bottom-right 1232x368 window. Pixels are normalized with
//     per-channel mean/std statistics.
//
// Both datasets use lazy loading - they store file paths at construction and
// only read the actual data when an item is fetched, minimizing memory usage.
// An access either completes or returns an error for that index; there is no
// retry or skip policy in this package. Items are materialized fresh on every
// access, so concurrent fetches from worker goroutines are safe; give each
// worker's dataset its own Seed to decorrelate augmentation draws.
//
// The datasets implement this interface in order to interact with GoMLX
// training loops and batching utilities.
type Dataset interface {
	Len() int
	Name() string
	Shuffle(seed int64)

	// To implement gomlx's train.Dataset interface
	Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error)
	Restart() error
}

var (
	_ Dataset = (*PointDataset)(nil)
	_ Dataset = (*StereoDataset)(nil)
)
