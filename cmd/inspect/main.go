// Command inspect opens a point or stereo dataset, fetches a few items and
// prints their shapes and statistics. It is the quickest way to sanity-check
// a prepared dataset directory before starting a training run. Optionally it
// writes a scatter plot of the first frustum point cloud.
//
// Usage:
//
//	inspect -points data/pickle_car_train [-lidar] [-plot cloud.png]
//	inspect -left data/left -right data/right -disp data/disp [-train]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/stereovision/kittidata/datasets"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	pointsDir = flag.String("points", "", "directory of .npz frustum point records")
	lidar     = flag.Bool("lidar", false, "use the lidar-frame members of each record")
	numPoints = flag.Int("num-points", 1024, "points sampled per item")
	numAngles = flag.Int("num-angles", 12, "heading angle classes")

	leftDir  = flag.String("left", "", "directory of left images")
	rightDir = flag.String("right", "", "directory of right images")
	dispDir  = flag.String("disp", "", "directory of disparity maps (omit for load-only mode)")
	train    = flag.Bool("train", false, "use training-mode random crops")

	count    = flag.Int("n", 3, "number of items to fetch")
	seed     = flag.Int64("seed", 1, "augmentation/crop seed")
	plotPath = flag.String("plot", "", "write a scatter plot of the first point cloud (x/z plane)")
)

func main() {
	flag.Parse()

	switch {
	case *pointsDir != "":
		if err := inspectPoints(); err != nil {
			log.Fatalf("inspect points: %v", err)
		}
	case *leftDir != "" && *rightDir != "":
		if err := inspectStereo(); err != nil {
			log.Fatalf("inspect stereo: %v", err)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func inspectPoints() error {
	ds, err := datasets.NewPointDataset(*pointsDir, datasets.PointConfig{
		NumPoints:       *numPoints,
		NumAngleClasses: *numAngles,
		LidarFrame:      *lidar,
		Seed:            *seed,
	})
	if err != nil {
		return err
	}
	fmt.Printf("point dataset: %d records in %s\n", ds.Len(), *pointsDir)

	n := min(*count, ds.Len())
	for i := 0; i < n; i++ {
		item, err := ds.At(i)
		if err != nil {
			return err
		}
		fmt.Printf("  [%d] %s: points %dx%d, image %d, angle class %d (residual %+.4f), size residual %v\n",
			i, item.Name, item.NumPoints, item.Channels, item.ImageID,
			item.AngleClass, item.AngleResidual, item.SizeResidual)
		if i == 0 && *plotPath != "" {
			if err := plotCloud(item, *plotPath); err != nil {
				return err
			}
			fmt.Printf("  wrote %s\n", *plotPath)
		}
	}
	return nil
}

func inspectStereo() error {
	left, err := listImages(*leftDir)
	if err != nil {
		return err
	}
	right, err := listImages(*rightDir)
	if err != nil {
		return err
	}
	var disp []string
	if *dispDir != "" {
		if disp, err = listImages(*dispDir); err != nil {
			return err
		}
	}

	ds, err := datasets.NewStereoDataset(left, right, disp, datasets.StereoConfig{
		Training: *train,
		LoadOnly: *dispDir == "",
		Seed:     *seed,
	})
	if err != nil {
		return err
	}
	fmt.Printf("stereo dataset: %d pairs\n", ds.Len())

	n := min(*count, ds.Len())
	for i := 0; i < n; i++ {
		item, err := ds.At(i)
		if err != nil {
			return err
		}
		vals := make([]float64, len(item.Disparity))
		for j, v := range item.Disparity {
			vals[j] = float64(v)
		}
		fmt.Printf("  [%d] %s: crop %dx%d of %dx%d, mean disparity %.3f (stddev %.3f)\n",
			i, item.Name, item.Width, item.Height, item.FullWidth, item.FullHeight,
			stat.Mean(vals, nil), stat.StdDev(vals, nil))
	}
	return nil
}

// listImages returns the supported raster files of dir in sorted order.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image directory %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && datasets.IsImageFile(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// plotCloud writes an x/z scatter of the frustum-rotated cloud.
func plotCloud(item *datasets.PointItem, path string) error {
	xys := make(plotter.XYs, item.NumPoints)
	for i := 0; i < item.NumPoints; i++ {
		xys[i].X = float64(item.Points[i*item.Channels+0])
		xys[i].Y = float64(item.Points[i*item.Channels+2])
	}
	p := plot.New()
	p.Title.Text = item.Name
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "z (m)"
	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return err
	}
	p.Add(scatter)
	return p.Save(6*vg.Inch, 6*vg.Inch, path)
}
