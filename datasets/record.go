package datasets

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// A point record is stored as a NumPy .npz archive (a zip of .npy members),
// one file per object instance. Required members:
//
//	img_id        int64,   length 1
//	frustum_angle float64, length 1
//	heading       float64, length 1
//	box3d_center  float64, length 3
//	box3d_size    float64, length 3  (l,w,h)
//	point_2d      float64, NxC, first 3 columns x,y,z in the camera frame
//	label         int64,   length N, per-point segmentation class
//
// Optional members point_velo / velo_label carry the same cloud expressed in
// the lidar frame and are required only when a PointDataset is configured
// with LidarFrame.
const (
	memberImageID      = "img_id"
	memberFrustumAngle = "frustum_angle"
	memberHeading      = "heading"
	memberBoxCenter    = "box3d_center"
	memberBoxSize      = "box3d_size"
	memberPoints       = "point_2d"
	memberLabels       = "label"
	memberLidarPoints  = "point_velo"
	memberLidarLabels  = "velo_label"
)

// PointRecord is one decoded object instance as stored on disk.
type PointRecord struct {
	ImageID      int64
	FrustumAngle float64
	Heading      float64
	Center       [3]float64
	Size         [3]float64

	// Points is NxC with the first three columns x,y,z (camera frame);
	// Labels has one segmentation class per row of Points.
	Points *mat.Dense
	Labels []int64

	// Lidar-frame variants, nil when absent from the record.
	LidarPoints *mat.Dense
	LidarLabels []int64
}

// ReadPointRecord decodes a .npz point record from disk. A file that cannot
// be opened or whose members do not decode wraps ErrLoad; a decodable archive
// missing a required member, or with mismatched point/label lengths, wraps
// ErrSchema.
func ReadPointRecord(path string) (*PointRecord, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open record %s: %v", ErrLoad, path, err)
	}
	defer zr.Close()

	members := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		members[strings.TrimSuffix(f.Name, ".npy")] = f
	}

	rec := &PointRecord{}
	if rec.ImageID, err = recordInt(members, path, memberImageID); err != nil {
		return nil, err
	}
	if rec.FrustumAngle, err = recordScalar(members, path, memberFrustumAngle); err != nil {
		return nil, err
	}
	if rec.Heading, err = recordScalar(members, path, memberHeading); err != nil {
		return nil, err
	}
	if rec.Center, err = recordVec3(members, path, memberBoxCenter); err != nil {
		return nil, err
	}
	if rec.Size, err = recordVec3(members, path, memberBoxSize); err != nil {
		return nil, err
	}
	if rec.Points, err = recordMatrix(members, path, memberPoints); err != nil {
		return nil, err
	}
	if rec.Labels, err = recordInts(members, path, memberLabels); err != nil {
		return nil, err
	}
	if rows, _ := rec.Points.Dims(); rows != len(rec.Labels) {
		return nil, fmt.Errorf("%w: %s: %d points but %d labels", ErrSchema, path, rows, len(rec.Labels))
	}

	if _, ok := members[memberLidarPoints]; ok {
		if rec.LidarPoints, err = recordMatrix(members, path, memberLidarPoints); err != nil {
			return nil, err
		}
		if rec.LidarLabels, err = recordInts(members, path, memberLidarLabels); err != nil {
			return nil, err
		}
		if rows, _ := rec.LidarPoints.Dims(); rows != len(rec.LidarLabels) {
			return nil, fmt.Errorf("%w: %s: %d lidar points but %d labels", ErrSchema, path, rows, len(rec.LidarLabels))
		}
	}
	return rec, nil
}

// WritePointRecord encodes a record as a .npz archive. Used by dataset
// preparation tooling and test fixtures.
func WritePointRecord(path string, rec *PointRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create record %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	write := func(key string, val any) {
		if err != nil {
			return
		}
		var w io.Writer
		if w, err = zw.Create(key + ".npy"); err == nil {
			err = npyio.Write(w, val)
		}
		if err != nil {
			err = fmt.Errorf("write member %s of %s: %w", key, path, err)
		}
	}

	write(memberImageID, []int64{rec.ImageID})
	write(memberFrustumAngle, []float64{rec.FrustumAngle})
	write(memberHeading, []float64{rec.Heading})
	write(memberBoxCenter, rec.Center[:])
	write(memberBoxSize, rec.Size[:])
	write(memberPoints, rec.Points)
	write(memberLabels, rec.Labels)
	if rec.LidarPoints != nil {
		write(memberLidarPoints, rec.LidarPoints)
		write(memberLidarLabels, rec.LidarLabels)
	}
	if err != nil {
		return err
	}
	return zw.Close()
}

func openMember(members map[string]*zip.File, path, key string) (io.ReadCloser, error) {
	f, ok := members[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing member %q", ErrSchema, path, key)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: open member %q: %v", ErrLoad, path, key, err)
	}
	return rc, nil
}

func recordFloats(members map[string]*zip.File, path, key string) ([]float64, error) {
	rc, err := openMember(members, path, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var vals []float64
	if err := npyio.Read(rc, &vals); err != nil {
		return nil, fmt.Errorf("%w: %s: decode member %q: %v", ErrLoad, path, key, err)
	}
	return vals, nil
}

func recordScalar(members map[string]*zip.File, path, key string) (float64, error) {
	vals, err := recordFloats(members, path, key)
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("%w: %s: member %q has %d values, want 1", ErrSchema, path, key, len(vals))
	}
	return vals[0], nil
}

func recordVec3(members map[string]*zip.File, path, key string) ([3]float64, error) {
	vals, err := recordFloats(members, path, key)
	if err != nil {
		return [3]float64{}, err
	}
	if len(vals) != 3 {
		return [3]float64{}, fmt.Errorf("%w: %s: member %q has %d values, want 3", ErrSchema, path, key, len(vals))
	}
	return [3]float64{vals[0], vals[1], vals[2]}, nil
}

func recordInt(members map[string]*zip.File, path, key string) (int64, error) {
	vals, err := recordInts(members, path, key)
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("%w: %s: member %q has %d values, want 1", ErrSchema, path, key, len(vals))
	}
	return vals[0], nil
}

func recordInts(members map[string]*zip.File, path, key string) ([]int64, error) {
	rc, err := openMember(members, path, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var vals []int64
	if err := npyio.Read(rc, &vals); err != nil {
		return nil, fmt.Errorf("%w: %s: decode member %q: %v", ErrLoad, path, key, err)
	}
	return vals, nil
}

func recordMatrix(members map[string]*zip.File, path, key string) (*mat.Dense, error) {
	rc, err := openMember(members, path, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var m mat.Dense
	if err := npyio.Read(rc, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: decode member %q: %v", ErrLoad, path, key, err)
	}
	if _, cols := m.Dims(); cols < 3 {
		return nil, fmt.Errorf("%w: %s: member %q has %d columns, want at least 3", ErrSchema, path, key, cols)
	}
	return &m, nil
}
