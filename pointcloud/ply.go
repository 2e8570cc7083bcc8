package pointcloud

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ToPLY writes the cloud to out in ASCII PLY format. An optional comment
// line is embedded in the header. Positions are written in millimeters.
func ToPLY(cloud PointCloud, out io.Writer, comment string) error {
	if cloud == nil {
		return errors.New("cannot write a nil point cloud")
	}
	if cloud.Size() == 0 {
		return errors.New("point cloud has no points")
	}
	if _, err := fmt.Fprintf(out, "ply\nformat ascii 1.0\n"); err != nil {
		return err
	}
	if comment != "" {
		if _, err := fmt.Fprintf(out, "comment %s\n", comment); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(out, "element vertex %d\n"+
		"property float x\n"+
		"property float y\n"+
		"property float z\n",
		cloud.Size()); err != nil {
		return err
	}
	hasColor := cloud.MetaData().HasColor
	if hasColor {
		if _, err := fmt.Fprintf(out, "property uchar red\n"+
			"property uchar green\n"+
			"property uchar blue\n"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(out, "end_header\n"); err != nil {
		return err
	}

	var err error
	cloud.Iterate(func(p r3.Vector, c color.NRGBA) bool {
		if hasColor {
			_, err = fmt.Fprintf(out, "%f %f %f %d %d %d\n", p.X, p.Y, p.Z, c.R, c.G, c.B)
		} else {
			_, err = fmt.Fprintf(out, "%f %f %f\n", p.X, p.Y, p.Z)
		}
		return err == nil
	})
	return err
}

// WriteToPLYFile writes the cloud to the named file in ASCII PLY format.
func WriteToPLYFile(fn string, cloud PointCloud, comment string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	w := bufio.NewWriter(f)
	if err := ToPLY(cloud, w, comment); err != nil {
		return err
	}
	return w.Flush()
}
