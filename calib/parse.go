package calib

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Calibration parameter file names as written by the rig's calibration tool.
const (
	LeftIntrinsicsFile  = "camera0_intrinsics.dat"
	RightIntrinsicsFile = "camera1_intrinsics.dat"
	RotTransFile        = "camera1_rot_trans.dat"
)

// LoadFromDirectory reads the three parameter files from dir. A missing or
// malformed file is an error.
func LoadFromDirectory(dir string, logger golog.Logger) (*StereoCalibration, error) {
	left, err := ParseIntrinsicsFile(filepath.Join(dir, LeftIntrinsicsFile))
	if err != nil {
		return nil, err
	}
	right, err := ParseIntrinsicsFile(filepath.Join(dir, RightIntrinsicsFile))
	if err != nil {
		return nil, err
	}
	extr, err := ParseRotTransFile(filepath.Join(dir, RotTransFile))
	if err != nil {
		return nil, err
	}
	sc := &StereoCalibration{Left: *left, Right: *right, Extrinsics: *extr}
	if err := sc.CheckValid(); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debugw("loaded stereo calibration",
			"dir", dir,
			"left_fx", sc.Left.Fx(),
			"right_fx", sc.Right.Fx(),
			"baseline_mm", sc.Extrinsics.Baseline(),
		)
	}
	return sc, nil
}

// ParseIntrinsicsFile reads one camera's intrinsics from a .dat file. The
// format is an "intrinsic:" label, three rows of three numbers, a
// "distortion:" label, then distortion coefficients separated by commas or
// whitespace, possibly wrapped over several lines. Fewer than five
// coefficients are padded with zeros.
func ParseIntrinsicsFile(fn string) (*CameraIntrinsics, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open intrinsics file %q", fn)
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	intr, err := ReadIntrinsics(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %q", fn)
	}
	return intr, nil
}

// ReadIntrinsics parses the intrinsics format from a reader.
func ReadIntrinsics(r *bufio.Reader) (*CameraIntrinsics, error) {
	if err := expectLabel(r, "intrinsic:"); err != nil {
		return nil, err
	}
	intr := &CameraIntrinsics{}
	m, err := read3x3(r)
	if err != nil {
		return nil, errors.Wrap(err, "camera matrix")
	}
	intr.Matrix = m

	if err := expectLabel(r, "distortion:"); err != nil {
		return nil, err
	}
	// coefficients may be split over several lines; scan a bounded number of
	// lines and pad with zeros when fewer than five are present
	coeffs := make([]float64, 0, 5)
	for line := 0; line < 8 && len(coeffs) < 5; line++ {
		text, err := r.ReadString('\n')
		vals, verr := splitNumbers(text)
		if verr != nil {
			return nil, errors.Wrap(verr, "distortion coefficients")
		}
		coeffs = append(coeffs, vals...)
		if err != nil {
			break
		}
	}
	if len(coeffs) > 5 {
		coeffs = coeffs[:5]
	}
	copy(intr.Distortion[:], coeffs)
	return intr, nil
}

// ParseRotTransFile reads the stereo extrinsics from a .dat file: an "R:"
// label, three rows of three numbers, a "T:" label, and three numbers each
// on its own line.
func ParseRotTransFile(fn string) (*StereoExtrinsics, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open rotation/translation file %q", fn)
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	extr, err := ReadRotTrans(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %q", fn)
	}
	return extr, nil
}

// ReadRotTrans parses the extrinsics format from a reader.
func ReadRotTrans(r *bufio.Reader) (*StereoExtrinsics, error) {
	if err := expectLabel(r, "r:"); err != nil {
		return nil, err
	}
	rot, err := read3x3(r)
	if err != nil {
		return nil, errors.Wrap(err, "rotation matrix")
	}
	if err := expectLabel(r, "t:"); err != nil {
		return nil, err
	}
	var t [3]float64
	for i := 0; i < 3; i++ {
		vals, err := readNumberLine(r, 1)
		if err != nil {
			return nil, errors.Wrapf(err, "translation row %d", i)
		}
		t[i] = vals[0]
	}
	return &StereoExtrinsics{
		Rotation:    rot,
		Translation: r3.Vector{X: t[0], Y: t[1], Z: t[2]},
	}, nil
}

func expectLabel(r *bufio.Reader, label string) error {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return errors.Wrapf(err, "expected %q header", label)
	}
	if !strings.Contains(strings.ToLower(line), label) {
		return errors.Errorf("expected %q header, got %q", label, strings.TrimSpace(line))
	}
	return nil
}

func read3x3(r *bufio.Reader) ([3][3]float64, error) {
	var m [3][3]float64
	for i := 0; i < 3; i++ {
		vals, err := readNumberLine(r, 3)
		if err != nil {
			return m, errors.Wrapf(err, "row %d", i)
		}
		copy(m[i][:], vals)
	}
	return m, nil
}

func readNumberLine(r *bufio.Reader, expect int) ([]float64, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return nil, errors.Wrap(err, "unexpected EOF")
	}
	vals, err := splitNumbers(line)
	if err != nil {
		return nil, err
	}
	if len(vals) != expect {
		return nil, errors.Errorf("expected %d numbers, got %d in %q", expect, len(vals), strings.TrimSpace(line))
	}
	return vals, nil
}

func splitNumbers(line string) ([]float64, error) {
	fields := strings.FieldsFunc(line, func(c rune) bool {
		return c == ',' || c == ' ' || c == '\t' || c == '\r' || c == '\n'
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Errorf("invalid number %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}
