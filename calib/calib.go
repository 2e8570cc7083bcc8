// Package calib loads and validates the stereo rig parameters produced by
// offline calibration: per-camera intrinsic matrices with Brown-Conrady
// distortion, and the rotation/translation between the two cameras.
package calib

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoCalibration is when the stereo rig parameters are not available.
var ErrNoCalibration = errors.New("stereo calibration parameters are not available")

// NewNoCalibrationError is used when a required calibration field is missing
// or invalid.
func NewNoCalibrationError(msg string) error {
	return errors.Wrap(ErrNoCalibration, msg)
}

// CameraIntrinsics holds one camera's 3x3 matrix and distortion coefficients.
// The distortion model is Brown-Conrady: k1, k2, p1, p2, k3.
type CameraIntrinsics struct {
	Matrix     [3][3]float64
	Distortion [5]float64
}

// Fx returns the x focal length in pixels.
func (ci *CameraIntrinsics) Fx() float64 { return ci.Matrix[0][0] }

// Fy returns the y focal length in pixels.
func (ci *CameraIntrinsics) Fy() float64 { return ci.Matrix[1][1] }

// Ppx returns the x coordinate of the principal point.
func (ci *CameraIntrinsics) Ppx() float64 { return ci.Matrix[0][2] }

// Ppy returns the y coordinate of the principal point.
func (ci *CameraIntrinsics) Ppy() float64 { return ci.Matrix[1][2] }

// CheckValid checks if the fields of CameraIntrinsics have valid inputs.
func (ci *CameraIntrinsics) CheckValid() error {
	if ci == nil {
		return NewNoCalibrationError("intrinsics do not exist")
	}
	if ci.Fx() <= 0 {
		return NewNoCalibrationError(fmt.Sprintf("invalid focal length Fx = %#v", ci.Fx()))
	}
	if ci.Fy() <= 0 {
		return NewNoCalibrationError(fmt.Sprintf("invalid focal length Fy = %#v", ci.Fy()))
	}
	if ci.Ppx() < 0 {
		return NewNoCalibrationError(fmt.Sprintf("invalid principal X point Ppx = %#v", ci.Ppx()))
	}
	if ci.Ppy() < 0 {
		return NewNoCalibrationError(fmt.Sprintf("invalid principal Y point Ppy = %#v", ci.Ppy()))
	}
	if ci.Matrix[2][2] != 1 {
		return NewNoCalibrationError(fmt.Sprintf("camera matrix is not normalized, m22 = %#v", ci.Matrix[2][2]))
	}
	return nil
}

// CameraMatrix returns the 3x3 camera matrix as a gonum matrix.
// Camera matrix:
// [[fx s ppx],
//
//	[0 fy ppy],
//	[0 0   1]]
func (ci *CameraIntrinsics) CameraMatrix() *mat.Dense {
	if ci == nil {
		return nil
	}
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, ci.Matrix[i][j])
		}
	}
	return out
}

// StereoExtrinsics is the pose of the second camera in the frame of the
// first: rotation matrix and translation vector (mm).
type StereoExtrinsics struct {
	Rotation    [3][3]float64
	Translation r3.Vector
}

// RotationMatrix returns the rotation as a gonum matrix.
func (se *StereoExtrinsics) RotationMatrix() *mat.Dense {
	if se == nil {
		return nil
	}
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, se.Rotation[i][j])
		}
	}
	return out
}

// Baseline returns the distance between the two camera centers in mm.
func (se *StereoExtrinsics) Baseline() float64 {
	return se.Translation.Norm()
}

// CheckValid checks the extrinsics for a degenerate rig.
func (se *StereoExtrinsics) CheckValid() error {
	if se == nil {
		return NewNoCalibrationError("extrinsics do not exist")
	}
	if se.Baseline() == 0 {
		return NewNoCalibrationError("stereo baseline is zero")
	}
	return nil
}

// StereoCalibration aggregates everything needed to rectify a stereo pair.
type StereoCalibration struct {
	Left       CameraIntrinsics
	Right      CameraIntrinsics
	Extrinsics StereoExtrinsics
}

// CheckValid validates both cameras and the extrinsics.
func (sc *StereoCalibration) CheckValid() error {
	if sc == nil {
		return NewNoCalibrationError("calibration does not exist")
	}
	if err := sc.Left.CheckValid(); err != nil {
		return errors.Wrap(err, "left camera")
	}
	if err := sc.Right.CheckValid(); err != nil {
		return errors.Wrap(err, "right camera")
	}
	return sc.Extrinsics.CheckValid()
}
