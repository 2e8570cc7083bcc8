package dmap

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Raw float map format: two little-endian uint64s for width and height,
// followed by width*height little-endian float32s in row-major order.

// WriteTo streams the map in the raw format.
func (fm *FloatMap) WriteTo(out io.Writer) error {
	buf := make([]byte, 8)

	binary.LittleEndian.PutUint64(buf, uint64(fm.width))
	_, err := out.Write(buf)
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint64(buf, uint64(fm.height))
	_, err = out.Write(buf)
	if err != nil {
		return err
	}

	for y := 0; y < fm.height; y++ {
		for x := 0; x < fm.width; x++ {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(fm.GetXY(x, y)))
			_, err = out.Write(buf[:4])
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// WriteToFile writes the map to a file, gzipping when the name ends in .gz.
func (fm *FloatMap) WriteToFile(fn string) error {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	var gout *gzip.Writer
	var out io.Writer = f

	if filepath.Ext(fn) == ".gz" {
		gout = gzip.NewWriter(f)
		out = gout
	}

	err = fm.WriteTo(out)
	if err != nil {
		return err
	}

	if gout != nil {
		if err := gout.Flush(); err != nil {
			return err
		}
		if err := gout.Close(); err != nil {
			return err
		}
	}

	return f.Sync()
}

// ReadFloatMap parses a map from the raw format.
func ReadFloatMap(r io.Reader) (*FloatMap, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	width := int(binary.LittleEndian.Uint64(buf))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	height := int(binary.LittleEndian.Uint64(buf))

	if width <= 0 || height <= 0 || width*height > 100_000_000 {
		return nil, errors.Errorf("invalid float map dimensions %dx%d", width, height)
	}

	fm := NewFloatMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if _, err := io.ReadFull(r, buf[:4]); err != nil {
				return nil, err
			}
			fm.Set(x, y, math.Float32frombits(binary.LittleEndian.Uint32(buf[:4])))
		}
	}
	return fm, nil
}

// ParseFloatMapFromFile loads a map from a file, gunzipping when the name
// ends in .gz.
func ParseFloatMapFromFile(fn string) (*FloatMap, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	var r io.Reader = bufio.NewReader(f)
	if filepath.Ext(fn) == ".gz" {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer goutils.UncheckedErrorFunc(gz.Close)
		r = gz
	}
	return ReadFloatMap(r)
}
