// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tempstrip renders temperatures as a strip of colored cells in a
// terminal using ANSI color codes.
//
// Cold readings are blue, hot readings red. A cell for a sensor that could not
// be read is gray. It implements display.Drawer so raw RGB content can be
// drawn too.
package tempstrip

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"
)

// Opts represents the options available for this display.
type Opts struct {
	// X is the number of cells.
	X       int
	Palette *ansi256.Palette
	// Min and Max are the temperatures mapped to the coldest and hottest
	// colors. Readings outside are clamped.
	Min, Max physic.Temperature
	// W defaults to a color capable stdout.
	W io.Writer

	_ struct{}
}

// DefaultOpts renders 8 cells from -10°C to 85°C.
var DefaultOpts = Opts{
	X:   8,
	Min: physic.ZeroCelsius - 10*physic.Kelvin,
	Max: physic.ZeroCelsius + 85*physic.Kelvin,
}

// Disconnected is the color of a cell without a reading.
var Disconnected = color.NRGBA{0x40, 0x40, 0x40, 255}

// Dev is a temperature strip that outputs to the console.
type Dev struct {
	w        io.Writer
	l        int
	palette  ansi256.Palette
	min, max physic.Temperature

	pixels []byte
	buf    bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	return &Dev{
		w:       w,
		l:       opts.X,
		palette: *p,
		min:     opts.Min,
		max:     opts.Max,
		pixels:  make([]byte, 3*opts.X),
	}
}

func (d *Dev) String() string {
	return "TempStrip"
}

// Halt implements conn.Resource.
//
// It clears the display so it is not corrupted.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Color returns the color of a temperature.
func (d *Dev) Color(t physic.Temperature) color.NRGBA {
	if d.max <= d.min {
		return Disconnected
	}
	t = min(max(t, d.min), d.max)
	f := float64(t-d.min) / float64(d.max-d.min)
	return color.NRGBA{R: byte(f * 255), G: byte((1 - 2*math.Abs(f-0.5)) * 96), B: byte((1 - f) * 255), A: 255}
}

// Show renders one cell per reading, in order. ok[i] false marks reading i as
// missing. Readings beyond the number of cells are ignored and the remaining
// cells are blanked.
func (d *Dev) Show(temps []physic.Temperature, ok []bool) error {
	for i := range d.pixels {
		d.pixels[i] = 0
	}
	for i, t := range temps {
		if i >= d.l {
			break
		}
		c := Disconnected
		if i < len(ok) && ok[i] {
			c = d.Color(t)
		}
		d.pixels[3*i], d.pixels[3*i+1], d.pixels[3*i+2] = c.R, c.G, c.B
	}
	_, err := d.refresh()
	return err
}

// Write accepts a stream of raw RGB pixels and writes it to the console.
func (d *Dev) Write(pixels []byte) (int, error) {
	if len(pixels)%3 != 0 {
		return 0, errors.New("tempstrip: invalid RGB stream length")
	}
	copy(d.pixels, pixels)
	return d.refresh()
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rectangle{Max: image.Point{X: d.l, Y: 1}}
}

// Draw implements display.Drawer.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(d.Bounds())
	srcR := src.Bounds()
	srcR.Min = srcR.Min.Add(sp)
	if dX := r.Dx(); dX < srcR.Dx() {
		srcR.Max.X = srcR.Min.X + dX
	}
	if dY := r.Dy(); dY < srcR.Dy() {
		srcR.Max.Y = srcR.Min.Y + dY
	}
	deltaX3 := 3 * (r.Min.X - srcR.Min.X)
	for sX := srcR.Min.X; sX < srcR.Max.X; sX++ {
		r16, g16, b16, _ := src.At(sX, srcR.Min.Y).RGBA()
		dX3 := 3*sX + deltaX3
		d.pixels[dX3] = byte(r16 >> 8)
		d.pixels[dX3+1] = byte(g16 >> 8)
		d.pixels[dX3+2] = byte(b16 >> 8)
	}
	_, err := d.refresh()
	return err
}

func (d *Dev) refresh() (int, error) {
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for i := 0; i < len(d.pixels)/3; i++ {
		c := color.NRGBA{d.pixels[3*i], d.pixels[3*i+1], d.pixels[3*i+2], 255}
		_, _ = io.WriteString(&d.buf, d.palette.Block(c))
	}
	_, _ = d.buf.WriteString("\033[0m ")
	_, err := d.buf.WriteTo(d.w)
	return len(d.pixels), err
}

var _ display.Drawer = &Dev{}
var _ fmt.Stringer = &Dev{}
