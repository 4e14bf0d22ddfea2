// Command footfall-region previews a counting region without a camera. It
// prints the keystone polygon for a frame size, rectangle and tilt, the
// footfall command line that selects that region and the equivalent config
// fragment. Points given with -point are classified against the polygon.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/region"
)

// params is one preview request.
type params struct {
	frameW, frameH int
	rect           *region.Rect // nil selects the frame default
	tilt           float64
	points         []r2.Vec
}

// pointList collects repeated -point x,y flags.
type pointList []r2.Vec

func (p *pointList) String() string {
	parts := make([]string, len(*p))
	for i, v := range *p {
		parts[i] = fmt.Sprintf("%g,%g", v.X, v.Y)
	}
	return strings.Join(parts, " ")
}

func (p *pointList) Set(s string) error {
	v, err := parsePoint(s)
	if err != nil {
		return err
	}
	*p = append(*p, v)
	return nil
}

func parsePoint(s string) (r2.Vec, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return r2.Vec{}, fmt.Errorf("point %q must be x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return r2.Vec{}, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return r2.Vec{}, fmt.Errorf("point %q: %w", s, err)
	}
	return r2.Vec{X: x, Y: y}, nil
}

func parseArgs(args []string, stderr io.Writer) (params, error) {
	fs := flag.NewFlagSet("footfall-region", flag.ContinueOnError)
	fs.SetOutput(stderr)

	width := fs.Int("width", 500, "Frame width in pixels")
	height := fs.Int("height", 375, "Frame height in pixels")
	x := fs.Int("rect-x", 0, "Counting rectangle left edge")
	y := fs.Int("rect-y", 0, "Counting rectangle top edge")
	w := fs.Int("rect-w", 0, "Counting rectangle width")
	h := fs.Int("rect-h", 0, "Counting rectangle height")
	tilt := fs.Float64("tilt-angle", 0, "Camera tilt in degrees")
	var points pointList
	fs.Var(&points, "point", "Classify x,y against the region (repeatable)")

	if err := fs.Parse(args); err != nil {
		return params{}, err
	}
	if *width <= 0 || *height <= 0 {
		return params{}, fmt.Errorf("frame size must be positive, got %dx%d", *width, *height)
	}

	p := params{frameW: *width, frameH: *height, tilt: *tilt, points: points}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	cfg := &config.CounterConfig{TiltAngle: config.PtrFloat64(*tilt)}
	if set["rect-x"] {
		cfg.RectX = config.PtrInt(*x)
	}
	if set["rect-y"] {
		cfg.RectY = config.PtrInt(*y)
	}
	if set["rect-w"] {
		cfg.RectW = config.PtrInt(*w)
	}
	if set["rect-h"] {
		cfg.RectH = config.PtrInt(*h)
	}
	if err := cfg.Validate(); err != nil {
		return params{}, err
	}
	p.rect = cfg.Rect()
	return p, nil
}

func render(out io.Writer, p params) error {
	rect := region.DefaultRect(p.frameW, p.frameH)
	source := "default"
	if p.rect != nil {
		rect = *p.rect
		source = "configured"
	}
	poly := region.Keystone(rect, p.tilt, p.frameW)
	tilt := strconv.FormatFloat(p.tilt, 'g', -1, 64)

	fmt.Fprintf(out, "frame %dx%d, %s rect %s, tilt %s deg (shift %dpx)\n",
		p.frameW, p.frameH, source, rect, tilt, region.KeystoneShift(rect.W, p.tilt))
	fmt.Fprintln(out, "polygon:")
	for _, v := range poly {
		fmt.Fprintf(out, "  (%g, %g)\n", v.X, v.Y)
	}

	if len(p.points) > 0 {
		fmt.Fprintln(out, "points:")
		for _, pt := range p.points {
			state := "outside"
			if poly.Contains(pt) {
				state = "inside"
			}
			fmt.Fprintf(out, "  (%g, %g) %s\n", pt.X, pt.Y, state)
		}
	}

	fmt.Fprintln(out, "command:")
	fmt.Fprintf(out, "  footfall -rect-x %d -rect-y %d -rect-w %d -rect-h %d -tilt-angle %s\n",
		rect.X, rect.Y, rect.W, rect.H, tilt)

	frag := config.CounterConfig{
		RectX:     config.PtrInt(rect.X),
		RectY:     config.PtrInt(rect.Y),
		RectW:     config.PtrInt(rect.W),
		RectH:     config.PtrInt(rect.H),
		TiltAngle: config.PtrFloat64(p.tilt),
	}
	data, err := json.MarshalIndent(frag, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "config:")
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}

func main() {
	p, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		log.Fatalf("footfall-region: %v", err)
	}
	if err := render(os.Stdout, p); err != nil {
		log.Fatalf("footfall-region: %v", err)
	}
}
