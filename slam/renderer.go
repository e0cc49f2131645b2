package slam

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const legendHeight = 40

// RasterRenderer draws a map snapshot into an RGBA image with a text legend.
// Image y grows downward, so world y is flipped.
type RasterRenderer struct {
	Snapshot  *MapSnapshot
	Scale     float64 // pixels per meter
	Padding   int
	ShowLoops bool
}

// NewRasterRenderer creates a renderer from the render settings
func NewRasterRenderer(snap *MapSnapshot, cfg RenderConfig) *RasterRenderer {
	scale := cfg.PixelsPerMeter
	if scale <= 0 {
		scale = 40
	}
	return &RasterRenderer{
		Snapshot:  snap,
		Scale:     scale,
		Padding:   int(math.Ceil(cfg.Margin * scale)),
		ShowLoops: cfg.ShowLoops,
	}
}

// Render draws the snapshot
func (r *RasterRenderer) Render() (*image.RGBA, error) {
	if r.Snapshot == nil || (len(r.Snapshot.Points) == 0 && len(r.Snapshot.Poses) == 0) {
		return nil, fmt.Errorf("no map data to render")
	}
	vr := VectorRenderer{Snapshot: r.Snapshot}
	b := vr.bounds()

	width := int((b.maxX-b.minX)*r.Scale) + 2*r.Padding + 1
	height := int((b.maxY-b.minY)*r.Scale) + 2*r.Padding + 1 + legendHeight
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	toPixel := func(x, y float64) (int, int) {
		px := int(math.Round((x-b.minX)*r.Scale)) + r.Padding
		py := height - legendHeight - 1 - (int(math.Round((y-b.minY)*r.Scale)) + r.Padding)
		return px, py
	}

	for _, p := range r.Snapshot.Points {
		x, y := toPixel(p.X, p.Y)
		img.Set(x, y, mapPointColor)
	}

	poses := r.Snapshot.Poses
	for i := 1; i < len(poses); i++ {
		x0, y0 := toPixel(poses[i-1].Tx, poses[i-1].Ty)
		x1, y1 := toPixel(poses[i].Tx, poses[i].Ty)
		drawLine(img, x0, y0, x1, y1, trajectoryColor)
	}

	if r.ShowLoops {
		for _, l := range r.Snapshot.Loops {
			if l.Src >= len(poses) || l.Dst >= len(poses) {
				continue
			}
			x0, y0 := toPixel(poses[l.Src].Tx, poses[l.Src].Ty)
			x1, y1 := toPixel(poses[l.Dst].Tx, poses[l.Dst].Ty)
			drawLine(img, x0, y0, x1, y1, loopColor)
		}
	}

	if last, ok := r.Snapshot.LastPose(); ok {
		x, y := toPixel(last.Tx, last.Ty)
		drawDisc(img, x, y, 3, trajectoryColor)
	}

	r.drawLegend(img, height)
	return img, nil
}

func (r *RasterRenderer) drawLegend(img *image.RGBA, height int) {
	s := r.Snapshot
	y := height - legendHeight + 16
	drawText(img, 8, y, fmt.Sprintf("scans %d  points %d  loops %d", len(s.Poses), len(s.Points), len(s.Loops)), color.RGBA{0, 0, 0, 255})
	drawText(img, 8, y+16, fmt.Sprintf("travelled %.2f m  1 m = %.0f px", s.Travelled, r.Scale), color.RGBA{80, 80, 80, 255})
}

// SavePNG renders and writes a PNG file
func (r *RasterRenderer) SavePNG(path string) error {
	img, err := r.Render()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}

// drawLine draws a Bresenham line
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func drawDisc(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				img.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText renders text with its baseline at y
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
