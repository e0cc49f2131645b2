package slam

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

var (
	mapPointColor   = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	trajectoryColor = color.RGBA{R: 0, G: 102, B: 204, A: 255}
	loopColor       = color.RGBA{R: 220, G: 50, B: 47, A: 255}
	gridColor       = color.RGBA{R: 210, G: 210, B: 210, A: 255}
)

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// VectorRenderer draws a map snapshot: points, trajectory and loop arcs.
// Canvas units are PixelsPerMeter per meter.
type VectorRenderer struct {
	Snapshot    *MapSnapshot
	Scale       float64 // canvas units per meter
	Margin      float64 // meters around the bounds
	PointRadius float64 // meters
	GridSpacing float64 // meters; 0 disables the grid
	ShowLoops   bool
}

// NewVectorRenderer creates a renderer from the render settings
func NewVectorRenderer(snap *MapSnapshot, cfg RenderConfig) *VectorRenderer {
	r := &VectorRenderer{
		Snapshot:    snap,
		Scale:       cfg.PixelsPerMeter,
		Margin:      cfg.Margin,
		PointRadius: cfg.PointRadius,
		GridSpacing: 1.0,
		ShowLoops:   cfg.ShowLoops,
	}
	if r.Scale <= 0 {
		r.Scale = 40
	}
	if r.PointRadius <= 0 {
		r.PointRadius = 0.03
	}
	return r
}

type worldBounds struct {
	minX, minY, maxX, maxY float64
}

func (b *worldBounds) add(x, y float64) {
	b.minX = math.Min(b.minX, x)
	b.minY = math.Min(b.minY, y)
	b.maxX = math.Max(b.maxX, x)
	b.maxY = math.Max(b.maxY, y)
}

func (r *VectorRenderer) bounds() worldBounds {
	b := worldBounds{math.MaxFloat64, math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64}
	for _, p := range r.Snapshot.Points {
		b.add(p.X, p.Y)
	}
	for _, p := range r.Snapshot.Poses {
		b.add(p.Tx, p.Ty)
	}
	if b.minX > b.maxX {
		return worldBounds{-1, -1, 1, 1}
	}
	return b
}

// size returns the canvas extent in canvas units
func (r *VectorRenderer) size(b worldBounds) (float64, float64) {
	w := (b.maxX - b.minX + 2*r.Margin) * r.Scale
	h := (b.maxY - b.minY + 2*r.Margin) * r.Scale
	return math.Max(w, 1), math.Max(h, 1)
}

func (r *VectorRenderer) check() error {
	if r.Snapshot == nil || (len(r.Snapshot.Points) == 0 && len(r.Snapshot.Poses) == 0) {
		return fmt.Errorf("no map data to render")
	}
	return nil
}

// RenderToSVG writes the map as SVG
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	if err := r.check(); err != nil {
		return err
	}
	b := r.bounds()
	width, height := r.size(b)
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, b, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the map as PNG, one pixel per canvas unit
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	if err := r.check(); err != nil {
		return err
	}
	b := r.bounds()
	width, height := r.size(b)
	rast := rasterizer.New(width, height, canvas.DPMM(1), canvas.DefaultColorSpace)
	r.renderToCanvas(rast, b, width, height)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, b worldBounds, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		return (x - b.minX + r.Margin) * r.Scale, (y - b.minY + r.Margin) * r.Scale
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: gridColor}
		gridStyle.StrokeWidth = 1.0
		gridStyle.Dashes = []float64{4.0, 4.0}

		for x := math.Floor(b.minX/r.GridSpacing) * r.GridSpacing; x <= b.maxX; x += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(toCanvas(x, b.minY-r.Margin))
			p.LineTo(toCanvas(x, b.maxY+r.Margin))
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
		for y := math.Floor(b.minY/r.GridSpacing) * r.GridSpacing; y <= b.maxY; y += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(toCanvas(b.minX-r.Margin, y))
			p.LineTo(toCanvas(b.maxX+r.Margin, y))
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
	}

	pointStyle := canvas.DefaultStyle
	pointStyle.Fill = canvas.Paint{Color: mapPointColor}
	pointStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, pt := range r.Snapshot.Points {
		cx, cy := toCanvas(pt.X, pt.Y)
		renderer.RenderPath(canvas.Circle(r.PointRadius*r.Scale).Translate(cx, cy), pointStyle, canvas.Identity)
	}

	poses := r.Snapshot.Poses
	if len(poses) > 1 {
		trajStyle := canvas.DefaultStyle
		trajStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		trajStyle.Stroke = canvas.Paint{Color: trajectoryColor}
		trajStyle.StrokeWidth = 2.0

		path := &canvas.Path{}
		path.MoveTo(toCanvas(poses[0].Tx, poses[0].Ty))
		for _, p := range poses[1:] {
			path.LineTo(toCanvas(p.Tx, p.Ty))
		}
		renderer.RenderPath(path, trajStyle, canvas.Identity)
	}

	if r.ShowLoops {
		loopStyle := canvas.DefaultStyle
		loopStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		loopStyle.Stroke = canvas.Paint{Color: loopColor}
		loopStyle.StrokeWidth = 1.5
		loopStyle.Dashes = []float64{6.0, 3.0}

		for _, l := range r.Snapshot.Loops {
			if l.Src >= len(poses) || l.Dst >= len(poses) {
				continue
			}
			path := &canvas.Path{}
			path.MoveTo(toCanvas(poses[l.Src].Tx, poses[l.Src].Ty))
			path.LineTo(toCanvas(poses[l.Dst].Tx, poses[l.Dst].Ty))
			renderer.RenderPath(path, loopStyle, canvas.Identity)
		}
	}

	// heading marker on the newest pose
	if last, ok := r.Snapshot.LastPose(); ok {
		cx, cy := toCanvas(last.Tx, last.Ty)
		markStyle := canvas.DefaultStyle
		markStyle.Fill = canvas.Paint{Color: trajectoryColor}
		markStyle.Stroke = canvas.Paint{Color: canvas.Black}
		markStyle.StrokeWidth = 1.0
		renderer.RenderPath(canvas.Circle(0.1*r.Scale).Translate(cx, cy), markStyle, canvas.Identity)

		rad := DegToRad(last.Th)
		dirStyle := canvas.DefaultStyle
		dirStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		dirStyle.Stroke = canvas.Paint{Color: canvas.Black}
		dirStyle.StrokeWidth = 2.0
		dir := &canvas.Path{}
		dir.MoveTo(cx, cy)
		dir.LineTo(cx+0.3*r.Scale*math.Cos(rad), cy+0.3*r.Scale*math.Sin(rad))
		renderer.RenderPath(dir, dirStyle, canvas.Identity)
	}
}
