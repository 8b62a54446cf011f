package detector

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"

	"github.com/andresmejia3/skuscan/internal/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var palette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
	{R: 0, G: 194, B: 255, A: 255},
	{R: 52, G: 69, B: 147, A: 255},
	{R: 203, G: 56, B: 255, A: 255},
}

const boxThickness = 2

// labelColor keeps one colour per label across frames.
func labelColor(label string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(label))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Annotate draws boxes and "label 0.87" captions onto a copy of img.
func Annotate(img *image.RGBA, dets types.Detections) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	for _, d := range dets {
		box := d.Box.Intersect(bounds)
		if box.Empty() {
			continue
		}
		col := labelColor(d.Label)
		src := image.NewUniform(col)
		drawRect(out, box, src)

		text := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		textW := font.MeasureString(face, text).Ceil()
		textH := face.Metrics().Height.Ceil()

		// caption sits above the box, or inside it when the box touches the top edge
		top := box.Min.Y - textH - 2
		if top < bounds.Min.Y {
			top = box.Min.Y
		}
		bg := image.Rect(box.Min.X, top, box.Min.X+textW+4, top+textH+2).Intersect(bounds)
		draw.Draw(out, bg, src, image.Point{}, draw.Src)

		drawer := &font.Drawer{
			Dst:  out,
			Src:  image.White,
			Face: face,
			Dot:  fixed.P(box.Min.X+2, top+face.Metrics().Ascent.Ceil()+1),
		}
		drawer.DrawString(text)
	}
	return out
}

func drawRect(dst draw.Image, r image.Rectangle, src image.Image) {
	t := boxThickness
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}
