package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Result is one detection after recognition, ready to draw.
type Result struct {
	Box        image.Rectangle
	Name       string
	Similarity float32
	Matched    bool
}

var (
	matchColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	unknownColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	labelColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// annotate draws boxes and labels for every result onto frame in place.
func annotate(frame *gocv.Mat, results []Result) {
	for _, res := range results {
		col := unknownColor
		label := "Unknown"
		if res.Matched {
			col = matchColor
			label = fmt.Sprintf("%s (%.2f)", res.Name, res.Similarity)
		}
		gocv.Rectangle(frame, res.Box, col, 2)
		sz := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.6, 2)
		bg := image.Rect(res.Box.Min.X, res.Box.Min.Y-sz.Y-10, res.Box.Min.X+sz.X, res.Box.Min.Y)
		gocv.Rectangle(frame, bg, col, -1)
		gocv.PutText(frame, label, image.Pt(res.Box.Min.X+5, res.Box.Min.Y-5),
			gocv.FontHersheySimplex, 0.6, labelColor, 2)
	}
}

// encodeJPEG compresses the frame into a self-contained JPEG byte slice.
func encodeJPEG(frame gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	b := make([]byte, len(buf.GetBytes()))
	copy(b, buf.GetBytes())
	return b, nil
}
