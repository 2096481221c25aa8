package endpoint

import (
	"fmt"
	"strings"

	svg "github.com/ajstarks/svgo"
	"rsc.io/qr"
)

const (
	// minQRSize is the smallest rendered edge, in SVG user units, that phones
	// still scan reliably from a screen.
	minQRSize = 200
	quietZone = 4
)

// renderSVG encodes text as a QR code and returns a standalone SVG document.
// Each run of dark modules in a row becomes one subpath.
func renderSVG(text string) (string, error) {
	code, err := qr.Encode(text, qr.M)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	n := code.Size + 2*quietZone
	scale := (minQRSize + n - 1) / n
	px := n * scale

	var d strings.Builder
	for y := 0; y < code.Size; y++ {
		for x := 0; x < code.Size; {
			if !code.Black(x, y) {
				x++
				continue
			}
			run := 1
			for x+run < code.Size && code.Black(x+run, y) {
				run++
			}
			fmt.Fprintf(&d, "M%d %dh%dv1h-%dz", x+quietZone, y+quietZone, run, run)
			x += run
		}
	}

	var b strings.Builder
	canvas := svg.New(&b)
	canvas.Start(px, px,
		fmt.Sprintf(`viewBox="0 0 %d %d"`, n, n),
		`shape-rendering="crispEdges"`)
	canvas.Rect(0, 0, n, n, `fill="#fff"`)
	canvas.Path(d.String(), `fill="#000"`)
	canvas.End()
	return strings.TrimSpace(b.String()), nil
}

// inlineSVG drops the XML preamble the renderer writes before the <svg>
// element so the image can be embedded in an HTML document.
func inlineSVG(doc string) string {
	if i := strings.Index(doc, "<svg"); i >= 0 {
		return doc[i:]
	}
	return doc
}
