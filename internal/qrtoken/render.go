package qrtoken

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	// ImageSize is the edge length in pixels of rendered credentials.
	ImageSize = 300
	// MarginModules is the quiet zone around the symbol, in modules.
	MarginModules = 2
)

// ErrRender wraps failures of the QR library.
var ErrRender = errors.New("qrtoken: rendering failed")

// modules returns the symbol without the library's own quiet zone.
func modules(token string) ([][]bool, error) {
	q, err := qrcode.New(token, qrcode.Medium)
	if err != nil {
		return nil, errors.Wrapf(ErrRender, "%v", err)
	}
	q.DisableBorder = true
	return q.Bitmap(), nil
}

// RenderPNG draws the token as a black-on-white PNG of ImageSize pixels.
func RenderPNG(token string) ([]byte, error) {
	bitmap, err := modules(token)
	if err != nil {
		return nil, err
	}

	n := len(bitmap) + 2*MarginModules
	scale := ImageSize / n
	if scale < 1 {
		return nil, errors.Wrapf(ErrRender, "symbol of %d modules does not fit %dpx", n, ImageSize)
	}
	// Centre the symbol; leftover pixels become extra white border.
	offset := (ImageSize-scale*n)/2 + MarginModules*scale

	img := image.NewGray(image.Rect(0, 0, ImageSize, ImageSize))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	for y, row := range bitmap {
		for x, dark := range row {
			if !dark {
				continue
			}
			x0, y0 := offset+x*scale, offset+y*scale
			for py := y0; py < y0+scale; py++ {
				for px := x0; px < x0+scale; px++ {
					img.SetGray(px, py, color.Gray{Y: 0})
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrapf(ErrRender, "%v", err)
	}
	return buf.Bytes(), nil
}

// RenderDataURI returns the PNG as a data URI for download and print views.
func RenderDataURI(token string) (string, error) {
	b, err := RenderPNG(token)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b), nil
}

// RenderSVG returns the same symbol as SVG markup for print layouts. One path
// segment is emitted per run of dark modules in a row.
func RenderSVG(token string) (string, error) {
	bitmap, err := modules(token)
	if err != nil {
		return "", err
	}
	n := len(bitmap) + 2*MarginModules

	var path strings.Builder
	for y, row := range bitmap {
		for x := 0; x < len(row); {
			if !row[x] {
				x++
				continue
			}
			start := x
			for x < len(row) && row[x] {
				x++
			}
			fmt.Fprintf(&path, "M%d %dh%dv1h-%dz", start+MarginModules, y+MarginModules, x-start, x-start)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`,
		ImageSize, ImageSize, n, n)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#FFFFFF"/>`, n, n)
	fmt.Fprintf(&b, `<path fill="#000000" d="%s"/>`, path.String())
	b.WriteString(`</svg>`)
	return b.String(), nil
}

// Credential bundles a token with its renderings.
type Credential struct {
	Token    string   `json:"token"`
	Identity Identity `json:"identity"`
	DataURI  string   `json:"data_uri"`
	SVG      string   `json:"svg"`
}

// NewCredential encodes id and renders both image forms.
func NewCredential(id Identity) (Credential, error) {
	token, err := Encode(id)
	if err != nil {
		return Credential{}, err
	}
	uri, err := RenderDataURI(token)
	if err != nil {
		return Credential{}, err
	}
	svg, err := RenderSVG(token)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: token, Identity: id, DataURI: uri, SVG: svg}, nil
}
