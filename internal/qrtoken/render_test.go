package qrtoken

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPNGDecodesBackToToken(t *testing.T) {
	token, err := EncodeStudent(sampleUUID)
	require.NoError(t, err)

	b, err := RenderPNG(token)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, ImageSize, img.Bounds().Dx())
	assert.Equal(t, ImageSize, img.Bounds().Dy())

	// Corners sit in the quiet zone.
	r, g, bl, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r&g&bl)

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	require.NoError(t, err)
	res, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	require.NoError(t, err)
	assert.Equal(t, token, res.GetText())

	id, ok := Decode(res.GetText())
	require.True(t, ok)
	assert.Equal(t, KindStudent, id.Kind)
	assert.Equal(t, sampleUUID, id.ReferenceID)
}

func TestRenderDataURI(t *testing.T) {
	uri, err := RenderDataURI("family_" + sampleUUID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/png;base64,"))
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(raw))
	assert.NoError(t, err)
}

func TestRenderSVG(t *testing.T) {
	svg, err := RenderSVG("student_" + sampleUUID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(svg, `<svg xmlns="http://www.w3.org/2000/svg" width="300" height="300"`))
	assert.Contains(t, svg, `fill="#000000"`)
	assert.Contains(t, svg, "h7v1h-7z") // finder pattern row
	assert.True(t, strings.HasSuffix(svg, "</svg>"))
}

func TestRenderTooLong(t *testing.T) {
	_, err := RenderPNG(strings.Repeat("x", 8000))
	assert.ErrorIs(t, err, ErrRender)
}

func TestNewCredential(t *testing.T) {
	c, err := NewCredential(Identity{Kind: KindFamily, ReferenceID: sampleUUID})
	require.NoError(t, err)
	assert.Equal(t, "family_"+sampleUUID, c.Token)
	assert.NotEmpty(t, c.DataURI)
	assert.NotEmpty(t, c.SVG)

	_, err = NewCredential(Identity{Kind: KindStudent})
	assert.ErrorIs(t, err, ErrEmptyID)
}
