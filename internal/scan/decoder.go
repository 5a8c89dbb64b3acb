package scan

import (
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pkg/errors"
)

// ErrNoCode means the frame holds no readable QR code.
var ErrNoCode = errors.New("no qr code in frame")

// FrameDecoder extracts the text of a QR code from a frame.
type FrameDecoder interface {
	Decode(img image.Image) (string, error)
}

// ZXingDecoder reads QR codes with gozxing.
type ZXingDecoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewZXingDecoder returns a decoder tuned for camera frames.
func NewZXingDecoder() *ZXingDecoder {
	return &ZXingDecoder{hints: map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}}
}

// Decode returns ErrNoCode for frames without a readable code.
func (d *ZXingDecoder) Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", errors.Wrap(err, "scan: binarize frame")
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		// gozxing reports not-found, checksum and format problems alike;
		// all of them are scan noise here.
		return "", ErrNoCode
	}
	return res.GetText(), nil
}
