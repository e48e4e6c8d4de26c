package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/camhal/camhal-go/internal/device"
)

// Encoder turns one raw frame into a compressed picture. The still
// pipeline is encoder-agnostic; hardware encoders plug in here.
type Encoder interface {
	Encode(buf *device.Buffer, quality int) ([]byte, error)
}

// JPEGEncoder is the software encoder: YUYV frames are converted to
// YCbCr and compressed with the standard JPEG encoder, MJPG frames
// pass through already compressed.
type JPEGEncoder struct{}

func (JPEGEncoder) Encode(buf *device.Buffer, quality int) ([]byte, error) {
	switch buf.Format.Pixel {
	case device.PixelFormatMJPG:
		out := make([]byte, buf.Length)
		copy(out, buf.Data[:buf.Length])
		return out, nil
	case device.PixelFormatYUYV:
		img, err := yuyvToImage(buf.Data[:buf.Length],
			buf.Format.Width, buf.Format.Height)
		if err != nil {
			return nil, err
		}
		var w bytes.Buffer
		if err := jpeg.Encode(&w, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("jpeg encode: %w", err)
		}
		return w.Bytes(), nil
	default:
		return nil, fmt.Errorf("no software path for pixel format %#08x",
			uint32(buf.Format.Pixel))
	}
}

// yuyvToImage unpacks packed 4:2:2 into an image.YCbCr. Four bytes
// carry two pixels: Y0 Cb Y1 Cr.
func yuyvToImage(data []byte, width, height int) (image.Image, error) {
	need := width * height * 2
	if len(data) < need {
		return nil, fmt.Errorf("yuyv frame too short: %d < %d", len(data), need)
	}
	img := image.NewYCbCr(image.Rect(0, 0, width, height),
		image.YCbCrSubsampleRatio422)
	for row := 0; row < height; row++ {
		src := row * width * 2
		for pair := 0; pair < width/2; pair++ {
			o := src + pair*4
			img.Y[row*img.YStride+pair*2] = data[o]
			img.Cb[row*img.CStride+pair] = data[o+1]
			img.Y[row*img.YStride+pair*2+1] = data[o+2]
			img.Cr[row*img.CStride+pair] = data[o+3]
		}
	}
	return img, nil
}
