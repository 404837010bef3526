package dataset

import (
	"errors"
	"fmt"
	"image"
	"io"

	// Registered image formats.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageNet channel statistics used to normalize decoded pixels.
var (
	ImageNetMean = [3]float64{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float64{0.229, 0.224, 0.225}
)

// DefaultImageSize is the square input resolution.
const DefaultImageSize = 224

// ErrInvalidImage is returned when a file cannot be decoded as an image.
var ErrInvalidImage = errors.New("invalid image")

// ImageDecoder turns an encoded image into a normalized CHW tensor of
// length 3·Size·Size.
type ImageDecoder struct {
	Size int
	Mean [3]float64
	Std  [3]float64
	// Interpolator resizes the decoded image. Defaults to bilinear.
	Interpolator draw.Interpolator
}

// NewImageDecoder returns a decoder for size×size inputs with ImageNet
// normalization.
func NewImageDecoder(size int) *ImageDecoder {
	return &ImageDecoder{
		Size:         size,
		Mean:         ImageNetMean,
		Std:          ImageNetStd,
		Interpolator: draw.BiLinear,
	}
}

// InputDim returns the tensor length produced by Decode.
func (d *ImageDecoder) InputDim() int {
	return 3 * d.Size * d.Size
}

// Decode reads one image from r.
func (d *ImageDecoder) Decode(r io.Reader) ([]float64, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty %s image", ErrInvalidImage, format)
	}
	return d.Tensor(src), nil
}

// Tensor resizes img and converts it to a normalized CHW tensor.
func (d *ImageDecoder) Tensor(img image.Image) []float64 {
	interp := d.Interpolator
	if interp == nil {
		interp = draw.BiLinear
	}

	dst := image.NewRGBA(image.Rect(0, 0, d.Size, d.Size))
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := d.Size * d.Size
	out := make([]float64, 3*plane)
	for y := 0; y < d.Size; y++ {
		for x := 0; x < d.Size; x++ {
			off := dst.PixOffset(x, y)
			p := y*d.Size + x
			for c := 0; c < 3; c++ {
				v := float64(dst.Pix[off+c]) / 255
				out[c*plane+p] = (v - d.Mean[c]) / d.Std[c]
			}
		}
	}
	return out
}
