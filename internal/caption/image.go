package caption

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
)

const jpegQuality = 90

// Image is a decoded RGB raster, held as JPEG bytes so it can be sent to
// any backend unchanged.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// DecodeImage decodes a JPEG, PNG or GIF and re-encodes it as JPEG, which
// drops any alpha channel.
func DecodeImage(data []byte) (*Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	bounds := img.Bounds()
	return &Image{
		Data:     buf.Bytes(),
		MIMEType: "image/jpeg",
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// LoadImageFile reads and decodes an image from disk.
func LoadImageFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return DecodeImage(data)
}

// Hash returns a hex SHA-256 of the image bytes.
func (i *Image) Hash() string {
	h := sha256.New()
	binary.Write(h, binary.LittleEndian, int64(len(i.Data)))
	h.Write(i.Data)
	return hex.EncodeToString(h.Sum(nil))
}
