package thumbnail

import (
	"fmt"

	"github.com/h2non/bimg"
)

const (
	maxDimension = 300 // максимальный размер миниатюры в пикселях
	jpegQuality  = 85  // качество JPEG
)

// Deriver создаёт миниатюры для загруженных изображений.
type Deriver struct{}

func NewDeriver() *Deriver {
	return &Deriver{}
}

// Derive декодирует оригинал и пишет миниатюру по пути thumbPath.
// Прозрачность и палитровые режимы сводятся к непрозрачному JPEG на белом
// фоне; стороны ограничены maxDimension с сохранением пропорций, апскейла
// не происходит.
func (d *Deriver) Derive(originalPath, thumbPath string) error {
	data, err := bimg.Read(originalPath)
	if err != nil {
		return fmt.Errorf("failed to read original image: %w", err)
	}

	image := bimg.NewImage(data)

	size, err := image.Size()
	if err != nil {
		return fmt.Errorf("failed to get image size: %w", err)
	}

	width, height := boundedDimensions(size.Width, size.Height, maxDimension)

	processed, err := image.Process(bimg.Options{
		Width:      width,
		Height:     height,
		Quality:    jpegQuality,
		Type:       bimg.JPEG,
		Background: bimg.Color{R: 255, G: 255, B: 255},
	})
	if err != nil {
		return fmt.Errorf("failed to process image: %w", err)
	}

	if err := bimg.Write(thumbPath, processed); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}

	return nil
}

// boundedDimensions вычисляет размеры с сохранением пропорций; изображение
// меньше лимита остаётся как есть.
func boundedDimensions(width, height, maxSize int) (newWidth, newHeight int) {
	if width <= maxSize && height <= maxSize {
		return width, height
	}
	if width > height {
		newWidth = maxSize
		newHeight = (height * maxSize) / width
	} else {
		newHeight = maxSize
		newWidth = (width * maxSize) / height
	}
	return
}
