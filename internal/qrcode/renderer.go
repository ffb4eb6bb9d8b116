package qrcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	goqrcode "github.com/skip2/go-qrcode"

	"github.com/akylbek/payment-system/pix-charges/internal/interfaces"
)

const defaultSize = 256

var _ interfaces.ArtifactRenderer = (*FileRenderer)(nil)

// FileRenderer writes one PNG per charge into Dir, named after the key.
type FileRenderer struct {
	Dir  string
	Size int
}

func NewFileRenderer(dir string) (*FileRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create qrcode dir: %w", err)
	}
	return &FileRenderer{Dir: dir, Size: defaultSize}, nil
}

// Render encodes payCode and returns the path of the written image.
func (r *FileRenderer) Render(ctx context.Context, key, payCode string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" || filepath.Base(key) != key {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}

	png, err := Encode(payCode, r.Size)
	if err != nil {
		return "", err
	}

	path := filepath.Join(r.Dir, key+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write qrcode %s: %w", path, err)
	}
	return path, nil
}

// Encode renders payCode as a PNG. Pay codes carry their own CRC, so medium
// recovery is enough.
func Encode(payCode string, size int) ([]byte, error) {
	if size <= 0 {
		size = defaultSize
	}
	png, err := goqrcode.Encode(payCode, goqrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qrcode: %w", err)
	}
	return png, nil
}
