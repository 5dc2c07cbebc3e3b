package qrpayload

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// PNG renders p as a square PNG image of size pixels, with the highest
// error-correction level.
func PNG(p Payload, size int) ([]byte, error) {
	s, err := Encode(p)
	if err != nil {
		return nil, err
	}
	img, err := qrcode.Encode(s, qrcode.Highest, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return img, nil
}

// WritePNG renders p into the file at path.
func WritePNG(p Payload, size int, path string) error {
	s, err := Encode(p)
	if err != nil {
		return err
	}
	if err := qrcode.WriteFile(s, qrcode.Highest, size, path); err != nil {
		return fmt.Errorf("write qr %s: %w", path, err)
	}
	return nil
}

// Terminal renders p with half-block characters for a TTY. It uses a lower
// error-correction level than PNG to keep the code small enough to scan
// from a screen.
func Terminal(p Payload) (string, error) {
	s, err := Encode(p)
	if err != nil {
		return "", err
	}
	q, err := qrcode.New(s, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	return q.ToSmallString(false), nil
}
