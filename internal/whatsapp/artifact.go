package whatsapp

import (
	"encoding/base64"

	"github.com/skip2/go-qrcode"
)

const qrSize = 256

// renderArtifact turns a pairing code into a PNG data URL a browser can show.
func renderArtifact(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
