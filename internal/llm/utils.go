package llm

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
)

// MaxVisionMB caps the size of an image attached to a request.
const MaxVisionMB = 8

// ReadAsDataURL encodes an image file as a data URL for vision requests.
func ReadAsDataURL(path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if st.Size() > int64(MaxVisionMB)*1024*1024 {
		return "", fmt.Errorf("image too large for vision: %d bytes", st.Size())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ext := constants.NormalizeExt(filepath.Ext(path))
	mt := mime.TypeByExtension("." + ext)
	if mt == "" {
		switch ext {
		case "jpg", "jpeg":
			mt = "image/jpeg"
		case "png":
			mt = "image/png"
		default:
			mt = "application/octet-stream"
		}
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}
