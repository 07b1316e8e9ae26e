package media

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"pingup/internal/constants"
	apperrors "pingup/internal/errors"
	"pingup/internal/models"
	"pingup/internal/validation"

	"github.com/google/uuid"
)

// Image is an uploaded image that passed type and size checks.
type Image struct {
	Data        []byte
	Filename    string
	Ext         string
	ContentType string
}

// Size returns the image size in bytes.
func (i *Image) Size() int64 {
	return int64(len(i.Data))
}

// Inspect sniffs the image type from its content, ignoring the client's
// file name and content type, and enforces the configured allow-list and
// size limit. The returned file name is random with the detected extension.
func Inspect(data []byte, config models.MediaConfig) (*Image, error) {
	if err := validation.ValidateMediaSize(int64(len(data)), config.MaxImageSizeMB); err != nil {
		return nil, err
	}

	ext := DetectImageType(data)
	if ext == "" {
		return nil, apperrors.NewValidationError("image", "", "file is not a supported image")
	}
	if !isAllowed(ext, config.AllowedTypes) {
		return nil, apperrors.NewValidationError("image", ext, fmt.Sprintf("image type .%s is not allowed", ext))
	}

	return &Image{
		Data:        data,
		Filename:    uuid.NewString() + "." + ext,
		Ext:         ext,
		ContentType: constants.ImageMimeTypes[ext],
	}, nil
}

// DetectImageType returns the extension matching data's magic bytes, or ""
// when data is not a known image format.
func DetectImageType(data []byte) string {
	for signature, ext := range constants.ImageSignatures {
		if !bytes.HasPrefix(data, []byte(signature)) {
			continue
		}
		if ext == "webp" && (len(data) < 12 || string(data[8:12]) != "WEBP") {
			continue
		}
		return ext
	}
	return ""
}

// ContentTypeForName returns the MIME type for a file name's extension.
func ContentTypeForName(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if mimeType, ok := constants.ImageMimeTypes[ext]; ok {
		return mimeType
	}
	return constants.DefaultMimeType
}

func isAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = constants.DefaultImageTypes
	}
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
		// jpeg and jpg share a signature
		if ext == "jpg" && strings.EqualFold(a, "jpeg") {
			return true
		}
	}
	return false
}
