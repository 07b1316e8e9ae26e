package constants

// ImageMimeTypes maps image file extensions to their MIME types
var ImageMimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// DefaultMimeType is the fallback MIME type for unknown content
const DefaultMimeType = "application/octet-stream"

// DefaultImageTypes are the image extensions accepted when none are configured
var DefaultImageTypes = []string{"jpg", "jpeg", "png", "gif", "webp"}

// ImageSignatures maps image format magic bytes to extensions
var ImageSignatures = map[string]string{
	"\xff\xd8\xff":      "jpg",
	"\x89PNG\r\n\x1a\n": "png",
	"GIF87a":            "gif",
	"GIF89a":            "gif",
	"RIFF":              "webp", // RIFF container, needs the WEBP tag at offset 8
}
