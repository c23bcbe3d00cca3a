package normalize

import "bytes"

// headerLen bytes are enough to match every signature in the table,
// including the WEBP RIFF container check at offset 8.
const headerLen = 16

type signature struct {
	prefix []byte
	ext    string
}

var imageSignatures = []signature{
	{[]byte{0xFF, 0xD8, 0xFF}, ".jpg"},
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, ".png"},
	{[]byte("GIF87a"), ".gif"},
	{[]byte("GIF89a"), ".gif"},
	{[]byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20}, ".jp2"},
	{[]byte("BM"), ".bmp"},
	{[]byte{0x00, 0x00, 0x01, 0x00}, ".ico"},
}

// SniffImageExt classifies file content by its leading bytes and returns the
// extension the true format implies, or "" when the bytes are not a known
// image. HTML served from dynamic endpoints falls through to "".
func SniffImageExt(header []byte) string {
	if len(header) >= 12 && bytes.HasPrefix(header, []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WEBP")) {
		return ".webp"
	}
	for _, sig := range imageSignatures {
		if bytes.HasPrefix(header, sig.prefix) {
			return sig.ext
		}
	}
	return ""
}
