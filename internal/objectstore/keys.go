package objectstore

import "fmt"

// RawKey builds the content-addressed key for a raw blob:
// sha256/<aa>/<bb>/<full_hash>, where aa/bb are the first two hex pairs.
func RawKey(sha256Hex string) string {
	if len(sha256Hex) < 4 {
		return fmt.Sprintf("sha256/invalid/%s", sha256Hex)
	}
	return fmt.Sprintf("sha256/%s/%s/%s", sha256Hex[0:2], sha256Hex[2:4], sha256Hex)
}

// CanonicalHTMLKey builds the canonical-bucket key for a document's
// normalized HTML.
func CanonicalHTMLKey(docID string) string {
	return fmt.Sprintf("%s/v1/index.html", docID)
}

// CanonicalManifestKey builds the canonical-bucket key for a document's
// Canonical Manifest JSON (HTML body excluded).
func CanonicalManifestKey(docID string) string {
	return fmt.Sprintf("%s/v1/manifest.json", docID)
}
