// Package contenthash derives deterministic identifiers from document
// content. Storage uploads and search indexing use these ids so that
// re-writing identical content overwrites the previous record instead of
// duplicating it.
package contenthash

import (
	"crypto/md5" //nolint:gosec // content addressing, not authentication
	"encoding/hex"
	"strings"
)

// Sum returns the id for content, optionally namespaced by prefixes
// (metadata, timestamps). The format is "<prefix1>-<prefix2>-<md5hex>";
// with no prefixes it is the bare md5 hex digest.
//
// Example:
//
//	Sum([]byte("Message from Caroline: Merry Christmas!"), "2024/12/25", "103010")
//	// "2024/12/25-103010-cc448c22e00ae2315697c7dc1f476d74"
func Sum(content []byte, prefixes ...string) string {
	digest := md5.Sum(content) //nolint:gosec // see package comment
	hexDigest := hex.EncodeToString(digest[:])
	if len(prefixes) == 0 {
		return hexDigest
	}
	return strings.Join(prefixes, "-") + "-" + hexDigest
}

// SumString is a convenience for string content.
func SumString(content string, prefixes ...string) string {
	return Sum([]byte(content), prefixes...)
}
