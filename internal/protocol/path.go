package protocol

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizePath converts an OS-specific relative path into the forward-slash,
// NFC-normalized form spec.md §4.1 requires on the wire: "all paths use
// forward slashes on the wire regardless of the host OS." NFC normalization
// matches the teacher's handling of filesystems (macOS) that decompose
// Unicode filenames into NFD — without it, the same logical path reaching
// the server from two backends on different platforms would compare unequal.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	return norm.NFC.String(p)
}
