// Package diskspace reports free space on the filesystem holding a path.
package diskspace

import "errors"

// ErrUnsupported is returned on platforms without a free-space query.
var ErrUnsupported = errors.New("diskspace: not supported on this platform")

// Available returns the number of bytes an unprivileged caller may still
// write on the filesystem containing path.
func Available(path string) (uint64, error) {
	return available(path)
}
