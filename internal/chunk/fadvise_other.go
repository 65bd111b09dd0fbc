//go:build !linux

package chunk

import "os"

// Advise is a no-op outside Linux.
func Advise(*os.File, int64, int64) error { return nil }
