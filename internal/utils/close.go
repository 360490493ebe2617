package utils

import (
	"io"
)

// DrainAndClose discards what is left of an HTTP body (bounded) so the
// connection can be reused, then closes it.
func DrainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}
