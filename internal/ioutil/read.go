package ioutil

import (
	"bytes"
	"fmt"
	"io"
)

const truncatedMarker = "...(truncated)"

// ReadLimited reads at most limit bytes of r for use in error messages and
// logs. Longer bodies are cut and marked. A read failure is described in the
// returned string rather than dropped.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	if int64(len(body)) > limit {
		return string(bytes.TrimSpace(body[:limit])) + truncatedMarker
	}
	return string(bytes.TrimSpace(body))
}

// Drain discards the rest of r so the underlying connection can be reused.
func Drain(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 1<<20))
	_ = r.Close()
}
