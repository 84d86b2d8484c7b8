package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/toko-tzsmmpay/internal/common"
)

// BodyLimit enforces a maximum request payload size. Rejections are plain
// text because the processor callback is the main consumer.
type BodyLimit struct {
	Max int64
}

// Middleware rejects requests exceeding the configured limit with HTTP 413.
// The accepted body is buffered so form parsing downstream sees all of it.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > b.Max {
			common.Text(w, http.StatusRequestEntityTooLarge, "Error: Request entity too large")
			return
		}

		buf, err := io.ReadAll(io.LimitReader(r.Body, b.Max+1))
		if err != nil && !errors.Is(err, io.EOF) {
			common.Text(w, http.StatusBadRequest, "Error: Invalid request body")
			return
		}
		if int64(len(buf)) > b.Max {
			common.Text(w, http.StatusRequestEntityTooLarge, "Error: Request entity too large")
			return
		}
		_ = r.Body.Close()

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}
