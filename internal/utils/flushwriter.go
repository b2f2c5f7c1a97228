package utils

import (
	"io"
	"net/http"
)

type FlushWriterCtx struct {
	w       io.Writer
	flusher http.Flusher
}

// FlushWriter flushes the http response after every write, so piped
// transcoder output reaches the client as soon as it is produced.
func FlushWriter(w http.ResponseWriter) *FlushWriterCtx {
	f, _ := w.(http.Flusher)
	return &FlushWriterCtx{
		w:       w,
		flusher: f,
	}
}

func (f *FlushWriterCtx) Write(p []byte) (n int, err error) {
	n, err = f.w.Write(p)
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return
}
