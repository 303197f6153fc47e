package proxy

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodeBodyText renders a response body as text for the audit trail. gzip and br
// encodings are decompressed; a truncated stream keeps whatever decompressed cleanly, and
// a body that cannot be decompressed at all is kept as received.
// Invalid UTF-8 is replaced so the result is always storable as text.
func decodeBodyText(body []byte, contentEncoding string) string {
	data := body
	if len(body) > 0 {
		if decoded, err := decompress(body, contentEncoding); err == nil || len(decoded) > 0 {
			data = decoded
		}
	}
	return strings.ToValidUTF8(string(data), "�")
}

func decompress(body []byte, contentEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		return io.ReadAll(zr)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}
