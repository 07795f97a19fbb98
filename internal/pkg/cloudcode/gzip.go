package cloudcode

import (
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// decodeBody 按 Content-Encoding 包装响应体。
// gzip 解码延迟到首次 Read：空的错误响应体不会因缺少 gzip 头而报错。
func decodeBody(body io.ReadCloser, encoding string) io.ReadCloser {
	if body == nil {
		return io.NopCloser(strings.NewReader(""))
	}
	if !strings.Contains(strings.ToLower(encoding), "gzip") {
		return body
	}
	return &gzipBody{raw: body}
}

type gzipBody struct {
	raw io.ReadCloser
	gz  *gzip.Reader
	err error
}

func (b *gzipBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.gz == nil {
		gz, err := gzip.NewReader(b.raw)
		if err != nil {
			b.err = err
			return 0, err
		}
		b.gz = gz
	}
	return b.gz.Read(p)
}

func (b *gzipBody) Close() error {
	if b.gz != nil {
		_ = b.gz.Close()
	}
	return b.raw.Close()
}
