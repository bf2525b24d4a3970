package nodeserver

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"
)

func decompressXZ(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
