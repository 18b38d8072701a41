package tally

import (
	"bytes"
)

// bufCloser is the body of every Response built in this package, so bodies can be re-read without copying.
type bufCloser struct {
	bytes.Buffer
}

func (b *bufCloser) Close() error {
	return nil
}
