// Package fingerprint computes the cheap content digest used to tell whether
// the browser copy and the on-disk copy of a file have drifted apart.
//
// The digest is the sum of all byte values. It is not collision resistant and
// must never be used to authenticate content.
package fingerprint

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
)

var ErrDesync = errors.New("fingerprint mismatch")

// Sum returns the fingerprint of raw bytes.
func Sum(data []byte) int64 {
	var total int64
	for _, b := range data {
		total += int64(b)
	}
	return total
}

// String returns the fingerprint of the UTF-8 encoding of text.
func String(text string) int64 {
	var total int64
	for i := 0; i < len(text); i++ {
		total += int64(text[i])
	}
	return total
}

// File reads path from fs and returns its fingerprint.
func File(fs afero.Fs, path string) (int64, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return 0, err
	}
	return Sum(data), nil
}

// Verify reports ErrDesync when the two fingerprints disagree.
func Verify(expected, actual int64) error {
	if expected != actual {
		return fmt.Errorf("%w: expected %d, got %d", ErrDesync, expected, actual)
	}
	return nil
}
