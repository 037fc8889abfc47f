//go:build !windows

package filesipc

import "context"

// DialPipe only works on Windows, where the Files app serves its pipe.
// Everything above the dial is portable: tests and other platforms exercise
// the framing through NewPipeTransport over any byte stream.
func DialPipe(ctx context.Context, name string) (Transport, error) {
	return nil, ErrPipesUnsupported
}
