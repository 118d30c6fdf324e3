//go:build !linux && !(windows && (amd64 || arm64))

package probez

import (
	"fmt"
	"runtime"
)

func platformBackend() (Backend, error) {
	return nil, fmt.Errorf("%w: %s/%s", ErrPlatformUnsupported, runtime.GOOS, runtime.GOARCH)
}
