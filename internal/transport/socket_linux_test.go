//go:build linux

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"firestige.xyz/netweaver/internal/core"
)

func TestWrapErrno(t *testing.T) {
	tests := []struct {
		errno unix.Errno
		want  error
	}{
		{unix.EPERM, core.ErrPermissionDenied},
		{unix.EACCES, core.ErrPermissionDenied},
		{unix.EAGAIN, core.ErrTimeout},
		{unix.EPROTONOSUPPORT, core.ErrUnsupported},
		{unix.ECONNREFUSED, core.ErrSocket},
		{unix.ENOBUFS, core.ErrSocket},
	}
	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			err := wrapErrno("op", tt.errno)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.errno, "original errno stays inspectable")
		})
	}
}
