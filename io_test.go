package dispatcher

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readOnReady waits for fd to report EventRead, then reads exactly one byte
// off it directly, recording what it saw.
type readOnReady struct {
	d     *Dispatcher
	fd    Fd
	state int
	got   *byte
}

func (c *readOnReady) Step() Continuation {
	switch c.state {
	case 0:
		c.state = 1
		next, err := IO(c.d, c, c.fd, EventRead)
		if err != nil {
			panic(err)
		}
		return next
	default:
		var buf [1]byte
		n, err := unix.Read(int(c.fd), buf[:])
		if err != nil || n != 1 {
			panic("expected exactly one byte")
		}
		*c.got = buf[0]
		return nil
	}
}

func TestIO_ResumesOnPipeReadiness(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	readFd, writeFd := fds[0], fds[1]
	defer unix.Close(readFd)
	defer unix.Close(writeFd)

	d, err := New()
	require.NoError(t, err)

	var got byte
	Trampoline(&readOnReady{d: d, fd: Fd(readFd), got: &got})

	done := make(chan error, 1)
	go func() { done <- d.Run(0) }()

	time.Sleep(20 * time.Millisecond)
	n, err := unix.Write(writeFd, []byte{0x42})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after pipe became readable")
	}

	assert.Equal(t, byte(0x42), got)
}

func TestIO_RejectsEmptyEventSet(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	_, err = IO(d, ContinuationFunc(func() Continuation { return nil }), Fd(0), 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
