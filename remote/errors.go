package remote

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	ErrPoolClosed    = errors.New("connection pool closed")
	ErrServerClosed  = errors.New("server closed")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrNoCursor      = errors.New("no open cursor")
)

// TransportError is an I/O failure on a connection. The connection it
// happened on is never reused.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError carries an error reported by the server while executing a
// command. The connection stays usable.
type RemoteError struct {
	Cmd Cmd
	Msg string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Cmd, e.Msg)
}

// isFatalTransport reports whether err leaves the connection unusable.
func isFatalTransport(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED)
}
