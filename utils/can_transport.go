package utils

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// SocketCANReader receives frames on one goroutine per call. Closing the
// reader unblocks a pending ReadFrame.
type SocketCANReader struct {
	conn net.Conn
	recv *socketcan.Receiver
}

func NewSocketCANReader(ctx context.Context, iface string) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANReader{
		conn: conn,
		recv: socketcan.NewReceiver(conn),
	}, nil
}

type received struct {
	frame can.Frame
	err   error
}

func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	ch := make(chan received, 1)
	go func() {
		for r.recv.Receive() {
			if r.recv.HasErrorFrame() {
				continue
			}
			ch <- received{frame: r.recv.Frame()}
			return
		}
		err := r.recv.Err()
		if err == nil {
			err = errors.New("socketcan receiver closed")
		}
		ch <- received{err: err}
	}()

	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case got := <-ch:
		return got.frame, got.err
	}
}

func (r *SocketCANReader) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
