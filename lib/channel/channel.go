// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/isolant-project/isolant/lib/eventloop"
	"github.com/isolant-project/isolant/lib/fault"
)

// DefaultSendTimeout bounds how long Send waits for a full socket
// buffer to drain.
const DefaultSendTimeout = 5 * time.Second

// State is the lifecycle state of a Channel. Transitions are one-way:
// Unbound, Bound, Closed.
type State int

const (
	Unbound State = iota
	Bound
	Closed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats counts the traffic a channel has carried. Bytes include the
// frame header.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	FilesSent        uint64
	FilesReceived    uint64
}

// Config holds the optional settings of a Channel.
type Config struct {
	// Logger receives channel diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// SendTimeout bounds the wait for writability when the socket
	// buffer is full. Defaults to DefaultSendTimeout.
	SendTimeout time.Duration
}

// Channel is one end of a control channel. All methods must be called
// on the thread running the channel's loop.
type Channel struct {
	loop        *eventloop.Loop
	logger      *slog.Logger
	sendTimeout time.Duration

	state    State
	fd       int
	notifier *eventloop.Notifier

	readyRead    func()
	disconnected func()
	hungUp       bool

	stats Stats
}

// New returns an unbound channel driven by loop.
func New(loop *eventloop.Loop, config Config) *Channel {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sendTimeout := config.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Channel{
		loop:        loop,
		logger:      logger.With("component", "channel"),
		sendTimeout: sendTimeout,
		fd:          -1,
	}
}

func socketPair() ([2]int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fds, fmt.Errorf("channel: creating socket pair: %w: %w", fault.ErrResource, err)
	}
	return fds, nil
}

// NewPair returns both ends of a connected SOCK_SEQPACKET socket pair.
// Both descriptors are close-on-exec; a child that should inherit one
// receives it through exec's extra file list.
func NewPair() (*os.File, *os.File, error) {
	fds, err := socketPair()
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), "channel-local"), os.NewFile(uintptr(fds[1]), "channel-peer"), nil
}

// Create makes a new socket pair, binds the channel to one end, and
// returns the other end for handing to a child process. The caller
// owns the returned file.
func (c *Channel) Create() (*os.File, error) {
	if c.state != Unbound {
		return nil, fmt.Errorf("channel: create on %s channel: %w", c.state, fault.ErrArgument)
	}
	fds, err := socketPair()
	if err != nil {
		return nil, err
	}
	if err := c.Bind(fds[0]); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return os.NewFile(uintptr(fds[1]), "channel-peer"), nil
}

// Bind adopts fd, typically a descriptor inherited across exec. On
// success the channel owns fd and closes it in Close. On failure the
// caller keeps ownership.
func (c *Channel) Bind(fd int) error {
	if c.state != Unbound {
		return fmt.Errorf("channel: bind on %s channel: %w", c.state, fault.ErrArgument)
	}
	if fd < 0 {
		return fmt.Errorf("channel: bind to invalid descriptor %d: %w", fd, fault.ErrArgument)
	}

	socketType, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return fmt.Errorf("channel: descriptor %d is not a socket: %w: %w", fd, fault.ErrIO, err)
	}
	if socketType != unix.SOCK_SEQPACKET {
		return fmt.Errorf("channel: descriptor %d has socket type %d, want SOCK_SEQPACKET: %w",
			fd, socketType, fault.ErrIO)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("channel: setting descriptor %d non-blocking: %w: %w", fd, fault.ErrIO, err)
	}
	unix.CloseOnExec(fd)

	notifier, err := c.loop.Watch(fd, eventloop.Readable, c.handleEvents)
	if err != nil {
		return err
	}

	c.fd = fd
	c.notifier = notifier
	c.state = Bound
	c.logger = c.logger.With("fd", fd)
	c.logger.Debug("channel bound")
	return nil
}

// OnReadyRead sets the callback run once per complete inbound message.
// The callback is expected to call Receive; until it does, no further
// messages are announced.
func (c *Channel) OnReadyRead(callback func()) { c.readyRead = callback }

// OnDisconnected sets the callback run once when the peer hangs up.
func (c *Channel) OnDisconnected(callback func()) { c.disconnected = callback }

// State returns the channel's lifecycle state.
func (c *Channel) State() State { return c.state }

// Fd returns the bound descriptor, or -1. For diagnostics only; never
// read from it directly.
func (c *Channel) Fd() int { return c.fd }

// Stats returns the channel's traffic counters.
func (c *Channel) Stats() Stats { return c.stats }

// Send writes payload as a single record and consumes its files. On
// return payload.Files is nil unless the error is an argument error.
//
// When the socket buffer is full Send waits in poll(2) for up to
// SendTimeout, and the loop dispatches nothing else until the record
// is written or the wait fails with fault.ErrTimeout.
func (c *Channel) Send(payload *Payload) error {
	if c.state != Bound {
		return fmt.Errorf("channel: send on %s channel: %w", c.state, fault.ErrArgument)
	}
	if err := payload.validate(); err != nil {
		return err
	}
	defer payload.Close()

	buffer := make([]byte, headerSize+len(payload.Data))
	binary.LittleEndian.PutUint32(buffer[0:4], uint32(len(payload.Data)))
	binary.LittleEndian.PutUint32(buffer[4:8], uint32(len(payload.Files)))
	copy(buffer[headerSize:], payload.Data)

	var rights []byte
	if len(payload.Files) > 0 {
		descriptors := make([]int, len(payload.Files))
		for index, file := range payload.Files {
			descriptor, err := rawDescriptor(file)
			if err != nil {
				return fmt.Errorf("channel: payload file %d: %w: %w", index, fault.ErrIO, err)
			}
			descriptors[index] = descriptor
		}
		rights = unix.UnixRights(descriptors...)
	}

	deadline := time.Now().Add(c.sendTimeout)
	for {
		_, err := unix.SendmsgN(c.fd, buffer, rights, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN {
			return fmt.Errorf("channel: sendmsg: %w: %w", fault.ErrIO, err)
		}
		if err := c.waitWritable(deadline); err != nil {
			return err
		}
	}

	c.stats.MessagesSent++
	c.stats.BytesSent += uint64(len(buffer))
	c.stats.FilesSent += uint64(len(payload.Files))
	c.logger.Debug("message sent", "tag", payload.Data[0], "bytes", len(payload.Data), "files", len(payload.Files))
	return nil
}

// waitWritable blocks in poll(2) until the socket accepts more data or
// deadline passes.
func (c *Channel) waitWritable(deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("channel: socket buffer still full after %v: %w", c.sendTimeout, fault.ErrTimeout)
		}
		pollFDs := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
		count, err := unix.Poll(pollFDs, int(remaining.Milliseconds())+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("channel: waiting for writability: %w: %w", fault.ErrIO, err)
		}
		if count == 0 {
			continue
		}
		revents := pollFDs[0].Revents
		if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 && revents&unix.POLLOUT == 0 {
			return fmt.Errorf("channel: peer closed while waiting to send: %w: %w", fault.ErrIO, unix.EPIPE)
		}
		return nil
	}
}

// Receive reads the pending message. The returned payload owns its
// files. With no message pending the error wraps fault.ErrIO and
// unix.EAGAIN.
func (c *Channel) Receive() (*Payload, error) {
	if c.state != Bound {
		return nil, fmt.Errorf("channel: receive on %s channel: %w", c.state, fault.ErrArgument)
	}
	defer c.rearm()

	var header [headerSize]byte
	count, _, _, _, err := unix.Recvmsg(c.fd, header[:], nil, unix.MSG_PEEK|unix.MSG_DONTWAIT)
	if err != nil {
		return nil, fmt.Errorf("channel: peeking header: %w: %w", fault.ErrIO, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("channel: peer closed: %w: %w", fault.ErrIO, io.EOF)
	}
	if count < headerSize {
		c.discardRecord()
		return nil, fmt.Errorf("channel: %d-byte record is shorter than the header: %w", count, fault.ErrProtocol)
	}

	dataLength := binary.LittleEndian.Uint32(header[0:4])
	fileCount := binary.LittleEndian.Uint32(header[4:8])
	if dataLength == 0 {
		c.discardRecord()
		return nil, fmt.Errorf("channel: record carries no command tag: %w", fault.ErrProtocol)
	}
	if dataLength > MaxDataLength || fileCount > MaxFiles {
		c.discardRecord()
		return nil, fmt.Errorf("channel: header declares %d bytes and %d files, over limits: %w",
			dataLength, fileCount, fault.ErrProtocol)
	}

	buffer := make([]byte, headerSize+int(dataLength))
	var control []byte
	if fileCount > 0 {
		control = make([]byte, unix.CmsgSpace(int(fileCount)*4))
	}
	count, controlLength, flags, _, err := unix.Recvmsg(c.fd, buffer, control, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("channel: recvmsg: %w: %w", fault.ErrIO, err)
	}

	descriptors, parseErr := parseRights(control[:controlLength])
	var protocolErr error
	switch {
	case parseErr != nil:
		protocolErr = fmt.Errorf("channel: malformed control message: %w: %w", fault.ErrProtocol, parseErr)
	case flags&unix.MSG_TRUNC != 0:
		protocolErr = fmt.Errorf("channel: record longer than its declared %d bytes: %w", dataLength, fault.ErrProtocol)
	case flags&unix.MSG_CTRUNC != 0:
		protocolErr = fmt.Errorf("channel: control data truncated: %w", fault.ErrProtocol)
	case count != len(buffer):
		protocolErr = fmt.Errorf("channel: received %d bytes, header declares %d: %w",
			count, len(buffer), fault.ErrProtocol)
	case len(descriptors) != int(fileCount):
		protocolErr = fmt.Errorf("channel: received %d descriptors, header declares %d: %w",
			len(descriptors), fileCount, fault.ErrProtocol)
	}
	if protocolErr != nil {
		closeDescriptors(descriptors)
		return nil, protocolErr
	}

	payload := &Payload{Data: buffer[headerSize:]}
	if len(descriptors) > 0 {
		payload.Files = make([]*os.File, len(descriptors))
		for index, descriptor := range descriptors {
			payload.Files[index] = os.NewFile(uintptr(descriptor), fmt.Sprintf("channel-file-%d", index))
		}
	}

	c.stats.MessagesReceived++
	c.stats.BytesReceived += uint64(count)
	c.stats.FilesReceived += uint64(len(descriptors))
	c.logger.Debug("message received", "tag", payload.Data[0], "bytes", len(payload.Data), "files", len(payload.Files))
	return payload, nil
}

// discardRecord consumes the record at the head of the queue and
// closes any descriptors it carried.
func (c *Channel) discardRecord() {
	var scratch [headerSize]byte
	control := make([]byte, unix.CmsgSpace(MaxFiles*4))
	_, controlLength, _, _, err := unix.Recvmsg(c.fd, scratch[:], control, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		c.logger.Warn("failed to discard malformed record", "error", err)
		return
	}
	descriptors, _ := parseRights(control[:controlLength])
	closeDescriptors(descriptors)
}

// rearm re-enables the read notifier after the consumer has taken the
// pending message.
func (c *Channel) rearm() {
	if c.notifier != nil && c.state == Bound {
		c.notifier.SetEnabled(true)
	}
}

func (c *Channel) handleEvents(events eventloop.Events) {
	if events.Has(eventloop.Readable) {
		var probe [1]byte
		count, _, _, _, err := unix.Recvmsg(c.fd, probe[:], nil, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			return
		case err != nil:
			c.logger.Warn("peeking channel failed", "error", err)
			c.handleHangup()
			return
		case count > 0:
			c.notifier.SetEnabled(false)
			if c.readyRead != nil {
				c.readyRead()
			} else {
				c.logger.Debug("message pending with no reader")
			}
			return
		}
		// A zero-length read on SOCK_SEQPACKET is end of stream; every
		// record carries at least the header.
		c.handleHangup()
		return
	}
	if events.Has(eventloop.Hangup) || events.Has(eventloop.Error) {
		c.handleHangup()
	}
}

func (c *Channel) handleHangup() {
	if c.hungUp {
		return
	}
	c.hungUp = true
	if c.notifier != nil {
		c.notifier.Close()
		c.notifier = nil
	}
	c.logger.Debug("peer disconnected")
	if c.disconnected != nil {
		c.disconnected()
	}
}

// Close closes the socket. Unread messages are discarded. Close is
// idempotent.
func (c *Channel) Close() error {
	if c.state == Closed {
		return nil
	}
	previous := c.state
	c.state = Closed
	if c.notifier != nil {
		c.notifier.Close()
		c.notifier = nil
	}
	if previous != Bound {
		return nil
	}
	fd := c.fd
	c.fd = -1
	c.logger.Debug("channel closed", "messages_sent", c.stats.MessagesSent, "messages_received", c.stats.MessagesReceived)
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("channel: closing socket: %w", err)
	}
	return nil
}

func parseRights(control []byte) ([]int, error) {
	if len(control) == 0 {
		return nil, nil
	}
	messages, err := unix.ParseSocketControlMessage(control)
	if err != nil {
		return nil, err
	}
	var descriptors []int
	var errs []error
	for index := range messages {
		rights, err := unix.ParseUnixRights(&messages[index])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		descriptors = append(descriptors, rights...)
	}
	return descriptors, errors.Join(errs...)
}

func closeDescriptors(descriptors []int) {
	for _, descriptor := range descriptors {
		unix.Close(descriptor)
	}
}

// rawDescriptor returns file's descriptor without switching it to
// blocking mode the way (*os.File).Fd does.
func rawDescriptor(file *os.File) (int, error) {
	conn, err := file.SyscallConn()
	if err != nil {
		return -1, err
	}
	descriptor := -1
	if err := conn.Control(func(fd uintptr) { descriptor = int(fd) }); err != nil {
		return -1, err
	}
	return descriptor, nil
}
