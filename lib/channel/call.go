// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/isolant-project/isolant/lib/eventloop"
	"github.com/isolant-project/isolant/lib/fault"
)

// DefaultLateReplyWindow is how long a timed-out call's reply is
// still recognised and discarded when it finally arrives.
const DefaultLateReplyWindow = 30 * time.Second

// Caller turns a Channel into a synchronous request/response endpoint.
// It installs itself as the channel's ReadyRead and Disconnected
// handler, so a channel has at most one Caller and no other reader.
//
// The wire carries no request identifiers; a reply repeats its
// request's tag. A call that times out leaves a reply owed, recorded
// by tag. An inbound message is discarded as that late reply only when
// its tag matches an owed entry and differs from the tag of the call
// now pending. Replies arrive in request order, so owed entries queued
// ahead of the matched one were never answered and are dropped with
// it. Entries also lapse after the late-reply window. A message with
// the same tag as the pending call is always delivered to that call.
type Caller struct {
	channel *Channel
	loop    *eventloop.Loop
	logger  *slog.Logger

	current         *pendingCall
	owed            []owedReply
	lateReplyWindow time.Duration
	peerGone        bool

	unsolicited  func(*Payload)
	disconnected func()
}

type pendingCall struct {
	tag   byte
	reply *Payload
	err   error
	done  bool
}

type owedReply struct {
	tag     byte
	expires time.Time
}

// NewCaller attaches a Caller to ch.
func NewCaller(ch *Channel) *Caller {
	caller := &Caller{
		channel:         ch,
		loop:            ch.loop,
		logger:          ch.logger.With("component", "caller"),
		lateReplyWindow: DefaultLateReplyWindow,
	}
	ch.OnReadyRead(caller.handleReadyRead)
	ch.OnDisconnected(caller.handleDisconnected)
	return caller
}

// Channel returns the underlying channel.
func (c *Caller) Channel() *Channel { return c.channel }

// OnUnsolicited sets the handler for messages that arrive while no
// call is pending. Without one, such messages are logged and dropped.
func (c *Caller) OnUnsolicited(handler func(*Payload)) { c.unsolicited = handler }

// OnDisconnected sets a callback run once when the peer hangs up,
// after any pending call has been failed.
func (c *Caller) OnDisconnected(callback func()) { c.disconnected = callback }

// Pending reports whether a call is in progress.
func (c *Caller) Pending() bool { return c.current != nil }

// SetLateReplyWindow changes how long replies owed by timed-out calls
// are remembered. Non-positive values restore the default.
func (c *Caller) SetLateReplyWindow(window time.Duration) {
	if window <= 0 {
		window = DefaultLateReplyWindow
	}
	c.lateReplyWindow = window
}

// StaleReplies reports how many replies owed by timed-out calls are
// still expected.
func (c *Caller) StaleReplies() int {
	c.pruneOwed()
	return len(c.owed)
}

// Call sends request and runs the loop until the reply arrives,
// timeout elapses, or the peer disconnects. Other notifiers, timers,
// and posted work on the loop keep running meanwhile.
//
// Call must not be re-entered: a call made while another is pending
// fails with fault.ErrArgument. On timeout the error wraps
// fault.ErrTimeout and the channel stays usable. The request's files
// are consumed on every path except an invalid payload, which leaves
// them with the caller as Channel.Send does.
func (c *Caller) Call(request *Payload, timeout time.Duration) (*Payload, error) {
	if c.current != nil {
		request.Close()
		return nil, fmt.Errorf("channel: call while another call is pending: %w", fault.ErrArgument)
	}
	if timeout <= 0 {
		request.Close()
		return nil, fmt.Errorf("channel: call timeout %v must be positive: %w", timeout, fault.ErrArgument)
	}
	if c.peerGone {
		request.Close()
		return nil, fmt.Errorf("channel: peer has disconnected: %w", fault.ErrIO)
	}

	if err := request.validate(); err != nil {
		return nil, err
	}

	call := &pendingCall{tag: request.Tag()}
	c.current = call
	defer func() { c.current = nil }()

	if err := c.channel.Send(request); err != nil {
		return nil, err
	}

	timer := c.loop.NewTimer(func() {
		if call.done {
			return
		}
		c.owed = append(c.owed, owedReply{
			tag:     call.tag,
			expires: c.loop.Clock().Now().Add(c.lateReplyWindow),
		})
		call.err = fmt.Errorf("channel: no reply within %v: %w", timeout, fault.ErrTimeout)
		call.done = true
		c.logger.Warn("call timed out", "tag", call.tag, "timeout", timeout, "stale_replies", len(c.owed))
	})
	timer.Start(timeout)
	defer timer.Stop()

	for !call.done {
		if err := c.loop.ProcessEvents(); err != nil {
			return nil, err
		}
	}
	return call.reply, call.err
}

func (c *Caller) handleReadyRead() {
	c.pruneOwed()
	payload, err := c.channel.Receive()
	if err != nil {
		if len(c.owed) > 0 {
			// Replies arrive in request order, so a bad record is the
			// oldest owed reply before it is anything newer.
			c.logger.Warn("discarding malformed late reply", "tag", c.owed[0].tag, "error", err)
			c.owed = c.owed[1:]
			return
		}
		if c.current != nil && !c.current.done {
			c.current.err = err
			c.current.done = true
			return
		}
		c.logger.Warn("receiving message failed", "error", err, "kind", fault.KindOf(err))
		return
	}

	if c.consumeOwed(payload.Tag()) {
		c.logger.Info("discarding late reply", "tag", payload.Tag(), "files", len(payload.Files))
		payload.Close()
		return
	}

	if c.current != nil && !c.current.done {
		c.current.reply = payload
		c.current.done = true
		return
	}

	if c.unsolicited != nil {
		c.unsolicited(payload)
		return
	}
	c.logger.Warn("dropping unsolicited message", "tag", payload.Data[0], "files", len(payload.Files))
	payload.Close()
}

// consumeOwed reports whether a message tagged tag is the late reply
// to a timed-out call, and if so forgets that call and every older one.
func (c *Caller) consumeOwed(tag byte) bool {
	if c.current != nil && !c.current.done && c.current.tag == tag {
		return false
	}
	for index, owed := range c.owed {
		if owed.tag == tag {
			c.owed = c.owed[index+1:]
			return true
		}
	}
	return false
}

func (c *Caller) pruneOwed() {
	now := c.loop.Clock().Now()
	kept := c.owed[:0]
	for _, owed := range c.owed {
		if now.Before(owed.expires) {
			kept = append(kept, owed)
		}
	}
	c.owed = kept
}

func (c *Caller) handleDisconnected() {
	c.peerGone = true
	if c.current != nil && !c.current.done {
		c.current.err = fmt.Errorf("channel: peer disconnected during call: %w", fault.ErrIO)
		c.current.done = true
	}
	if c.disconnected != nil {
		c.disconnected()
	}
}
