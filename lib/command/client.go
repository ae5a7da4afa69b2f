// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/isolant-project/isolant/lib/channel"
	"github.com/isolant-project/isolant/lib/fault"
)

// Client issues commands to a worker over a channel.
type Client struct {
	caller *channel.Caller
	logger *slog.Logger
}

// NewClient attaches a Client, and the Caller beneath it, to ch.
func NewClient(ch *channel.Channel, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		caller: channel.NewCaller(ch),
		logger: logger.With("component", "command-client"),
	}
}

// Caller returns the underlying call adapter.
func (c *Client) Caller() *channel.Caller { return c.caller }

// Call sends tag and body with files attached and waits up to timeout
// for the reply. The files are consumed whether or not the call
// succeeds. A reply whose tag differs from the request's is a protocol
// error.
func (c *Client) Call(tag byte, body []byte, files []*os.File, timeout time.Duration) (*channel.Payload, error) {
	request := newPayload(tag, body, files)
	reply, err := c.caller.Call(request, timeout)
	if err != nil {
		request.Close()
		return nil, err
	}
	if reply.Data[0] != tag {
		c.logger.Warn("reply tag does not match request", "request_tag", tag, "reply_tag", reply.Data[0])
		reply.Close()
		return nil, fmt.Errorf("command: reply tag %d for request tag %d: %w", reply.Data[0], tag, fault.ErrProtocol)
	}
	return reply, nil
}

// Notify sends a command that has no reply.
func (c *Client) Notify(tag byte, body []byte, files []*os.File) error {
	return c.caller.Channel().Send(newPayload(tag, body, files))
}

func newPayload(tag byte, body []byte, files []*os.File) *channel.Payload {
	data := make([]byte, 1+len(body))
	data[0] = tag
	copy(data[1:], body)
	return &channel.Payload{Data: data, Files: files}
}
