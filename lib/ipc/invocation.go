// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

// How a worker learns which inherited descriptor is its channel. The
// supervisor always places the channel at ChannelFD and sets
// ChannelFDEnv. Callers launching isolant-worker also pass
// --channel-fd; the flag wins when both are present.
const (
	ChannelFD     = 3
	ChannelFDFlag = "channel-fd"
	ChannelFDEnv  = "ISOLANT_CHANNEL_FD"
)
