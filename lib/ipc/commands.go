// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"time"

	"github.com/isolant-project/isolant/lib/codec"
	"github.com/isolant-project/isolant/lib/fault"
)

// Command tags. The numbering is part of the wire format.
const (
	// CmdClose asks the worker to stop its loop and exit 0. No reply.
	CmdClose byte = 0

	// CmdReverse replies with the tag followed by the request bytes
	// in reverse order.
	CmdReverse byte = 1

	// CmdLenCalc replies with the total size of the attached files.
	CmdLenCalc byte = 2

	// CmdLenCmp compares the total size of the attached files with
	// the size in the body. No reply; a mismatch stops the worker
	// with a failure code.
	CmdLenCmp byte = 3

	// CmdJoin concatenates the attached files in order and replies
	// with one new file holding the result.
	CmdJoin byte = 4

	// CmdDelay replies after the requested delay, measured on the
	// worker's loop.
	CmdDelay byte = 5

	// CmdDigest replies with the BLAKE3 digest of each attached file.
	CmdDigest byte = 6

	// CmdCompress compresses the first attached file, or the body's
	// inline data when no file is attached, and replies with a file
	// holding the compressed stream.
	CmdCompress byte = 7
)

var commandNames = map[byte]string{
	CmdClose:    "close",
	CmdReverse:  "reverse",
	CmdLenCalc:  "len-calc",
	CmdLenCmp:   "len-cmp",
	CmdJoin:     "join",
	CmdDelay:    "delay",
	CmdDigest:   "digest",
	CmdCompress: "compress",
}

// CommandName returns the name of tag for logging, or "unknown(N)".
func CommandName(tag byte) string {
	if name, ok := commandNames[tag]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", tag)
}

// Compression algorithms accepted by CmdCompress.
const (
	AlgorithmZstd = "zstd"
	AlgorithmLZ4  = "lz4"
)

// LenCalcReply is the body of a CmdLenCalc reply.
type LenCalcReply struct {
	Size int64 `cbor:"size"`
}

// LenCmpRequest is the body of a CmdLenCmp request.
type LenCmpRequest struct {
	Size int64 `cbor:"size"`
}

// DelayRequest is the body of a CmdDelay request.
type DelayRequest struct {
	Delay time.Duration `cbor:"delay"`
}

// FileDigest describes one file in a CmdDigest reply.
type FileDigest struct {
	Size int64  `cbor:"size"`
	Sum  []byte `cbor:"sum"`
}

// DigestReply is the body of a CmdDigest reply, one entry per attached
// file in order.
type DigestReply struct {
	Files []FileDigest `cbor:"files"`
}

// CompressRequest is the body of a CmdCompress request.
type CompressRequest struct {
	// Algorithm is AlgorithmZstd or AlgorithmLZ4.
	Algorithm string `cbor:"algorithm"`

	// Data is compressed when the request carries no file.
	Data []byte `cbor:"data,omitempty"`
}

// CompressReply is the body of a CmdCompress reply. The compressed
// stream travels as the reply's single file.
type CompressReply struct {
	Algorithm  string `cbor:"algorithm"`
	InputSize  int64  `cbor:"input_size"`
	OutputSize int64  `cbor:"output_size"`
}

// Encode returns payload data for tag followed by the CBOR encoding of
// body. A nil body yields the tag alone.
func Encode(tag byte, body any) ([]byte, error) {
	if body == nil {
		return []byte{tag}, nil
	}
	encoded, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ipc: encoding %s body: %w: %w", CommandName(tag), fault.ErrArgument, err)
	}
	return append([]byte{tag}, encoded...), nil
}

// Decode decodes the body of payload data (everything after the tag)
// into body. Malformed bodies are protocol errors.
func Decode(data []byte, body any) error {
	if len(data) == 0 {
		return fmt.Errorf("ipc: empty payload: %w", fault.ErrProtocol)
	}
	if err := codec.Unmarshal(data[1:], body); err != nil {
		return fmt.Errorf("ipc: decoding %s body: %w: %w", CommandName(data[0]), fault.ErrProtocol, err)
	}
	return nil
}
