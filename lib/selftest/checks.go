// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package selftest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/isolant-project/isolant/lib/binhash"
	"github.com/isolant-project/isolant/lib/channel"
	"github.com/isolant-project/isolant/lib/codec"
	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/ipc"
)

// Check is one verification step against a live worker.
type Check struct {
	Name string
	Run  func(*Session) error
}

// Checks returns the full battery in the order it runs.
func Checks() []Check {
	return []Check{
		{Name: "reverse", Run: checkReverse},
		{Name: "len-calc", Run: checkLenCalc},
		{Name: "len-cmp", Run: checkLenCmp},
		{Name: "join", Run: checkJoin},
		{Name: "delay", Run: checkDelay},
		{Name: "late-reply", Run: checkLateReply},
		{Name: "digest", Run: checkDigest},
		{Name: "compress-zstd", Run: compressCheck(ipc.AlgorithmZstd, decompressZstd)},
		{Name: "compress-lz4", Run: compressCheck(ipc.AlgorithmLZ4, decompressLZ4)},
	}
}

func mismatch(what string, got, want any) error {
	return fmt.Errorf("%s: got %v, want %v: %w", what, got, want, fault.ErrProtocol)
}

func (s *Session) files(contents ...string) ([]*os.File, error) {
	files := make([]*os.File, 0, len(contents))
	for _, content := range contents {
		file, err := s.TempFile([]byte(content))
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

func (s *Session) call(tag byte, body any, files []*os.File) (*channel.Payload, error) {
	var encoded []byte
	if body != nil {
		var err error
		if encoded, err = codec.Marshal(body); err != nil {
			return nil, err
		}
	}
	return s.Client.Call(tag, encoded, files, s.CallTimeout)
}

func checkReverse(s *Session) error {
	reply, err := s.Client.Call(ipc.CmdReverse, []byte{1, 2, 3, 4, 5}, nil, s.CallTimeout)
	if err != nil {
		return err
	}
	want := []byte{ipc.CmdReverse, 5, 4, 3, 2, 1}
	if !bytes.Equal(reply.Data, want) {
		return mismatch("reversed payload", reply.Data, want)
	}
	return nil
}

func checkLenCalc(s *Session) error {
	files, err := s.files("isolant", "control channel")
	if err != nil {
		return err
	}
	reply, err := s.call(ipc.CmdLenCalc, nil, files)
	if err != nil {
		return err
	}
	var body ipc.LenCalcReply
	if err := ipc.Decode(reply.Data, &body); err != nil {
		return err
	}
	if body.Size != 22 {
		return mismatch("total size", body.Size, 22)
	}
	return nil
}

// checkLenCmp sends a matching comparison and then confirms the worker
// survived it, since a mismatch would have made the worker exit.
func checkLenCmp(s *Session) error {
	files, err := s.files("abc", "defg")
	if err != nil {
		return err
	}
	body, err := codec.Marshal(ipc.LenCmpRequest{Size: 7})
	if err != nil {
		return err
	}
	if err := s.Client.Notify(ipc.CmdLenCmp, body, files); err != nil {
		return err
	}
	return checkReverse(s)
}

func checkJoin(s *Session) error {
	files, err := s.files("Foo", "Bar")
	if err != nil {
		return err
	}
	reply, err := s.call(ipc.CmdJoin, nil, files)
	if err != nil {
		return err
	}
	defer reply.Close()
	if len(reply.Files) != 1 {
		return mismatch("joined file count", len(reply.Files), 1)
	}
	joined, err := io.ReadAll(reply.Files[0])
	if err != nil {
		return fmt.Errorf("reading joined file: %w: %w", fault.ErrIO, err)
	}
	if string(joined) != "FooBar" {
		return mismatch("joined contents", string(joined), "FooBar")
	}
	return nil
}

func checkDelay(s *Session) error {
	start := time.Now()
	if _, err := s.call(ipc.CmdDelay, ipc.DelayRequest{Delay: 20 * time.Millisecond}, nil); err != nil {
		return err
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		return mismatch("delayed reply latency", elapsed, ">= 20ms")
	}
	return nil
}

// checkLateReply times out a call, lets its reply arrive late, and
// confirms the late reply is discarded rather than handed to the next
// call.
func checkLateReply(s *Session) error {
	const delay = 100 * time.Millisecond
	body, err := codec.Marshal(ipc.DelayRequest{Delay: delay})
	if err != nil {
		return err
	}
	_, err = s.Client.Call(ipc.CmdDelay, body, nil, delay/5)
	if !errors.Is(err, fault.ErrTimeout) {
		return mismatch("short call", err, fault.ErrTimeout)
	}
	if err := s.Pause(2 * delay); err != nil {
		return err
	}
	if stale := s.Client.Caller().StaleReplies(); stale != 0 {
		return mismatch("stale replies after the late reply arrived", stale, 0)
	}
	return checkReverse(s)
}

func checkDigest(s *Session) error {
	contents := []string{"", "Foo", "a longer file for the digest check"}
	files, err := s.files(contents...)
	if err != nil {
		return err
	}
	reply, err := s.call(ipc.CmdDigest, nil, files)
	if err != nil {
		return err
	}
	var body ipc.DigestReply
	if err := ipc.Decode(reply.Data, &body); err != nil {
		return err
	}
	if len(body.Files) != len(contents) {
		return mismatch("digest count", len(body.Files), len(contents))
	}
	for index, content := range contents {
		want, size, err := binhash.HashReader(bytes.NewReader([]byte(content)))
		if err != nil {
			return err
		}
		got := body.Files[index]
		if !bytes.Equal(got.Sum, want[:]) || got.Size != size {
			return mismatch(fmt.Sprintf("file %d digest", index),
				fmt.Sprintf("%x/%d", got.Sum, got.Size), fmt.Sprintf("%x/%d", want, size))
		}
	}
	return nil
}

func decompressZstd(r io.Reader) ([]byte, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return io.ReadAll(decoder)
}

func decompressLZ4(r io.Reader) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(r))
}

func compressCheck(algorithm string, decompress func(io.Reader) ([]byte, error)) func(*Session) error {
	return func(s *Session) error {
		input := bytes.Repeat([]byte("pipeline handler isolation "), 256)
		files, err := s.files(string(input))
		if err != nil {
			return err
		}
		reply, err := s.call(ipc.CmdCompress, ipc.CompressRequest{Algorithm: algorithm}, files)
		if err != nil {
			return err
		}
		defer reply.Close()

		var body ipc.CompressReply
		if err := ipc.Decode(reply.Data, &body); err != nil {
			return err
		}
		if len(reply.Files) != 1 {
			return mismatch("compressed file count", len(reply.Files), 1)
		}
		if body.InputSize != int64(len(input)) {
			return mismatch("input size", body.InputSize, len(input))
		}
		output, err := decompress(reply.Files[0])
		if err != nil {
			return fmt.Errorf("%s decode: %w: %w", algorithm, fault.ErrProtocol, err)
		}
		if !bytes.Equal(output, input) {
			return mismatch("decompressed size", len(output), len(input))
		}
		return nil
	}
}
