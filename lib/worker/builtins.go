// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"io"
	"os"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/isolant-project/isolant/lib/binhash"
	"github.com/isolant-project/isolant/lib/channel"
	"github.com/isolant-project/isolant/lib/codec"
	"github.com/isolant-project/isolant/lib/command"
	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/ipc"
	"github.com/isolant-project/isolant/lib/process"
)

// RegisterBuiltins installs handlers for every command in lib/ipc.
func RegisterBuiltins(w *Worker) {
	d := w.Dispatcher()
	d.Handle(ipc.CmdClose, ipc.CommandName(ipc.CmdClose), w.handleClose)
	d.Handle(ipc.CmdReverse, ipc.CommandName(ipc.CmdReverse), handleReverse)
	d.Handle(ipc.CmdLenCalc, ipc.CommandName(ipc.CmdLenCalc), handleLenCalc)
	d.Handle(ipc.CmdLenCmp, ipc.CommandName(ipc.CmdLenCmp), w.handleLenCmp)
	d.Handle(ipc.CmdJoin, ipc.CommandName(ipc.CmdJoin), handleJoin)
	d.Handle(ipc.CmdDelay, ipc.CommandName(ipc.CmdDelay), w.handleDelay)
	d.Handle(ipc.CmdDigest, ipc.CommandName(ipc.CmdDigest), handleDigest)
	d.Handle(ipc.CmdCompress, ipc.CommandName(ipc.CmdCompress), w.handleCompress)
}

func (w *Worker) handleClose(*command.Request) (*channel.Payload, error) {
	w.Stop(process.ExitSuccess)
	return nil, nil
}

func handleReverse(request *command.Request) (*channel.Payload, error) {
	reversed := slices.Clone(request.Body)
	slices.Reverse(reversed)
	return &channel.Payload{Data: append([]byte{request.Tag}, reversed...)}, nil
}

func handleLenCalc(request *command.Request) (*channel.Payload, error) {
	size, err := totalSize(request.Files)
	if err != nil {
		return nil, err
	}
	return reply(request.Tag, ipc.LenCalcReply{Size: size}, nil)
}

func (w *Worker) handleLenCmp(request *command.Request) (*channel.Payload, error) {
	var body ipc.LenCmpRequest
	if err := w.decode(request, &body); err != nil {
		return nil, err
	}
	size, err := totalSize(request.Files)
	if err != nil {
		return nil, err
	}
	if size != body.Size {
		return nil, fmt.Errorf("attached files total %d bytes, request says %d", size, body.Size)
	}
	w.logger.Debug("length comparison matched", "size", size, "files", len(request.Files))
	return nil, nil
}

func handleJoin(request *command.Request) (*channel.Payload, error) {
	output, err := newMemoryFile("isolant-join")
	if err != nil {
		return nil, err
	}
	for index, file := range request.Files {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			output.Close()
			return nil, fmt.Errorf("rewinding file %d: %w: %w", index, fault.ErrIO, err)
		}
		if _, err := io.Copy(output, file); err != nil {
			output.Close()
			return nil, fmt.Errorf("reading file %d: %w: %w", index, fault.ErrIO, err)
		}
	}
	if _, err := output.Seek(0, io.SeekStart); err != nil {
		output.Close()
		return nil, fmt.Errorf("rewinding joined file: %w: %w", fault.ErrIO, err)
	}
	return &channel.Payload{Data: []byte{request.Tag}, Files: []*os.File{output}}, nil
}

// handleDelay replies from a loop timer, so the worker keeps serving
// while the delay runs.
func (w *Worker) handleDelay(request *command.Request) (*channel.Payload, error) {
	var body ipc.DelayRequest
	if err := w.decode(request, &body); err != nil {
		return nil, err
	}
	if body.Delay < 0 {
		return nil, fmt.Errorf("negative delay %v: %w", body.Delay, fault.ErrArgument)
	}
	tag := request.Tag
	timer := w.loop.NewTimer(func() {
		if err := w.channel.Send(&channel.Payload{Data: []byte{tag}}); err != nil {
			w.fail(process.ExitChannel, fmt.Errorf("sending delayed reply: %w", err))
		}
	})
	timer.Start(body.Delay)
	return nil, nil
}

func handleDigest(request *command.Request) (*channel.Payload, error) {
	result := ipc.DigestReply{Files: make([]ipc.FileDigest, 0, len(request.Files))}
	for index, file := range request.Files {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewinding file %d: %w: %w", index, fault.ErrIO, err)
		}
		digest, size, err := binhash.HashReader(file)
		if err != nil {
			return nil, fmt.Errorf("hashing file %d: %w: %w", index, fault.ErrIO, err)
		}
		result.Files = append(result.Files, ipc.FileDigest{Size: size, Sum: digest[:]})
	}
	return reply(request.Tag, result, nil)
}

func (w *Worker) decode(request *command.Request, body any) error {
	if err := codec.Unmarshal(request.Body, body); err != nil {
		if notation, diagErr := codec.Diagnose(request.Body); diagErr == nil {
			w.logger.Debug("malformed command body", "tag", request.Tag, "body", notation)
		}
		return fmt.Errorf("decoding %s body: %w: %w", ipc.CommandName(request.Tag), fault.ErrProtocol, err)
	}
	return nil
}

func reply(tag byte, body any, files []*os.File) (*channel.Payload, error) {
	data, err := ipc.Encode(tag, body)
	if err != nil {
		return nil, err
	}
	return &channel.Payload{Data: data, Files: files}, nil
}

// totalSize sums the sizes of files by seeking to their ends, leaving
// each positioned at its start.
func totalSize(files []*os.File) (int64, error) {
	var total int64
	for index, file := range files {
		size, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, fmt.Errorf("sizing file %d: %w: %w", index, fault.ErrIO, err)
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("rewinding file %d: %w: %w", index, fault.ErrIO, err)
		}
		total += size
	}
	return total, nil
}

// newMemoryFile returns an anonymous read-write file backed by memory.
func newMemoryFile(name string) (*os.File, error) {
	descriptor, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w: %w", fault.ErrResource, err)
	}
	return os.NewFile(uintptr(descriptor), name), nil
}
