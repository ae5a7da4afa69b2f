// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/isolant-project/isolant/lib/channel"
	"github.com/isolant-project/isolant/lib/codec"
	"github.com/isolant-project/isolant/lib/command"
	"github.com/isolant-project/isolant/lib/eventloop"
	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/ipc"
	"github.com/isolant-project/isolant/lib/process"
	"github.com/isolant-project/isolant/lib/testutil"
)

const callTimeout = 5 * time.Second

// session is the supervisor side of an in-process worker running on
// its own goroutine and loop.
type session struct {
	loop    *eventloop.Loop
	channel *channel.Channel
	client  *command.Client
	exited  chan int
}

func detach(t *testing.T, file *os.File) int {
	t.Helper()
	descriptor, err := unix.Dup(int(file.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	file.Close()
	return descriptor
}

func startWorker(t *testing.T) *session {
	t.Helper()
	local, remote, err := channel.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}

	w, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	RegisterBuiltins(w)
	workerFD := detach(t, remote)
	exited := make(chan int, 1)
	go func() { exited <- w.Run(context.Background(), workerFD) }()

	loop, err := eventloop.New(eventloop.Config{})
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	ch := channel.New(loop, channel.Config{})
	if err := ch.Bind(detach(t, local)); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	s := &session{loop: loop, channel: ch, client: command.NewClient(ch, nil), exited: exited}
	t.Cleanup(func() {
		// Closing our end makes a still-running worker exit.
		ch.Close()
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			t.Error("worker did not exit after the channel closed")
		}
		loop.Close()
	})
	return s
}

// waitExit returns the worker's exit code, consuming it so cleanup
// does not wait again.
func (s *session) waitExit(t *testing.T) int {
	t.Helper()
	code := testutil.RequireReceive(t, s.exited, 5*time.Second, "waiting for worker exit")
	s.exited <- code
	return code
}

func encode(t *testing.T, body any) []byte {
	t.Helper()
	encoded, err := codec.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return encoded
}

func TestReverse(t *testing.T) {
	s := startWorker(t)

	reply, err := s.client.Call(ipc.CmdReverse, []byte{1, 2, 3, 4, 5}, nil, callTimeout)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(reply.Data, []byte{1, 5, 4, 3, 2, 1}) {
		t.Fatalf("reply = %v, want [1 5 4 3 2 1]", reply.Data)
	}
}

func TestLenCalc(t *testing.T) {
	s := startWorker(t)

	files := []*os.File{testutil.TempFileWithContent(t, "twelve bytes"), testutil.TempFileWithContent(t, "seven!!")}
	reply, err := s.client.Call(ipc.CmdLenCalc, nil, files, callTimeout)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var body ipc.LenCalcReply
	if err := ipc.Decode(reply.Data, &body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Size != 19 {
		t.Fatalf("size = %d, want 19", body.Size)
	}
}

func TestLenCmpMatchKeepsWorkerRunning(t *testing.T) {
	s := startWorker(t)

	files := []*os.File{testutil.TempFileWithContent(t, "abc"), testutil.TempFileWithContent(t, "de")}
	if err := s.client.Notify(ipc.CmdLenCmp, encode(t, ipc.LenCmpRequest{Size: 5}), files); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if _, err := s.client.Call(ipc.CmdReverse, []byte{9}, nil, callTimeout); err != nil {
		t.Fatalf("Call after matching LenCmp: %v", err)
	}
}

func TestLenCmpMismatchStopsWorker(t *testing.T) {
	s := startWorker(t)

	files := []*os.File{testutil.TempFileWithContent(t, "abc")}
	if err := s.client.Notify(ipc.CmdLenCmp, encode(t, ipc.LenCmpRequest{Size: 4}), files); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if code := s.waitExit(t); code != process.ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, process.ExitFailure)
	}
}

func TestJoinPreservesFileOrder(t *testing.T) {
	s := startWorker(t)

	files := []*os.File{testutil.TempFileWithContent(t, "Foo"), testutil.TempFileWithContent(t, "Bar")}
	reply, err := s.client.Call(ipc.CmdJoin, nil, files, callTimeout)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	defer reply.Close()
	if len(reply.Files) != 1 {
		t.Fatalf("reply carries %d files, want 1", len(reply.Files))
	}
	joined, err := io.ReadAll(reply.Files[0])
	if err != nil {
		t.Fatalf("reading joined file: %v", err)
	}
	if string(joined) != "FooBar" {
		t.Fatalf("joined = %q, want FooBar", joined)
	}
}

func TestJoinRewindsInputs(t *testing.T) {
	s := startWorker(t)

	files := []*os.File{testutil.TempFileWithContent(t, "Foo"), testutil.TempFileWithContent(t, "Bar")}
	for _, file := range files {
		if _, err := io.ReadAll(file); err != nil {
			t.Fatalf("draining input: %v", err)
		}
	}
	reply, err := s.client.Call(ipc.CmdJoin, nil, files, callTimeout)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	defer reply.Close()
	joined, err := io.ReadAll(reply.Files[0])
	if err != nil {
		t.Fatalf("reading joined file: %v", err)
	}
	if string(joined) != "FooBar" {
		t.Fatalf("joined = %q, want FooBar", joined)
	}
}

func TestCallWithoutReplyLeavesChannelUsable(t *testing.T) {
	s := startWorker(t)

	// A matching LenCmp is never answered.
	files := []*os.File{testutil.TempFileWithContent(t, "abc")}
	_, err := s.client.Call(ipc.CmdLenCmp, encode(t, ipc.LenCmpRequest{Size: 3}), files, 50*time.Millisecond)
	if !errors.Is(err, fault.ErrTimeout) {
		t.Fatalf("LenCmp Call = %v, want ErrTimeout", err)
	}
	for attempt := range 3 {
		reply, err := s.client.Call(ipc.CmdReverse, []byte{1, 2, byte(attempt)}, nil, callTimeout)
		if err != nil {
			t.Fatalf("reverse %d after unanswered call: %v", attempt, err)
		}
		if want := []byte{ipc.CmdReverse, byte(attempt), 2, 1}; !bytes.Equal(reply.Data, want) {
			t.Fatalf("reverse %d = %v, want %v", attempt, reply.Data, want)
		}
	}
}

func TestDelayRepliesLater(t *testing.T) {
	s := startWorker(t)

	reply, err := s.client.Call(ipc.CmdDelay, encode(t, ipc.DelayRequest{Delay: 20 * time.Millisecond}), nil, callTimeout)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(reply.Data, []byte{ipc.CmdDelay}) {
		t.Fatalf("reply = %v", reply.Data)
	}
}

func TestTimedOutCallDoesNotPoisonNextCall(t *testing.T) {
	s := startWorker(t)

	_, err := s.client.Call(ipc.CmdDelay, encode(t, ipc.DelayRequest{Delay: 100 * time.Millisecond}), nil, 20*time.Millisecond)
	if !errors.Is(err, fault.ErrTimeout) {
		t.Fatalf("slow Call = %v, want ErrTimeout", err)
	}
	if stale := s.client.Caller().StaleReplies(); stale != 1 {
		t.Fatalf("StaleReplies = %d, want 1", stale)
	}
	// Replies carry no request identifier, so the late reply must be
	// queued ahead of the next request's reply to be discarded.
	time.Sleep(200 * time.Millisecond)

	reply, err := s.client.Call(ipc.CmdReverse, []byte{1, 2}, nil, callTimeout)
	if err != nil {
		t.Fatalf("Call after timeout: %v", err)
	}
	if !bytes.Equal(reply.Data, []byte{ipc.CmdReverse, 2, 1}) {
		t.Fatalf("reply = %v, want the reverse reply", reply.Data)
	}
}

func TestDigest(t *testing.T) {
	s := startWorker(t)

	contents := []string{"first file", "second, longer file"}
	files := []*os.File{testutil.TempFileWithContent(t, contents[0]), testutil.TempFileWithContent(t, contents[1])}
	reply, err := s.client.Call(ipc.CmdDigest, nil, files, callTimeout)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var body ipc.DigestReply
	if err := ipc.Decode(reply.Data, &body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Files) != len(contents) {
		t.Fatalf("digests for %d files, want %d", len(body.Files), len(contents))
	}
	for index, content := range contents {
		want := blake3.Sum256([]byte(content))
		if !bytes.Equal(body.Files[index].Sum, want[:]) {
			t.Errorf("file %d digest = %x, want %x", index, body.Files[index].Sum, want)
		}
		if body.Files[index].Size != int64(len(content)) {
			t.Errorf("file %d size = %d, want %d", index, body.Files[index].Size, len(content))
		}
	}
}

func TestCompress(t *testing.T) {
	input := bytes.Repeat([]byte("isolated worker control channel "), 64)

	decoders := map[string]func(io.Reader) ([]byte, error){
		ipc.AlgorithmZstd: func(r io.Reader) ([]byte, error) {
			decoder, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			defer decoder.Close()
			return io.ReadAll(decoder)
		},
		ipc.AlgorithmLZ4: func(r io.Reader) ([]byte, error) {
			return io.ReadAll(lz4.NewReader(r))
		},
	}

	for algorithm, decode := range decoders {
		t.Run(algorithm, func(t *testing.T) {
			s := startWorker(t)

			reply, err := s.client.Call(ipc.CmdCompress,
				encode(t, ipc.CompressRequest{Algorithm: algorithm}),
				[]*os.File{testutil.TempFileWithContent(t, string(input))}, callTimeout)
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			defer reply.Close()

			var body ipc.CompressReply
			if err := ipc.Decode(reply.Data, &body); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if body.InputSize != int64(len(input)) || body.OutputSize >= body.InputSize {
				t.Errorf("sizes = %d -> %d, want %d -> smaller", body.InputSize, body.OutputSize, len(input))
			}
			decompressed, err := decode(reply.Files[0])
			if err != nil {
				t.Fatalf("decompressing: %v", err)
			}
			if !bytes.Equal(decompressed, input) {
				t.Fatal("decompressed output differs from input")
			}
		})
	}
}

func TestCompressInlineData(t *testing.T) {
	s := startWorker(t)

	reply, err := s.client.Call(ipc.CmdCompress,
		encode(t, ipc.CompressRequest{Algorithm: ipc.AlgorithmZstd, Data: []byte("inline")}), nil, callTimeout)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	defer reply.Close()
	decoder, err := zstd.NewReader(reply.Files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer decoder.Close()
	decompressed, err := io.ReadAll(decoder)
	if err != nil || string(decompressed) != "inline" {
		t.Fatalf("decompressed = %q, %v; want %q", decompressed, err, "inline")
	}
}

func TestCloseExitsCleanly(t *testing.T) {
	s := startWorker(t)

	if err := s.client.Notify(ipc.CmdClose, nil, nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if code := s.waitExit(t); code != process.ExitSuccess {
		t.Fatalf("exit code = %d, want 0", code)
	}
}

func TestUnknownTagExitsWithProtocolCode(t *testing.T) {
	s := startWorker(t)

	if err := s.client.Notify(200, nil, nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if code := s.waitExit(t); code != process.ExitProtocol {
		t.Fatalf("exit code = %d, want %d", code, process.ExitProtocol)
	}
}

func TestMalformedBodyExitsWithProtocolCode(t *testing.T) {
	s := startWorker(t)

	if err := s.client.Notify(ipc.CmdDelay, []byte{0xFF, 0x00}, nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if code := s.waitExit(t); code != process.ExitProtocol {
		t.Fatalf("exit code = %d, want %d", code, process.ExitProtocol)
	}
}

func TestUnknownCompressionAlgorithmFails(t *testing.T) {
	s := startWorker(t)

	if err := s.client.Notify(ipc.CmdCompress, encode(t, ipc.CompressRequest{Algorithm: "brotli"}), nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if code := s.waitExit(t); code != process.ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, process.ExitFailure)
	}
}

func TestRunRejectsNonSocketDescriptor(t *testing.T) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer readEnd.Close()
	defer writeEnd.Close()

	w, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if code := w.Run(context.Background(), int(readEnd.Fd())); code != process.ExitChannel {
		t.Fatalf("exit code = %d, want %d", code, process.ExitChannel)
	}
	if !errors.Is(w.Err(), fault.ErrIO) {
		t.Errorf("Err = %v, want ErrIO", w.Err())
	}
}

func TestMainUsageErrors(t *testing.T) {
	t.Setenv(ipc.ChannelFDEnv, "")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown flag", []string{"--bogus"}, process.ExitUsage},
		{"no descriptor", nil, process.ExitUsage},
		{"bad log level", []string{"--channel-fd=3", "--log-level=loud"}, process.ExitUsage},
		{"version", []string{"--version"}, process.ExitSuccess},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if code := Main(test.args); code != test.want {
				t.Errorf("Main(%v) = %d, want %d", test.args, code, test.want)
			}
		})
	}
}

func TestChannelFDFromEnvironment(t *testing.T) {
	t.Setenv(ipc.ChannelFDEnv, "7")
	if got := channelFDFromEnvironment(); got != 7 {
		t.Errorf("channelFDFromEnvironment = %d, want 7", got)
	}
	t.Setenv(ipc.ChannelFDEnv, "seven")
	if got := channelFDFromEnvironment(); got != -1 {
		t.Errorf("channelFDFromEnvironment(invalid) = %d, want -1", got)
	}
}
