// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"bytes"
	"errors"
	"io"
	"os"
	"slices"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/isolant-project/isolant/lib/channel"
	"github.com/isolant-project/isolant/lib/eventloop"
	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/process"
)

const (
	tagEcho    byte = 1
	tagSilent  byte = 2
	tagFail    byte = 3
	tagCount   byte = 4
	tagUnknown byte = 99
)

type fatalRecord struct {
	code int
	err  error
}

type harness struct {
	loop   *eventloop.Loop
	client *Client
	fatals []fatalRecord
	silent int
}

// newHarness connects a Client and a serving Dispatcher over a socket
// pair on one loop.
func newHarness(t *testing.T) *harness {
	t.Helper()
	loop, err := eventloop.New(eventloop.Config{})
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	t.Cleanup(func() { loop.Close() })

	h := &harness{loop: loop}

	local := channel.New(loop, channel.Config{})
	peerFile, err := local.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	descriptor, err := unix.Dup(int(peerFile.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	peerFile.Close()
	peer := channel.New(loop, channel.Config{})
	if err := peer.Bind(descriptor); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(func() {
		local.Close()
		peer.Close()
	})

	dispatcher := NewDispatcher(Config{
		Fatal: func(code int, err error) {
			h.fatals = append(h.fatals, fatalRecord{code: code, err: err})
		},
	})
	dispatcher.Handle(tagEcho, "echo", func(request *Request) (*channel.Payload, error) {
		return &channel.Payload{Data: append([]byte{request.Tag}, request.Body...)}, nil
	})
	dispatcher.Handle(tagSilent, "silent", func(*Request) (*channel.Payload, error) {
		h.silent++
		return nil, nil
	})
	dispatcher.Handle(tagFail, "fail", func(*Request) (*channel.Payload, error) {
		return nil, errors.New("handler gave up")
	})
	dispatcher.Handle(tagCount, "count", func(request *Request) (*channel.Payload, error) {
		var joined []byte
		for _, file := range request.Files {
			content, err := io.ReadAll(file)
			if err != nil {
				return nil, err
			}
			joined = append(joined, content...)
		}
		return &channel.Payload{Data: append([]byte{request.Tag}, joined...)}, nil
	})
	dispatcher.Serve(peer)

	h.client = NewClient(local, nil)
	return h
}

// runUntilFatal drives the loop until the dispatcher reports a fatal
// error.
func (h *harness) runUntilFatal(t *testing.T) fatalRecord {
	t.Helper()
	for len(h.fatals) == 0 {
		if err := h.loop.ProcessEvents(); err != nil {
			t.Fatalf("ProcessEvents: %v", err)
		}
	}
	return h.fatals[0]
}

func TestCallRoutesByTag(t *testing.T) {
	h := newHarness(t)

	reply, err := h.client.Call(tagEcho, []byte("hello"), nil, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(reply.Data, append([]byte{tagEcho}, "hello"...)) {
		t.Fatalf("reply = %q", reply.Data)
	}
	if len(h.fatals) != 0 {
		t.Fatalf("unexpected fatal: %+v", h.fatals)
	}
}

func TestCallPassesFilesInOrder(t *testing.T) {
	h := newHarness(t)

	var files []*os.File
	for _, content := range []string{"Foo", "Bar"} {
		file, err := os.CreateTemp(t.TempDir(), "request-*")
		if err != nil {
			t.Fatal(err)
		}
		file.WriteString(content)
		file.Seek(0, io.SeekStart)
		files = append(files, file)
	}

	reply, err := h.client.Call(tagCount, nil, files, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(reply.Data[1:]) != "FooBar" {
		t.Fatalf("joined = %q, want FooBar", reply.Data[1:])
	}
}

func TestNotifyRunsHandlerWithoutReply(t *testing.T) {
	h := newHarness(t)

	if err := h.client.Notify(tagSilent, nil, nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	for h.silent == 0 {
		h.loop.ProcessEvents()
	}

	// A following call still gets its own reply.
	reply, err := h.client.Call(tagEcho, []byte{7}, nil, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(reply.Data, []byte{tagEcho, 7}) {
		t.Fatalf("reply = %v", reply.Data)
	}
}

func TestUnknownTagIsFatalProtocolError(t *testing.T) {
	h := newHarness(t)

	if err := h.client.Notify(tagUnknown, nil, nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	fatal := h.runUntilFatal(t)
	if fatal.code != process.ExitProtocol {
		t.Errorf("exit code = %d, want %d", fatal.code, process.ExitProtocol)
	}
	if !errors.Is(fatal.err, fault.ErrProtocol) {
		t.Errorf("fatal error = %v, want ErrProtocol", fatal.err)
	}
}

func TestHandlerErrorIsFatalFailure(t *testing.T) {
	h := newHarness(t)

	if err := h.client.Notify(tagFail, nil, nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	fatal := h.runUntilFatal(t)
	if fatal.code != process.ExitFailure {
		t.Errorf("exit code = %d, want %d", fatal.code, process.ExitFailure)
	}
}

func TestDisconnectIsFatalChannelError(t *testing.T) {
	h := newHarness(t)

	h.client.Caller().Channel().Close()
	fatal := h.runUntilFatal(t)
	if fatal.code != process.ExitChannel {
		t.Errorf("exit code = %d, want %d", fatal.code, process.ExitChannel)
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	dispatcher := NewDispatcher(Config{})
	dispatcher.Handle(1, "first", func(*Request) (*channel.Payload, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Fatal("second Handle for the same tag did not panic")
		}
	}()
	dispatcher.Handle(1, "second", func(*Request) (*channel.Payload, error) { return nil, nil })
}

func TestDispatchClosesUnclaimedFiles(t *testing.T) {
	dispatcher := NewDispatcher(Config{})
	var kept *os.File
	dispatcher.Handle(1, "keep-first", func(request *Request) (*channel.Payload, error) {
		kept = request.Files[0]
		request.Files[0] = nil
		return nil, nil
	})

	first, err := os.CreateTemp(t.TempDir(), "kept-*")
	if err != nil {
		t.Fatal(err)
	}
	second, err := os.CreateTemp(t.TempDir(), "dropped-*")
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	if _, err := dispatcher.Dispatch(&channel.Payload{Data: []byte{1}, Files: []*os.File{first, second}}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := kept.Stat(); err != nil {
		t.Errorf("kept file was closed: %v", err)
	}
	if _, err := second.Stat(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("unclaimed file Stat = %v, want os.ErrClosed", err)
	}
	if dispatcher.Name(1) != "keep-first" || dispatcher.Name(2) != "unknown" {
		t.Errorf("Name lookups wrong: %q %q", dispatcher.Name(1), dispatcher.Name(2))
	}
}

func TestReplyTagMismatchIsProtocolError(t *testing.T) {
	loop, err := eventloop.New(eventloop.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	local := channel.New(loop, channel.Config{})
	peerFile, err := local.Create()
	if err != nil {
		t.Fatal(err)
	}
	descriptor, _ := unix.Dup(int(peerFile.Fd()))
	peerFile.Close()
	peer := channel.New(loop, channel.Config{})
	if err := peer.Bind(descriptor); err != nil {
		t.Fatal(err)
	}
	defer peer.Close()
	defer local.Close()

	peer.OnReadyRead(func() {
		request, err := peer.Receive()
		if err != nil {
			t.Errorf("Receive: %v", err)
			return
		}
		reply := slices.Clone(request.Data)
		reply[0]++
		peer.Send(&channel.Payload{Data: reply})
	})

	client := NewClient(local, nil)
	if _, err := client.Call(5, nil, nil, time.Second); !errors.Is(err, fault.ErrProtocol) {
		t.Fatalf("Call = %v, want ErrProtocol", err)
	}
}

func TestCallToSilentHandlerLeavesClientUsable(t *testing.T) {
	h := newHarness(t)

	if _, err := h.client.Call(tagSilent, nil, nil, 50*time.Millisecond); !errors.Is(err, fault.ErrTimeout) {
		t.Fatalf("Call to silent handler = %v, want ErrTimeout", err)
	}
	for attempt := range 3 {
		body := []byte{byte(attempt)}
		reply, err := h.client.Call(tagEcho, body, nil, time.Second)
		if err != nil {
			t.Fatalf("echo call %d: %v", attempt, err)
		}
		if !bytes.Equal(reply.Data, append([]byte{tagEcho}, body...)) {
			t.Fatalf("echo call %d reply = %v", attempt, reply.Data)
		}
	}
	if h.silent != 1 {
		t.Errorf("silent handler ran %d times, want 1", h.silent)
	}
}

func TestCallConsumesFilesOnFailure(t *testing.T) {
	h := newHarness(t)

	file, err := os.CreateTemp(t.TempDir(), "request-*")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.client.Call(tagEcho, nil, []*os.File{file}, 0); !errors.Is(err, fault.ErrArgument) {
		t.Fatalf("Call with zero timeout = %v, want ErrArgument", err)
	}
	if err := file.Close(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("closing consumed file = %v, want os.ErrClosed", err)
	}
}
