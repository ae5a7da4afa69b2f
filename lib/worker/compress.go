// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/isolant-project/isolant/lib/channel"
	"github.com/isolant-project/isolant/lib/command"
	"github.com/isolant-project/isolant/lib/fault"
	"github.com/isolant-project/isolant/lib/ipc"
)

// handleCompress writes a complete zstd or LZ4 frame stream to a new
// memory file, so the receiver can decode it with the matching
// streaming reader.
func (w *Worker) handleCompress(request *command.Request) (*channel.Payload, error) {
	var body ipc.CompressRequest
	if err := w.decode(request, &body); err != nil {
		return nil, err
	}

	var input io.Reader = bytes.NewReader(body.Data)
	if len(request.Files) > 0 {
		if _, err := request.Files[0].Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewinding input: %w: %w", fault.ErrIO, err)
		}
		input = request.Files[0]
	}

	output, err := newMemoryFile("isolant-compress")
	if err != nil {
		return nil, err
	}
	inputSize, err := compressStream(body.Algorithm, output, input)
	if err != nil {
		output.Close()
		return nil, err
	}
	outputSize, err := output.Seek(0, io.SeekCurrent)
	if err == nil {
		_, err = output.Seek(0, io.SeekStart)
	}
	if err != nil {
		output.Close()
		return nil, fmt.Errorf("rewinding output: %w: %w", fault.ErrIO, err)
	}

	w.logger.Debug("compressed input", "algorithm", body.Algorithm, "input_size", inputSize, "output_size", outputSize)
	return reply(request.Tag, ipc.CompressReply{
		Algorithm:  body.Algorithm,
		InputSize:  inputSize,
		OutputSize: outputSize,
	}, []*os.File{output})
}

func compressStream(algorithm string, output io.Writer, input io.Reader) (int64, error) {
	var encoder io.WriteCloser
	switch algorithm {
	case ipc.AlgorithmZstd:
		zstdEncoder, err := zstd.NewWriter(output, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return 0, fmt.Errorf("zstd encoder: %w", err)
		}
		encoder = zstdEncoder
	case ipc.AlgorithmLZ4:
		encoder = lz4.NewWriter(output)
	default:
		return 0, fmt.Errorf("unknown compression algorithm %q: %w", algorithm, fault.ErrArgument)
	}

	count, err := io.Copy(encoder, input)
	if err != nil {
		encoder.Close()
		return count, fmt.Errorf("%s compress: %w: %w", algorithm, fault.ErrIO, err)
	}
	if err := encoder.Close(); err != nil {
		return count, fmt.Errorf("%s compress: %w: %w", algorithm, fault.ErrIO, err)
	}
	return count, nil
}
