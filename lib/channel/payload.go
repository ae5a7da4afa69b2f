// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
	"os"

	"github.com/isolant-project/isolant/lib/fault"
)

const (
	// MaxDataLength is the largest data section a payload may carry.
	MaxDataLength = 64 << 10

	// MaxFiles is the largest number of descriptors a payload may
	// carry, the kernel's SCM_MAX_FD.
	MaxFiles = 253

	headerSize = 8
)

// Payload is one message: opaque data whose first byte is the command
// tag, and an ordered list of open files.
type Payload struct {
	Data  []byte
	Files []*os.File
}

// Tag returns the command tag. The payload must not be empty.
func (p *Payload) Tag() byte { return p.Data[0] }

// Close closes every file the payload still holds and clears Files.
func (p *Payload) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, file := range p.Files {
		if file == nil {
			continue
		}
		if err := file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.Files = nil
	return errors.Join(errs...)
}

func (p *Payload) validate() error {
	if p == nil || len(p.Data) == 0 {
		return fmt.Errorf("channel: payload has no data: %w", fault.ErrArgument)
	}
	if len(p.Data) > MaxDataLength {
		return fmt.Errorf("channel: payload data is %d bytes, limit %d: %w",
			len(p.Data), MaxDataLength, fault.ErrArgument)
	}
	if len(p.Files) > MaxFiles {
		return fmt.Errorf("channel: payload carries %d files, limit %d: %w",
			len(p.Files), MaxFiles, fault.ErrArgument)
	}
	for index, file := range p.Files {
		if file == nil {
			return fmt.Errorf("channel: payload file %d is nil: %w", index, fault.ErrArgument)
		}
	}
	return nil
}
