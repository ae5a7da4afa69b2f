// Copyright 2026 The Isolant Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Size is the length of a digest in bytes.
const Size = 32

// HashReader streams r through BLAKE3 and returns the 32-byte digest
// and the number of bytes read.
func HashReader(r io.Reader) ([Size]byte, int64, error) {
	hasher := blake3.New()
	count, err := io.Copy(hasher, r)
	if err != nil {
		return [Size]byte{}, count, err
	}
	var digest [Size]byte
	copy(digest[:], hasher.Sum(nil))
	return digest, count, nil
}

// HashFile computes the digest of the file at path.
func HashFile(path string) ([Size]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [Size]byte{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	digest, _, err := HashReader(file)
	if err != nil {
		return [Size]byte{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, nil
}

// FormatDigest returns the hex encoding of digest.
func FormatDigest(digest [Size]byte) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses a hex-encoded digest. The string must encode
// exactly 32 bytes.
func ParseDigest(hexString string) ([Size]byte, error) {
	var digest [Size]byte
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != Size {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), Size)
	}
	copy(digest[:], decoded)
	return digest, nil
}
