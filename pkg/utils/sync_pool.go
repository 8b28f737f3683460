// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"encoding/base64"
	"encoding/hex"
	"hash"
	"io"
	"sync"

	"github.com/minio/crc64nvme"
	"github.com/minio/sha256-simd"
)

var (
	sha256Pool = sync.Pool{
		New: func() any {
			return sha256.New()
		},
	}
	crc64nvmePool = sync.Pool{
		New: func() any {
			return crc64nvme.New()
		},
	}
)

func Sha256PoolGetHasher() hash.Hash {
	return sha256Pool.Get().(hash.Hash)
}

func Sha256PoolPutHasher(h hash.Hash) {
	h.Reset()
	sha256Pool.Put(h)
}

func Crc64nvmePoolGetHasher() hash.Hash64 {
	return crc64nvmePool.Get().(hash.Hash64)
}

func Crc64nvmePoolPutHasher(h hash.Hash64) {
	h.Reset()
	crc64nvmePool.Put(h)
}

// Sha256Hex returns the lowercase hex SHA-256 digest of data. Upload
// deduplication compares these.
func Sha256Hex(data []byte) string {
	h := Sha256PoolGetHasher()
	defer Sha256PoolPutHasher(h)
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Crc64nvmeBase64 returns the CRC64-NVME of data in the form S3 expects in
// x-amz-checksum-crc64nvme: base64 of the big-endian 8 byte sum.
func Crc64nvmeBase64(data []byte) string {
	h := Crc64nvmePoolGetHasher()
	defer Crc64nvmePoolPutHasher(h)
	_, _ = h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Crc64nvmeBase64Seeker checksums the rest of rs and rewinds it to where it
// started.
func Crc64nvmeBase64Seeker(rs io.ReadSeeker) (string, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", err
	}
	h := Crc64nvmePoolGetHasher()
	defer Crc64nvmePoolPutHasher(h)
	if _, err := io.Copy(h, rs); err != nil {
		return "", err
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
