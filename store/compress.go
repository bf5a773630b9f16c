// lz4-framed wire compression for OBJECT_INSTANCE/OBJECT_DELTA payload bytes
// (spec.md §6.2: "instance and delta chunks travel lz4-compressed"),
// grounded on the teacher's transport.Stream lz4Stream (transport/send.go),
// which wraps an outgoing byte stream in an *lz4.Writer/*lz4.Reader pair the
// same way. A single leading flag byte distinguishes a genuine lz4 frame
// from the rare case a commit produces bytes lz4 can't shrink, so the
// receiver never has to guess.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v3"
)

const (
	compressFlagRaw byte = 0
	compressFlagLZ4 byte = 1
)

// compressPayload lz4-frames data, falling back to a raw passthrough (still
// flagged) if the writer errors or the frame is no smaller than the raw
// form - e.g. data too small to benefit.
func compressPayload(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data) + 1)
	buf.WriteByte(compressFlagLZ4)
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return rawPayload(data)
	}
	if err := zw.Close(); err != nil {
		return rawPayload(data)
	}
	if buf.Len() >= 1+len(data) {
		return rawPayload(data)
	}
	return buf.Bytes()
}

func rawPayload(data []byte) []byte {
	out := make([]byte, 1+len(data))
	out[0] = compressFlagRaw
	copy(out[1:], data)
	return out
}

// decompressPayload reverses compressPayload. An empty input decodes to
// nil, matching how a zero-length instance/delta is encoded.
func decompressPayload(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	flag, body := data[0], data[1:]
	if flag == compressFlagRaw {
		return body, nil
	}
	return io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
}
