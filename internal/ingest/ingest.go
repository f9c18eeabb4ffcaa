// Package ingest turns uploaded gzip artifacts into content identities. Every
// artifact is decompressed exactly once and the decompressed bytes are fanned
// out to the consumers that need them.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/rchs819/leela-zero-server/internal/digest"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/weights"
)

// NetworkResult is the identity of an uploaded network.
type NetworkResult struct {
	Hash         string
	Architecture weights.Architecture
	// CompressedBytes is the number of bytes read from the upload.
	CompressedBytes int64
	// Size is the number of decompressed bytes.
	Size int64
}

// Network reads a gzip weights upload from src. The compressed bytes are
// copied to sink as they are read, and the decompressed bytes are hashed and
// parsed concurrently. The producer never runs ahead of the slower consumer.
func Network(ctx context.Context, src io.Reader, sink io.Writer) (NetworkResult, error) {
	counted := &countingReader{r: src}
	out := &sinkWriter{w: sink}
	zr, err := gzip.NewReader(io.TeeReader(counted, out))
	if err != nil {
		if out.err != nil {
			return NetworkResult{}, fmt.Errorf("write artifact: %w", out.err)
		}
		if counted.err != nil {
			return NetworkResult{}, fmt.Errorf("read upload: %w", counted.err)
		}
		return NetworkResult{}, fmt.Errorf("%w: not a gzip stream: %v", weights.ErrMalformedWeights, err)
	}
	defer zr.Close()

	hashR, hashW := io.Pipe()
	codecR, codecW := io.Pipe()

	hasher := digest.NewHasher()
	codec := weights.NewCodec()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := io.Copy(io.MultiWriter(hashW, codecW), &contextReader{ctx: gctx, r: zr})
		switch {
		case err == nil:
		case out.err != nil:
			err = fmt.Errorf("write artifact: %w", out.err)
		case counted.err != nil:
			err = fmt.Errorf("read upload: %w", counted.err)
		case gctx.Err() != nil:
		default:
			err = fmt.Errorf("%w: decompress: %v", weights.ErrMalformedWeights, err)
		}
		hashW.CloseWithError(err)
		codecW.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(hasher, hashR)
		hashR.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		if _, err := io.Copy(codec, codecR); err != nil {
			codecR.CloseWithError(err)
			return err
		}
		err := codec.Close()
		codecR.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return NetworkResult{}, err
	}

	arch, err := codec.Architecture()
	if err != nil {
		return NetworkResult{}, err
	}
	return NetworkResult{
		Hash:            hasher.Sum(),
		Architecture:    arch,
		CompressedBytes: counted.n,
		Size:            hasher.Len(),
	}, nil
}

// RecordResult is a decompressed game record and its content hash.
type RecordResult struct {
	Hash string
	Data []byte
}

// Record reads a game record that may or may not be gzip compressed. At most
// limit decompressed bytes are accepted.
func Record(ctx context.Context, r io.Reader, limit int64) (RecordResult, error) {
	br := bufio.NewReader(&contextReader{ctx: ctx, r: r})

	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return RecordResult{}, model.Validationf("record is not valid gzip: %v", err)
		}
		defer zr.Close()
		src = zr
	}

	var buf bytes.Buffer
	hasher := digest.NewHasher()
	n, err := io.Copy(io.MultiWriter(&buf, hasher), io.LimitReader(src, limit+1))
	if err != nil {
		if ctx.Err() != nil {
			return RecordResult{}, ctx.Err()
		}
		return RecordResult{}, model.Validationf("read record: %v", err)
	}
	if n > limit {
		return RecordResult{}, model.Validationf("record exceeds %d bytes", limit)
	}
	return RecordResult{Hash: hasher.Sum(), Data: buf.Bytes()}, nil
}

// Digest returns the hash of the decompressed content of a gzip stream.
func Digest(r io.Reader) (string, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()
	return digest.Reader(zr)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF && c.err == nil {
		c.err = err
	}
	return n, err
}

type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}
