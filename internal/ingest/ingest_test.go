package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rchs819/leela-zero-server/internal/digest"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/weights"
)

func networkText(filters, blocks int) string {
	f := filters
	conv := func(in int) []int { return []int{in * f * 9, f, f, f} }
	var shape []int
	shape = append(shape, conv(18)...)
	for i := 0; i < blocks; i++ {
		shape = append(shape, conv(f)...)
		shape = append(shape, conv(f)...)
	}
	shape = append(shape, 2*f, 2, 2, 2, 2*361*362, 362)
	shape = append(shape, f, 1, 1, 1, 361*256, 256, 256, 1)

	var sb strings.Builder
	sb.WriteString("1\n")
	for _, n := range shape {
		sb.WriteString(strings.TrimSuffix(strings.Repeat("0.25 ", n), " "))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func gzipBytes(t *testing.T, s string, level int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	require.NoError(t, err)
	_, err = zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestNetwork_HashesAndParses(t *testing.T) {
	plain := networkText(4, 2)
	compressed := gzipBytes(t, plain, gzip.BestSpeed)

	var sink bytes.Buffer
	res, err := Network(context.Background(), bytes.NewReader(compressed), &sink)
	require.NoError(t, err)

	assert.Equal(t, digest.Bytes([]byte(plain)), res.Hash)
	assert.Equal(t, weights.Architecture{Filters: 4, Blocks: 2}, res.Architecture)
	assert.Equal(t, int64(len(plain)), res.Size)
	assert.Equal(t, int64(len(compressed)), res.CompressedBytes)
	assert.Equal(t, compressed, sink.Bytes(), "sink receives the compressed upload verbatim")
}

func TestNetwork_HashIndependentOfCompression(t *testing.T) {
	plain := networkText(4, 1)

	fast, err := Network(context.Background(), bytes.NewReader(gzipBytes(t, plain, gzip.BestSpeed)), &bytes.Buffer{})
	require.NoError(t, err)
	best, err := Network(context.Background(), bytes.NewReader(gzipBytes(t, plain, gzip.BestCompression)), &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, fast.Hash, best.Hash)
}

func TestNetwork_Malformed(t *testing.T) {
	t.Run("not gzip", func(t *testing.T) {
		_, err := Network(context.Background(), strings.NewReader("plain text"), &bytes.Buffer{})
		assert.ErrorIs(t, err, weights.ErrMalformedWeights)
	})
	t.Run("bad shape", func(t *testing.T) {
		body := gzipBytes(t, "1\n1 2 3\n4 5\n", gzip.DefaultCompression)
		_, err := Network(context.Background(), bytes.NewReader(body), &bytes.Buffer{})
		assert.ErrorIs(t, err, weights.ErrMalformedWeights)
	})
	t.Run("corrupt stream", func(t *testing.T) {
		body := gzipBytes(t, networkText(4, 1), gzip.DefaultCompression)
		_, err := Network(context.Background(), bytes.NewReader(body[:len(body)/2]), &bytes.Buffer{})
		assert.ErrorIs(t, err, weights.ErrMalformedWeights)
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestNetwork_SinkFailureIsNotMalformed(t *testing.T) {
	body := gzipBytes(t, networkText(4, 1), gzip.DefaultCompression)
	_, err := Network(context.Background(), bytes.NewReader(body), failingWriter{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, weights.ErrMalformedWeights)
	assert.Contains(t, err.Error(), "disk full")
}

type stalledReader struct {
	data []byte
	err  error
}

func (s *stalledReader) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, s.err
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

func TestNetwork_ReadFailureIsNotMalformed(t *testing.T) {
	body := gzipBytes(t, networkText(4, 1), gzip.DefaultCompression)
	src := &stalledReader{data: body[:len(body)/2], err: os.ErrDeadlineExceeded}

	_, err := Network(context.Background(), src, &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.NotErrorIs(t, err, weights.ErrMalformedWeights)
}

func TestNetwork_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := gzipBytes(t, networkText(4, 1), gzip.DefaultCompression)
	_, err := Network(ctx, bytes.NewReader(body), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecord(t *testing.T) {
	sgf := "(;GM[1]FF[4]SZ[19];B[pd];W[dp])"

	zipped, err := Record(context.Background(), bytes.NewReader(gzipBytes(t, sgf, gzip.DefaultCompression)), 1<<20)
	require.NoError(t, err)
	plain, err := Record(context.Background(), strings.NewReader(sgf), 1<<20)
	require.NoError(t, err)

	assert.Equal(t, digest.Bytes([]byte(sgf)), zipped.Hash)
	assert.Equal(t, zipped.Hash, plain.Hash)
	assert.Equal(t, sgf, string(zipped.Data))
}

func TestRecord_Limit(t *testing.T) {
	_, err := Record(context.Background(), strings.NewReader(strings.Repeat("x", 100)), 10)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDigest(t *testing.T) {
	h, err := Digest(bytes.NewReader(gzipBytes(t, "hello", gzip.DefaultCompression)))
	require.NoError(t, err)
	assert.Equal(t, digest.Bytes([]byte("hello")), h)

	_, err = Digest(strings.NewReader("hello"))
	assert.Error(t, err)
}

func TestIdleReader_ExtendsDeadline(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var deadlines []time.Time

	r := NewIdleReader(strings.NewReader("abcdef"), 30*time.Second, func(t time.Time) error {
		deadlines = append(deadlines, t)
		return nil
	})
	r.now = func() time.Time { return now }

	buf := make([]byte, 3)
	_, err := r.Read(buf)
	require.NoError(t, err)
	now = now.Add(10 * time.Second)
	_, err = r.Read(buf)
	require.NoError(t, err)

	require.Len(t, deadlines, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC), deadlines[0])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 40, 0, time.UTC), deadlines[1])
}

func TestIdleReader_UnsupportedDeadline(t *testing.T) {
	calls := 0
	r := NewIdleReader(strings.NewReader("abc"), time.Second, func(time.Time) error {
		calls++
		return errors.New("not supported")
	})

	buf := make([]byte, 1)
	for i := 0; i < 3; i++ {
		_, err := r.Read(buf)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
}
