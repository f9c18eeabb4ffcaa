package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// Bus publishes and reads JSON messages on named streams. Checkpoints let a
// reader resume after the last message it processed.
type Bus interface {
	PublishJSON(ctx context.Context, stream string, v any) (string, error)
	ReadJSON(ctx context.Context, stream, lastID string, dst any) (string, error)
	LoadStreamCheckpoint(ctx context.Context, key string) (string, error)
	PersistStreamCheckpoint(ctx context.Context, key, id string) error
	Close() error
}

// Stream is a Bus backed by Redis Streams.
type Stream struct {
	client *redis.Client
	maxLen int64
}

// NewStream connects to url. maxLen caps each stream approximately; zero
// leaves streams unbounded.
func NewStream(ctx context.Context, url string, maxLen int64) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Stream{client: client, maxLen: maxLen}, nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}

func (s *Stream) Client() *redis.Client {
	return s.client
}

func (s *Stream) PublishJSON(ctx context.Context, stream string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s message: %w", stream, err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: payload},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// ReadJSON blocks until a message after lastID is available and decodes it into dst.
func (s *Stream) ReadJSON(ctx context.Context, stream, lastID string, dst any) (string, error) {
	if lastID == "" {
		lastID = "0"
	}
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   1,
		Block:   0,
	}).Result()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("xread %s: %w", stream, err)
	}
	for _, st := range res {
		for _, msg := range st.Messages {
			raw, err := streamPayload(msg.Values[payloadField])
			if err != nil {
				return "", fmt.Errorf("message %s: %w", msg.ID, err)
			}
			if err := json.Unmarshal(raw, dst); err != nil {
				return "", fmt.Errorf("decode message %s: %w", msg.ID, err)
			}
			return msg.ID, nil
		}
	}
	return lastID, nil
}

func (s *Stream) LoadStreamCheckpoint(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	v, err := s.client.Get(ctx, checkpointKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load checkpoint %s: %w", key, err)
	}
	return v, nil
}

func (s *Stream) PersistStreamCheckpoint(ctx context.Context, key, id string) error {
	if key == "" {
		return nil
	}
	if err := validateStreamOffset(id); err != nil {
		return err
	}
	if err := s.client.Set(ctx, checkpointKey(key), id, 0).Err(); err != nil {
		return fmt.Errorf("persist checkpoint %s: %w", key, err)
	}
	return nil
}

func checkpointKey(key string) string {
	return "leelaz:checkpoint:" + key
}

// InMemoryStream is a process-local Bus used when no Redis URL is configured.
type InMemoryStream struct {
	mu          sync.Mutex
	cond        *sync.Cond
	streams     map[string][]inMemoryMessage
	checkpoints map[string]string
	seq         int64
}

type inMemoryMessage struct {
	id      int64
	payload []byte
}

func NewInMemoryStream() *InMemoryStream {
	s := &InMemoryStream{
		streams:     make(map[string][]inMemoryMessage),
		checkpoints: make(map[string]string),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *InMemoryStream) PublishJSON(_ context.Context, stream string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s message: %w", stream, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.streams[stream] = append(s.streams[stream], inMemoryMessage{id: s.seq, payload: payload})
	s.cond.Broadcast()
	return formatStreamID(s.seq), nil
}

func (s *InMemoryStream) ReadJSON(ctx context.Context, stream, lastID string, dst any) (string, error) {
	after, err := parseStreamOffset(lastID)
	if err != nil {
		return "", err
	}

	// Wake the waiter when the context ends.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for _, msg := range s.streams[stream] {
			if msg.id > after {
				if err := json.Unmarshal(msg.payload, dst); err != nil {
					return "", fmt.Errorf("decode message %d: %w", msg.id, err)
				}
				return formatStreamID(msg.id), nil
			}
		}
		s.cond.Wait()
	}
}

func (s *InMemoryStream) LoadStreamCheckpoint(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[key], nil
}

func (s *InMemoryStream) PersistStreamCheckpoint(_ context.Context, key, id string) error {
	if key == "" {
		return nil
	}
	if err := validateStreamOffset(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[key] = id
	return nil
}

func (s *InMemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string][]inMemoryMessage)
	s.checkpoints = make(map[string]string)
	s.cond.Broadcast()
	return nil
}

func formatStreamID(seq int64) string {
	return strconv.FormatInt(seq, 10) + "-0"
}

// parseStreamOffset returns the millisecond part of a stream id.
func parseStreamOffset(id string) (int64, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, nil
	}
	if i := strings.IndexByte(id, '-'); i > 0 {
		id = id[:i]
	}
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stream offset %q: %w", id, err)
	}
	if v < 0 {
		return 0, nil
	}
	return v, nil
}

func validateStreamOffset(id string) error {
	if id == "" {
		return nil
	}
	ms, seq, compound := strings.Cut(id, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return fmt.Errorf("invalid stream offset %q", id)
	}
	if compound {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return fmt.Errorf("invalid stream offset %q", id)
		}
	}
	return nil
}

func streamPayload(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	case fmt.Stringer:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("payload type %T not supported", v)
	}
}

var (
	_ Bus = (*Stream)(nil)
	_ Bus = (*InMemoryStream)(nil)
)
