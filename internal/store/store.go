package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by GetByID when the log holds no such message.
var ErrNotFound = errors.New("message not found")

// UnavailableError wraps a failed store query. Callers propagate it as is.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}

type GetOptions struct {
	IncludeMeta    bool
	IncludePrivate bool
}

type RefQuery struct {
	// Types limits the referencing messages by content type; empty means any.
	Types []string
}

type AuthorQuery struct {
	Limit   int
	Reverse bool
	Since   time.Time
}

type RangeQuery struct {
	Types      []string
	Since      time.Time
	Until      time.Time
	PublicOnly bool
	Limit      int
}

// Stream is a lazy, finite and non-restartable sequence of messages.
type Stream interface {
	Next() bool
	Message() Message
	Err() error
	Close() error
}

// Reader is the query surface of the message store.
type Reader interface {
	GetByID(ctx context.Context, id string, opts GetOptions) (Message, error)
	ReverseReferences(ctx context.Context, target string, q RefQuery) (Stream, error)
	ByAuthor(ctx context.Context, author string, q AuthorQuery) (Stream, error)
	ByTimeRangeAndType(ctx context.Context, q RangeQuery) (Stream, error)
	FriendGraph(ctx context.Context, viewer string) (map[string]float64, error)
}

// Collect drains a stream into a slice and closes it.
func Collect(ctx context.Context, stream Stream) ([]Message, error) {
	defer stream.Close()
	items := make([]Message, 0)
	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items = append(items, stream.Message())
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// SliceStream serves messages from memory.
type SliceStream struct {
	items []Message
	pos   int
}

func NewSliceStream(items []Message) *SliceStream {
	return &SliceStream{items: items, pos: -1}
}

func (s *SliceStream) Next() bool {
	if s.pos+1 >= len(s.items) {
		s.pos = len(s.items)
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Message() Message {
	if s.pos < 0 || s.pos >= len(s.items) {
		return Message{}
	}
	return s.items[s.pos]
}

func (s *SliceStream) Err() error   { return nil }
func (s *SliceStream) Close() error { return nil }
