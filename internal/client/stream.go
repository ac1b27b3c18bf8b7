package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/azzan02/Water-Quality-Dashboard/internal/transport"
)

const eventStreamType = "text/event-stream"

// Subscribe открывает /stream. Возврат без ошибки означает, что сервер ответил 200
// с типом text/event-stream; каждое событие потока приходит в Messages как
// склеенное содержимое его строк data.
func (c *Client) Subscribe(ctx context.Context) (transport.Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.base+"/stream", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", eventStreamType)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: /stream returned %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mediaType != eventStreamType {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("/stream returned content type %q", resp.Header.Get("Content-Type"))
	}

	s := &eventStream{
		msgs:   make(chan string),
		body:   resp.Body,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.read(streamCtx)
	return s, nil
}

type eventStream struct {
	msgs   chan string
	body   io.ReadCloser
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *eventStream) Messages() <-chan string {
	return s.msgs
}

// Err возвращает причину обрыва; nil для штатного EOF или после Close
func (s *eventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *eventStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *eventStream) read(ctx context.Context) {
	defer close(s.done)
	defer close(s.msgs)
	defer s.body.Close()

	err := parseEvents(s.body, func(data string) bool {
		select {
		case s.msgs <- data:
			return true
		case <-ctx.Done():
			return false
		}
	})

	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// parseEvents читает text/event-stream и вызывает emit для каждого события с
// непустыми данными. Комментарии и поля event, id, retry пропускаются.
// Возвращает nil на EOF.
func parseEvents(r io.Reader, emit func(string) bool) error {
	br := bufio.NewReader(r)
	var data []string

	for {
		line, err := br.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) > 0 {
				if !emit(strings.Join(data, "\n")) {
					return nil
				}
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			if field == "data" {
				data = append(data, strings.TrimPrefix(value, " "))
			}
		}

		if err != nil {
			return nil
		}
	}
}
