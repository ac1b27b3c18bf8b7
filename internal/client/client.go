package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
)

// ErrUnexpectedStatus возвращается, когда сервер ответил не 200
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// Client обращается к pull-эндпоинтам телеметрического сервера и открывает поток /stream.
type Client struct {
	base         string
	historyLimit int
	h            *http.Client
	stream       *http.Client
}

const defaultTimeout = 10 * time.Second

type Option func(*Client)

// WithHTTPClient подменяет клиент для обычных запросов
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.h = h }
}

// WithHistoryLimit задаёт параметр limit для /lora/history (0 - значение сервера)
func WithHistoryLimit(limit int) Option {
	return func(c *Client) { c.historyLimit = limit }
}

// WithStreamHeaderTimeout задаёт, сколько ждать заголовков ответа /stream
func WithStreamHeaderTimeout(d time.Duration) Option {
	return func(c *Client) { c.stream = &http.Client{Transport: streamTransport(d)} }
}

func streamTransport(headerTimeout time.Duration) *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = headerTimeout
	return tr
}

func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		h:    &http.Client{Timeout: defaultTimeout},
		// у потока нет общего таймаута, его закрывает отмена контекста;
		// ограничено только ожидание заголовков ответа
		stream: &http.Client{Transport: streamTransport(defaultTimeout)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History возвращает последние показания в хронологическом порядке
func (c *Client) History(ctx context.Context) ([]domain.Sample, error) {
	u, err := url.Parse(c.base + "/lora/history")
	if err != nil {
		return nil, err
	}
	if c.historyLimit > 0 {
		q := u.Query()
		q.Set("limit", strconv.Itoa(c.historyLimit))
		u.RawQuery = q.Encode()
	}

	var out []domain.Sample
	if err := c.getJSON(ctx, u.String(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Latest возвращает последнее показание; пустой объект сервера даёт пустой Sample
func (c *Client) Latest(ctx context.Context) (domain.Sample, error) {
	var out domain.Sample
	if err := c.getJSON(ctx, c.base+"/lora/latest", &out); err != nil {
		return domain.Sample{}, err
	}
	return out, nil
}

type testDataResponse struct {
	Status string        `json:"status"`
	Data   domain.Sample `json:"data"`
}

// TriggerTestData просит сервер сгенерировать случайное показание
func (c *Client) TriggerTestData(ctx context.Context) (domain.Sample, error) {
	var out testDataResponse
	if err := c.getJSON(ctx, c.base+"/test-data", &out); err != nil {
		return domain.Sample{}, err
	}
	return out.Data, nil
}

func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.h.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrUnexpectedStatus, target, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}
