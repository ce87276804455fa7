// Package feed relays live broker quotes from a WebSocket stream into Redis
// and batches them into the tick table.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"clusterscan/internal/logger"
	"clusterscan/pkg/model"
)

// ClientConfig configures the broker stream
type ClientConfig struct {
	URL            string
	Token          string
	Symbols        []string
	PingInterval   time.Duration
	ReconnectDelay time.Duration
}

// Handler receives every decoded quote
type Handler func(ctx context.Context, q model.Quote)

// Client is a reconnecting WebSocket quote stream
type Client struct {
	cfg    ClientConfig
	dialer *websocket.Dialer
	log    *logger.Logger

	conn *websocket.Conn
}

// NewClient creates a stream client
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log,
	}
}

// Connect establishes the WebSocket connection
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("feed url: %w", err)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.conn = conn
	c.log.Info("feed connected", logger.String("host", u.Host))
	return nil
}

type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Subscribe asks for quotes on the configured symbols
func (c *Client) Subscribe() error {
	if c.conn == nil {
		return errors.New("feed not connected")
	}
	if err := c.conn.WriteJSON(subscribeMsg{Action: "subscribe", Symbols: c.cfg.Symbols}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.log.Info("feed subscribed", logger.Int("symbols", len(c.cfg.Symbols)))
	return nil
}

// wireQuote is one element of a quote frame
type wireQuote struct {
	S  string  `json:"s"`
	P  float64 `json:"p"`
	V  int64   `json:"v"`
	CV int64   `json:"cv"`
	T  int64   `json:"t"` // ms
}

type frame struct {
	Type string      `json:"type"`
	Data []wireQuote `json:"data"`
}

// DecodeFrame turns one text frame into quotes. Non-quote frames yield none.
func DecodeFrame(b []byte) ([]model.Quote, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Type != "quote" {
		return nil, nil
	}
	out := make([]model.Quote, 0, len(f.Data))
	for _, d := range f.Data {
		if d.S == "" || d.P <= 0 {
			continue
		}
		out = append(out, model.Quote{
			Symbol:    d.S,
			Price:     d.P,
			Volume:    d.V,
			CumVolume: d.CV,
			Time:      time.UnixMilli(d.T).UTC(),
		})
	}
	return out, nil
}

// Run connects, subscribes and streams quotes to h until ctx is done,
// reconnecting after ReconnectDelay whenever the connection drops.
func (c *Client) Run(ctx context.Context, h Handler) error {
	for {
		err := c.session(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("feed disconnected", logger.Error(err), logger.Duration("retry_in", c.cfg.ReconnectDelay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) session(ctx context.Context, h Handler) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	if err := c.Subscribe(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(ctx, c.conn, done)

	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read: %w", err)
		}
		quotes, err := DecodeFrame(b)
		if err != nil {
			c.log.Debug("ignoring undecodable frame", logger.Error(err))
			continue
		}
		for _, q := range quotes {
			h(ctx, q)
		}
	}
}

// pingLoop keeps the connection alive and closes it when ctx ends so the
// blocked read returns
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug("ping failed", logger.Error(err))
			}
		}
	}
}

// Close closes the WS connection
func (c *Client) Close() error {
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
