// Package pricefeed supplies the engine with price-update events: a
// WebSocket client for an external feed, an in-process random-walk
// simulator for offline runs, and a fan-out bus that distributes one
// input stream to many consumers.
//
// The wire format of the WebSocket feed is the JSON form of
// model.PriceUpdate:
//
//	{"asset_id":"aapl","price":"150.25","ts":"2025-06-02T10:00:00Z"}
package pricefeed

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"portfolio-systemv1/internal/model"
)

// WSConfig holds configuration for the WebSocket feed client.
type WSConfig struct {
	// URL of the price feed server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *WSConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// WSFeed connects to a JSON WebSocket price server and pushes
// model.PriceUpdate values into the output channel. Reconnects with
// exponential backoff on disconnect.
type WSFeed struct {
	cfg WSConfig

	// Optional hook, called each time a reconnection happens.
	OnReconnect func()
}

// NewWSFeed creates a WSFeed. Returns an error if the URL is unparseable.
func NewWSFeed(cfg WSConfig) (*WSFeed, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &WSFeed{cfg: cfg}, nil
}

// Start streams price updates into out. Blocks until ctx is cancelled.
func (f *WSFeed) Start(ctx context.Context, out chan<- model.PriceUpdate) error {
	delay := f.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := f.runOnce(ctx, out)
		if err == nil {
			// Context cancelled cleanly.
			return nil
		}

		log.Printf("[feed] disconnected (%v), reconnecting in %s...", err, delay)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel.
func (f *WSFeed) runOnce(ctx context.Context, out chan<- model.PriceUpdate) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", f.cfg.URL)

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var u model.PriceUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			log.Printf("[feed] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if u.AssetID == "" || !u.Price.IsPositive() {
			log.Printf("[feed] skipping malformed update: %s", raw)
			continue
		}
		if u.TS.IsZero() {
			u.TS = time.Now().UTC()
		}

		select {
		case out <- u:
		default:
			log.Println("[feed] output channel full, dropping update")
		}
	}
}
