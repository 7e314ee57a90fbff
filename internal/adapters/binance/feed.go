package binance

// feed.go: live trade-stream client for Binance spot.
//
// One connection per subscribed pair, reading the <symbol>@trade stream.
// The client owns its connection lifecycle: on any read or dial error it
// reconnects with jittered exponential backoff, and the subscriber just
// sees a gap in ticks. Only when the reconnect budget is exhausted does
// the tick channel close with the context still alive.

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thrisw/tpslkeeper/internal/domain"
)

const (
	defaultWSBase = "wss://stream.binance.com:9443/ws"

	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxRetries     = 10
	backoffJitter         = 0.2

	handshakeTimeout = 10 * time.Second
	readTimeout      = 90 * time.Second
	pingInterval     = 30 * time.Second
	writeWait        = 10 * time.Second
)

// Config controls connection and reconnect behaviour.
type Config struct {
	BaseURL        string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRetries is the number of consecutive failed reconnect attempts
	// tolerated before the stream is declared unavailable. A successful
	// connection resets the count.
	MaxRetries int
}

// DefaultConfig returns the production Binance endpoint with the
// standard backoff policy.
func DefaultConfig() Config {
	return Config{
		BaseURL:        defaultWSBase,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		MaxRetries:     defaultMaxRetries,
	}
}

// Feed implements ports.PriceFeed over Binance trade streams.
type Feed struct {
	cfg Config
}

// NewFeed creates a Feed. Zero-valued config fields fall back to defaults.
func NewFeed(cfg Config) *Feed {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultWSBase
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Feed{cfg: cfg}
}

// tradeMessage is the wire format of one trade event. Price arrives as a
// decimal string.
type tradeMessage struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"` // unix millis
}

// Subscribe starts streaming ticks for the pair. See ports.PriceFeed for
// the channel-close contract.
func (f *Feed) Subscribe(ctx context.Context, pair string) (<-chan domain.PriceTick, error) {
	out := make(chan domain.PriceTick)
	go f.run(ctx, pair, out)
	return out, nil
}

// run is the per-pair connection loop: dial, read until error, back off,
// repeat. It closes out on context cancellation or retry exhaustion.
func (f *Feed) run(ctx context.Context, pair string, out chan<- domain.PriceTick) {
	defer close(out)

	url := f.cfg.BaseURL + "/" + strings.ToLower(pair) + "@trade"
	log := slog.With("pair", pair)
	retries := 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := f.dial(ctx, url)
		if err != nil {
			retries++
			if retries > f.cfg.MaxRetries {
				log.Error("reconnect budget exhausted", "retries", retries-1, "err", err)
				return
			}
			log.Warn("feed connect failed, backing off",
				"retry", retries, "max", f.cfg.MaxRetries, "err", err)
			if !f.sleep(ctx, retries) {
				return
			}
			continue
		}

		retries = 0
		log.Info("feed connected", "url", url)

		f.readLoop(ctx, conn, pair, out)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn("feed disconnected, reconnecting")
	}
}

func (f *Feed) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	return conn, err
}

// readLoop reads trade messages until the connection errors or the
// context is cancelled. Malformed messages are dropped and logged,
// never delivered, never fatal to the stream.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, pair string, out chan<- domain.PriceTick) {
	// Unblock the reader when the context goes; gorilla reads have no
	// context parameter.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go f.pingLoop(ctx, conn, done)

	log := slog.With("pair", pair)
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		tick, ok := parseTick(raw, pair)
		if !ok {
			log.Warn("dropping malformed feed message", "raw", truncate(raw, 160))
			continue
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return
		}
	}
}

// pingLoop keeps the connection alive between trades.
func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// parseTick validates and normalizes one raw message into a PriceTick.
func parseTick(raw []byte, pair string) (domain.PriceTick, bool) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceTick{}, false
	}

	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 {
		return domain.PriceTick{}, false
	}

	observed := time.Now().UTC()
	if msg.TradeTime > 0 {
		observed = time.UnixMilli(msg.TradeTime).UTC()
	}

	return domain.PriceTick{
		Pair:       pair,
		Price:      price,
		ObservedAt: observed,
	}, true
}

// sleep waits out the backoff for the given retry, with ±20% jitter.
// Returns false if the context was cancelled while waiting.
func (f *Feed) sleep(ctx context.Context, retry int) bool {
	backoff := f.cfg.InitialBackoff << (retry - 1)
	if backoff > f.cfg.MaxBackoff || backoff <= 0 {
		backoff = f.cfg.MaxBackoff
	}
	jittered := time.Duration(float64(backoff) * (1 - backoffJitter + 2*backoffJitter*rand.Float64()))

	select {
	case <-time.After(jittered):
		return true
	case <-ctx.Done():
		return false
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
