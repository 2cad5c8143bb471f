package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"PatternDesk/internal/domain/models"
	drepo "PatternDesk/internal/domain/repository"
	applogger "PatternDesk/pkg/logger"
)

// DefaultSymbolMap maps Finnhub forex/metal tickers onto the analysed symbols.
var DefaultSymbolMap = map[string]models.Symbol{
	"OANDA:EUR_USD": models.EURUSD,
	"OANDA:GBP_USD": models.GBPUSD,
	"OANDA:USD_JPY": models.USDJPY,
	"OANDA:XAU_USD": models.XAUUSD,
}

// Client implements a MarketStream backed by Finnhub WebSocket.
type Client struct {
	apiKey         string
	websocketURL   string
	symbols        map[string]models.Symbol
	reconnectDelay time.Duration
	pingInterval   time.Duration
	l              *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

var _ drepo.MarketStream = (*Client)(nil)

// New creates a Finnhub MarketStream. symbols maps feed tickers to symbols;
// nil uses DefaultSymbolMap.
func New(apiKey, websocketURL string, symbols map[string]models.Symbol, reconnectDelay, pingInterval time.Duration, l *applogger.Logger) *Client {
	if symbols == nil {
		symbols = DefaultSymbolMap
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		l:              l,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	if c.apiKey != "" {
		q.Set("token", c.apiKey)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.l.Info("finnhub connected", applogger.String("url", c.websocketURL))
	return nil
}

// Subscribe subscribes to every mapped ticker.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return fmt.Errorf("finnhub not connected")
	}
	for feed := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": feed}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", feed, err)
		}
		c.l.Debug("finnhub subscribed", applogger.String("symbol", feed))
	}
	return nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// decodeTrades turns one frame into trades for mapped tickers only.
func (c *Client) decodeTrades(b []byte) []*models.Trade {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		return nil
	}
	out := make([]*models.Trade, 0, len(m.Data))
	for _, d := range m.Data {
		sym, ok := c.symbols[d.S]
		if !ok {
			continue
		}
		out = append(out, &models.Trade{Symbol: sym, Timestamp: d.T / 1000, Price: d.P, Volume: d.V})
	}
	return out
}

// Read streams Trade events and errors until ctx ends or the socket fails.
func (c *Client) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.conn == conn && conn != nil {
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				}
				c.mu.Unlock()
			}
		}
	}()

	go func() {
		defer close(trades)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("finnhub conn nil")
			return
		}
		dropped := 0
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("finnhub read: %w", err)
				return
			}
			for _, trade := range c.decodeTrades(b) {
				select {
				case trades <- trade:
				default:
					dropped++
					if dropped%1000 == 1 {
						c.l.Warn("finnhub dropping trades on backpressure", applogger.Int("dropped", dropped))
					}
				}
			}
		}
	}()

	return trades, errs
}

// Reconnect closes, waits reconnectDelay and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
