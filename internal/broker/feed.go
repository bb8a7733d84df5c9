package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/pkg/utils"
)

const (
	defaultFeedURL = "wss://mlhsm.kotaksecurities.com"

	feedPingInterval = 25 * time.Second
	feedWriteTimeout = 10 * time.Second
	feedReadTimeout  = 60 * time.Second
)

// NeoFeed implements the Feed interface over the push-feed websocket.
//
// The subscription set is the source of truth: Subscribe and Unsubscribe
// mutate it whether or not a connection is up, and every (re)connection
// replays the full set. Handlers are invoked from the single read loop
// goroutine, so tick and order-update delivery is serialized.
type NeoFeed struct {
	url     string
	dialer  *websocket.Dialer
	session func() *SessionTokens

	conn *websocket.Conn

	desired  map[models.InstrumentID]struct{}
	lastSeen map[models.InstrumentID]time.Time

	onTick        func(models.Tick)
	onOrderUpdate func(models.OrderUpdate)
	onError       func(error)
	onConnect     func()
	onDisconnect  func()

	connected    bool
	reconnecting bool
	retryCfg     utils.RetryConfig

	logger zerolog.Logger

	done    chan struct{}
	mu      sync.RWMutex
	writeMu sync.Mutex // serializes websocket writes
}

// NeoFeedConfig holds configuration for the push feed.
type NeoFeedConfig struct {
	URL     string
	Session func() *SessionTokens
	Retry   utils.RetryConfig
	Logger  zerolog.Logger
}

// NewNeoFeed creates a new push-feed client.
func NewNeoFeed(cfg NeoFeedConfig) *NeoFeed {
	feedURL := cfg.URL
	if feedURL == "" {
		feedURL = defaultFeedURL
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = utils.FeedRetryConfig()
	}

	return &NeoFeed{
		url:      feedURL,
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		session:  cfg.Session,
		desired:  make(map[models.InstrumentID]struct{}),
		lastSeen: make(map[models.InstrumentID]time.Time),
		retryCfg: retryCfg,
		logger:   cfg.Logger,
	}
}

// feedMessage is the wire shape for both directions.
type feedMessage struct {
	Type    string `json:"type"`
	Scrips  string `json:"scrips,omitempty"`
	Channel string `json:"channelnum,omitempty"`

	// Quote fields
	Segment string  `json:"exchange_segment,omitempty"`
	Token   string  `json:"instrument_token,omitempty"`
	LTP     float64 `json:"ltp,omitempty"`
	Bid     float64 `json:"bid,omitempty"`
	Ask     float64 `json:"ask,omitempty"`
	Volume  int64   `json:"volume,omitempty"`
	TimeMS  int64   `json:"timestamp,omitempty"`

	// Order update fields
	OrderNo   string  `json:"nOrdNo,omitempty"`
	GuiOrdID  string  `json:"GuiOrdId,omitempty"`
	Status    string  `json:"ordSt,omitempty"`
	FldQty    int     `json:"fldQty,omitempty"`
	AvgPrice  float64 `json:"avgPrc,omitempty"`
	RejReason string  `json:"rejRsn,omitempty"`
}

// Connect establishes the websocket connection and starts the read loop.
// Requires a live session; the subscription set itself may be mutated
// before connecting and is replayed on dial.
func (f *NeoFeed) Connect(ctx context.Context) error {
	if f.session == nil || f.session() == nil {
		return apperrors.ErrNotAuthenticated
	}

	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.done = make(chan struct{})
	f.mu.Unlock()

	if err := f.dial(ctx); err != nil {
		return err
	}

	f.mu.RLock()
	handler := f.onConnect
	f.mu.RUnlock()
	if handler != nil {
		go handler()
	}

	return nil
}

// dial opens the connection, replays the subscription set and starts loops.
func (f *NeoFeed) dial(ctx context.Context) error {
	header := http.Header{}
	if f.session != nil {
		if s := f.session(); s != nil {
			header.Set("Auth", s.SessionToken)
			header.Set("Sid", s.SID)
		}
	}

	conn, resp, err := f.dialer.DialContext(ctx, f.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return apperrors.ErrSessionExpired
		}
		return apperrors.Wrap(apperrors.ErrTransport, fmt.Sprintf("feed dial: %v", err))
	}

	conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return nil
	})

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	done := f.done
	f.mu.Unlock()

	if err := f.sendSubscribe(f.Subscriptions()); err != nil {
		f.logger.Warn().Err(err).Msg("resubscribe after connect failed")
	}

	go f.readLoop(ctx, conn)
	go f.pingLoop(conn, done)

	f.logger.Info().Int("subscriptions", len(f.Subscriptions())).Msg("feed connected")
	return nil
}

// Disconnect closes the connection and stops reconnection.
func (f *NeoFeed) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done != nil {
		select {
		case <-f.done:
		default:
			close(f.done)
		}
	}
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connected = false
	return nil
}

// Subscribe adds instruments to the subscription set. Requires a live
// session. Already-subscribed instruments are ignored; only the delta is
// sent over the wire. While disconnected the set is buffered and replayed
// on the next dial.
func (f *NeoFeed) Subscribe(ids []models.InstrumentID) error {
	if f.session == nil || f.session() == nil {
		return apperrors.ErrNotAuthenticated
	}

	f.mu.Lock()
	added := make([]models.InstrumentID, 0, len(ids))
	for _, id := range ids {
		if _, ok := f.desired[id]; ok {
			continue
		}
		f.desired[id] = struct{}{}
		added = append(added, id)
	}
	connected := f.connected
	f.mu.Unlock()

	if len(added) == 0 || !connected {
		return nil
	}
	return f.sendSubscribe(added)
}

// Unsubscribe removes instruments from the subscription set.
func (f *NeoFeed) Unsubscribe(ids []models.InstrumentID) error {
	f.mu.Lock()
	removed := make([]models.InstrumentID, 0, len(ids))
	for _, id := range ids {
		if _, ok := f.desired[id]; !ok {
			continue
		}
		delete(f.desired, id)
		delete(f.lastSeen, id)
		removed = append(removed, id)
	}
	connected := f.connected
	f.mu.Unlock()

	if len(removed) == 0 || !connected {
		return nil
	}
	return f.sendUnsubscribe(removed)
}

// Subscriptions returns a snapshot of the current subscription set.
func (f *NeoFeed) Subscriptions() []models.InstrumentID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.InstrumentID, 0, len(f.desired))
	for id := range f.desired {
		out = append(out, id)
	}
	return out
}

// IsConnected returns whether the feed is connected.
func (f *NeoFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// OnTick sets the tick handler.
func (f *NeoFeed) OnTick(handler func(models.Tick)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTick = handler
}

// OnOrderUpdate sets the order update handler.
func (f *NeoFeed) OnOrderUpdate(handler func(models.OrderUpdate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onOrderUpdate = handler
}

// OnError sets the error handler.
func (f *NeoFeed) OnError(handler func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = handler
}

// OnConnect sets the connect handler.
func (f *NeoFeed) OnConnect(handler func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = handler
}

// OnDisconnect sets the disconnect handler.
func (f *NeoFeed) OnDisconnect(handler func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = handler
}

func (f *NeoFeed) sendSubscribe(ids []models.InstrumentID) error {
	return f.sendControl("mws", ids)
}

func (f *NeoFeed) sendUnsubscribe(ids []models.InstrumentID) error {
	return f.sendControl("mwu", ids)
}

func (f *NeoFeed) sendControl(msgType string, ids []models.InstrumentID) error {
	if len(ids) == 0 {
		return nil
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, string(id.Segment)+"|"+id.Token)
	}
	msg := feedMessage{
		Type:    msgType,
		Scrips:  strings.Join(parts, "&"),
		Channel: "1",
	}

	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return apperrors.ErrTransport
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, fmt.Sprintf("feed write: %v", err))
	}
	return nil
}

// readLoop reads and dispatches messages until the connection drops.
// Ticks missed while disconnected are not replayed; the next tick after
// reconnect carries the current state.
func (f *NeoFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			f.handleDisconnect(ctx, conn, err)
			return
		}

		var msg feedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.logger.Debug().Err(err).Msg("unparseable feed message")
			continue
		}

		switch msg.Type {
		case "quote", "sf", "mf":
			f.dispatchTick(msg)
		case "order":
			f.dispatchOrderUpdate(msg)
		}
	}
}

func (f *NeoFeed) dispatchTick(msg feedMessage) {
	id := models.InstrumentID{
		Segment: models.ExchangeSegment(msg.Segment),
		Token:   msg.Token,
	}
	ts := time.UnixMilli(msg.TimeMS)

	f.mu.Lock()
	if _, ok := f.desired[id]; !ok {
		// Tick for an instrument we no longer track
		f.mu.Unlock()
		return
	}
	if last, ok := f.lastSeen[id]; ok && ts.Equal(last) {
		// Duplicate delivery
		f.mu.Unlock()
		return
	}
	f.lastSeen[id] = ts
	handler := f.onTick
	f.mu.Unlock()

	if handler != nil {
		handler(models.Tick{
			Instrument: id,
			Quote: models.Quote{
				LTP:       msg.LTP,
				Bid:       msg.Bid,
				Ask:       msg.Ask,
				Volume:    msg.Volume,
				Timestamp: ts,
			},
		})
	}
}

func (f *NeoFeed) dispatchOrderUpdate(msg feedMessage) {
	f.mu.RLock()
	handler := f.onOrderUpdate
	f.mu.RUnlock()

	if handler != nil {
		handler(models.OrderUpdate{
			LocalID:      msg.GuiOrdID,
			BrokerID:     msg.OrderNo,
			Status:       statusFromWire(msg.Status),
			FilledQty:    msg.FldQty,
			AvgFillPrice: msg.AvgPrice,
			Reason:       msg.RejReason,
			Timestamp:    time.UnixMilli(msg.TimeMS),
		})
	}
}

func (f *NeoFeed) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			f.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (f *NeoFeed) handleDisconnect(ctx context.Context, conn *websocket.Conn, cause error) {
	conn.Close()

	f.mu.Lock()
	if f.conn != conn {
		// A newer connection already replaced this one
		f.mu.Unlock()
		return
	}
	f.conn = nil
	wasConnected := f.connected
	f.connected = false
	done := f.done
	onDisconnect := f.onDisconnect
	f.mu.Unlock()

	select {
	case <-done:
		// Explicit Disconnect, no reconnection
		return
	default:
	}

	if wasConnected {
		f.logger.Warn().Err(cause).Msg("feed disconnected")
		if onDisconnect != nil {
			go onDisconnect()
		}
	}

	go f.reconnect(ctx)
}

// reconnect retries the connection with bounded exponential backoff
// until it succeeds or the attempt budget is exhausted.
func (f *NeoFeed) reconnect(ctx context.Context) {
	f.mu.Lock()
	if f.reconnecting {
		f.mu.Unlock()
		return
	}
	f.reconnecting = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.reconnecting = false
		f.mu.Unlock()
	}()

	for attempt := 0; attempt < f.retryCfg.MaxAttempts; attempt++ {
		delay := utils.CalculateBackoff(attempt, f.retryCfg.InitialDelay, f.retryCfg.MaxDelay, f.retryCfg.BackoffFactor)
		if err := utils.SleepContext(ctx, delay); err != nil {
			return
		}

		f.mu.RLock()
		done := f.done
		f.mu.RUnlock()
		select {
		case <-done:
			return
		default:
		}

		f.logger.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("feed reconnecting")
		err := f.dial(ctx)
		if err == nil {
			return
		}
		if apperrors.Is(err, apperrors.ErrSessionExpired) {
			// An expired session is not retried; the session layer
			// re-authenticates and reconnects.
			f.mu.RLock()
			handler := f.onError
			f.mu.RUnlock()
			if handler != nil {
				handler(err)
			}
			return
		}
	}

	f.mu.RLock()
	handler := f.onError
	f.mu.RUnlock()
	if handler != nil {
		handler(apperrors.Wrap(apperrors.ErrTransport, "feed reconnection attempts exhausted"))
	}
}

var _ Feed = (*NeoFeed)(nil)
