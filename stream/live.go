package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// reconnectDelay is fixed, not exponential: the key server's stream is
// expected to recover quickly and a flat retry is simpler to reason about
// for a long-lived client process.
const reconnectDelay = 30 * time.Second

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 54 * time.Second
)

// Dialer opens a websocket connection. Exists so tests can substitute a
// fake without a live socket.
type Dialer interface {
	Dial(url string, header http.Header) (*websocket.Conn, *http.Response, error)
}

type defaultDialer struct{}

func (defaultDialer) Dial(url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial(url, header)
}

// SetDialer overrides the websocket dialer, for tests.
func (in *Ingestor) SetDialer(d Dialer) {
	in.dialer = d
}

// subscription tracks one live websocket connection and the last seen
// index per room, to detect gaps against the log (§4.6/§9).
type subscription struct {
	id            string
	walletAddress string
	out           chan<- LogEntry

	mu        sync.Mutex
	lastIndex map[string]int
	reloading map[string]bool
	conn      *websocket.Conn

	// wg tracks reconcile goroutines still sending on out, so readPump's
	// close(out) never races a send from one of them (§9).
	wg sync.WaitGroup
}

// Subscribe opens a live update stream for walletAddress and returns a
// channel of verified LogEntrys. The returned channel is closed when ctx
// is cancelled; until then the subscription reconnects indefinitely on
// read/write/dial failure, waiting reconnectDelay between attempts.
func (in *Ingestor) Subscribe(ctx context.Context, walletAddress common.Address) (<-chan LogEntry, error) {
	out := make(chan LogEntry, 64)
	sub := &subscription{
		id:            uuid.NewString(),
		walletAddress: walletAddress.Hex(),
		out:           out,
		lastIndex:     make(map[string]int),
		reloading:     make(map[string]bool),
	}

	conn, err := in.dial(ctx, sub)
	if err != nil {
		close(out)
		return nil, err
	}
	sub.conn = conn

	go in.readPump(ctx, sub)
	go func() {
		// Ping every pingInterval so the server's pongs keep extending the
		// read deadline set in dial.
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				sub.mu.Lock()
				if sub.conn != nil {
					sub.conn.Close()
				}
				sub.mu.Unlock()
				return
			case <-ticker.C:
				sub.mu.Lock()
				if sub.conn != nil {
					sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
				}
				sub.mu.Unlock()
			}
		}
	}()

	return out, nil
}

func (in *Ingestor) dial(ctx context.Context, sub *subscription) (*websocket.Conn, error) {
	wsURL := strings.Replace(in.baseURL, "http", "ws", 1) + "/message-events/" + sub.walletAddress
	slog.Debug("stream dial", "subscription_id", sub.id, "url", wsURL)
	conn, _, err := in.dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing stream: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})
	return conn, nil
}

func (in *Ingestor) readPump(ctx context.Context, sub *subscription) {
	defer func() {
		sub.wg.Wait()
		close(sub.out)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sub.mu.Lock()
		conn := sub.conn
		sub.mu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("stream read error", "subscription_id", sub.id, "err", err)
			if in.onDisconnect != nil {
				in.onDisconnect()
			}
			if !in.handleReconnect(ctx, sub) {
				return
			}
			continue
		}

		var wire wireLogEntry
		if err := json.Unmarshal(raw, &wire); err != nil {
			slog.Warn("stream dropped unparseable entry", "subscription_id", sub.id, "err", err)
			continue
		}
		entry, err := wire.toEntry()
		if err != nil {
			slog.Warn("stream dropped entry with bad signature encoding", "subscription_id", sub.id, "err", err)
			continue
		}

		if !in.verifyEntry(ctx, entry) {
			slog.Warn("stream dropped unverifiable entry", "subscription_id", sub.id, "room", entry.ConversationID)
			continue
		}

		if in.hasGap(sub, entry) {
			in.reconcile(ctx, sub, entry.ConversationID)
			continue
		}

		sub.mu.Lock()
		sub.lastIndex[entry.ConversationID] = entry.ConversationIndex
		sub.mu.Unlock()

		select {
		case sub.out <- entry:
		case <-ctx.Done():
			return
		}
	}
}

// hasGap reports whether entry is anything other than exactly last+1 for
// its room — both duplicates and forward-gaps (§4.6/§9).
func (in *Ingestor) hasGap(sub *subscription, entry LogEntry) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	last, ok := sub.lastIndex[entry.ConversationID]
	if !ok {
		return entry.ConversationIndex != 0
	}
	return entry.ConversationIndex != last+1
}

// reconcile bulk-reloads a room on gap detection, de-duplicating so a
// burst of out-of-order entries for the same room triggers at most one
// concurrent reload.
func (in *Ingestor) reconcile(ctx context.Context, sub *subscription, roomID string) {
	sub.mu.Lock()
	if sub.reloading[roomID] {
		sub.mu.Unlock()
		return
	}
	sub.reloading[roomID] = true
	sub.mu.Unlock()

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer func() {
			sub.mu.Lock()
			delete(sub.reloading, roomID)
			sub.mu.Unlock()
		}()

		entries, err := in.BulkLoad(ctx, roomID)
		if err != nil {
			slog.Warn("reconcile bulk load failed", "subscription_id", sub.id, "room", roomID, "err", err)
			return
		}

		sub.mu.Lock()
		if len(entries) > 0 {
			sub.lastIndex[roomID] = entries[len(entries)-1].ConversationIndex
		}
		sub.mu.Unlock()

		for _, entry := range entries {
			select {
			case sub.out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (in *Ingestor) handleReconnect(ctx context.Context, sub *subscription) bool {
	sub.mu.Lock()
	if sub.conn != nil {
		sub.conn.Close()
		sub.conn = nil
	}
	sub.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(reconnectDelay):
		}

		conn, err := in.dial(ctx, sub)
		if err != nil {
			slog.Warn("reconnect failed", "subscription_id", sub.id, "err", err)
			continue
		}
		sub.mu.Lock()
		sub.conn = conn
		sub.mu.Unlock()
		slog.Info("stream reconnected", "subscription_id", sub.id)
		if in.onReconnect != nil {
			go in.onReconnect(ctx)
		}
		return true
	}
}
