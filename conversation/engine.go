// Package conversation wires identity, registry, room keystores, the
// codec, and the log stream into one long-lived object, the same way the
// teacher's main.go wires a FacilitatorClient, TokenManager and
// Middleware into a served http.Handler — except the "handler" here is a
// struct with methods, not an HTTP endpoint.
package conversation

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/originprotocol/origin-messaging-go/codec"
	origincrypto "github.com/originprotocol/origin-messaging-go/crypto"
	"github.com/originprotocol/origin-messaging-go/identity"
	"github.com/originprotocol/origin-messaging-go/registry"
	"github.com/originprotocol/origin-messaging-go/stream"
)

// Engine is the top-level conversation API: identity ceremony + registry +
// room state + codec + log stream, guarded by one mutex per §5.
type Engine struct {
	baseURL  string
	http     *http.Client
	ceremony *identity.Ceremony
	registry *registry.Client
	ingestor *stream.Ingestor

	mu         sync.Mutex
	generation int
	rooms      map[string]*Room
	// sending is one engine-wide flag, not per-room: §5 allows at most one
	// sendMessage in flight per engine instance, full stop, to avoid
	// racing on messageCount.
	sending  bool
	observer func(Event)
}

// NewEngine wires the four required collaborators into an Engine.
// baseURL is the key server's REST root, used for appending log entries.
func NewEngine(baseURL string, ceremony *identity.Ceremony, reg *registry.Client, ingestor *stream.Ingestor) (*Engine, error) {
	if ceremony == nil {
		return nil, ConfigurationError{Field: "ceremony"}
	}
	if reg == nil {
		return nil, ConfigurationError{Field: "registry"}
	}
	if ingestor == nil {
		return nil, ConfigurationError{Field: "ingestor"}
	}
	return &Engine{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		ceremony: ceremony,
		registry: reg,
		ingestor: ingestor,
		rooms:    make(map[string]*Room),
	}, nil
}

// SetAccount binds a new wallet address, discarding all room state from
// any previous account and bumping the generation counter so in-flight
// initialization, stream consumption and bulk reloads from the old account
// are ignored when they complete (§5).
func (e *Engine) SetAccount(wallet common.Address) {
	e.mu.Lock()
	e.generation++
	e.rooms = make(map[string]*Room)
	e.mu.Unlock()

	e.ceremony.SetAccount(wallet)
	e.emit(Event{Type: EventNew})
}

// Initialize drives the bound account through enrollment, publication,
// stream subscription, and room loading, firing signedSig/initialized/ready
// as each stage completes. Results from a superseded SetAccount are
// discarded.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()

	if err := e.ceremony.Enable(ctx); err != nil {
		return err
	}
	if !e.currentGeneration(gen) {
		return nil
	}
	e.emit(Event{Type: EventSignedSig})

	if err := e.ceremony.InitMessaging(ctx); err != nil {
		return err
	}
	if !e.currentGeneration(gen) {
		return nil
	}
	e.emit(Event{Type: EventInitialized})

	binding := e.ceremony.Binding()

	// A disconnect/reconnect can happen any time after Subscribe returns,
	// so both hooks must be wired before it's called.
	e.ingestor.SetDisconnectHook(func() {
		if !e.currentGeneration(gen) {
			return
		}
		e.emit(Event{Type: EventEmsg, Err: ErrStreamDisconnected})
	})
	e.ingestor.SetReconnectHook(func(ctx context.Context) {
		if !e.currentGeneration(gen) {
			return
		}
		e.loadRooms(ctx)
	})

	entries, err := e.ingestor.Subscribe(ctx, binding.WalletAddress)
	if err != nil {
		return fmt.Errorf("subscribing to stream: %w", err)
	}
	go e.consumeStream(ctx, gen, entries)

	// loadRooms drives Published → Ready (§4.2). There is no server
	// endpoint to list a wallet's conversations (§6), so "the conversation
	// list" is the engine's own locally known room set: empty on a fresh
	// bind, and populated by the time a reconnect calls this again.
	e.loadRooms(ctx)
	if !e.currentGeneration(gen) {
		return nil
	}

	e.ceremony.MarkReady()
	if !e.currentGeneration(gen) {
		return nil
	}
	e.emit(Event{Type: EventReady})
	return nil
}

func (e *Engine) currentGeneration(gen int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.generation
}

func (e *Engine) consumeStream(ctx context.Context, gen int, entries <-chan stream.LogEntry) {
	for entry := range entries {
		if !e.currentGeneration(gen) {
			return
		}
		e.applyEntry(entry)
	}
}

// loadRooms bulk-reloads every room the engine currently holds local state
// for. Called once from Initialize (a no-op until a room exists) and again
// from the ingestor's reconnect hook, so a room untouched since before an
// outage still gets resynchronized even though no fresh live entry for it
// ever arrives to trigger hasGap (§4.6 scenario 6).
func (e *Engine) loadRooms(ctx context.Context) {
	for _, id := range e.EnumerateConversations() {
		e.reloadRoom(ctx, id)
	}
}

// reloadRoom bulk-fetches the full log for roomID and rebuilds local state
// from it: the message list is replaced wholesale from the fetched entries
// (§4.6 "on bulk load completion"), so a key that arrives late can decode
// an earlier still-encrypted entry on the next reload. Only entries past
// the room's previous high-water mark are emitted as events, so a reload
// never re-announces a message the caller already saw live.
func (e *Engine) reloadRoom(ctx context.Context, roomID string) {
	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()

	entries, err := e.ingestor.BulkLoad(ctx, roomID)
	if err != nil {
		slog.Warn("bulk reload failed", "room", roomID, "err", err)
		return
	}
	if !e.currentGeneration(gen) {
		return
	}

	rm := e.roomOrCreate(roomID)
	binding := e.ceremony.Binding()

	e.mu.Lock()
	previousLast := rm.LastConversationIndex
	rm.Messages = nil
	rm.LastConversationIndex = -1
	e.mu.Unlock()

	for _, entry := range entries {
		ev := e.decodeEntry(rm, binding, entry)

		e.mu.Lock()
		if entry.ConversationIndex > rm.LastConversationIndex {
			rm.LastConversationIndex = entry.ConversationIndex
		}
		e.mu.Unlock()

		if ev != nil && entry.ConversationIndex > previousLast {
			e.emit(*ev)
		}
	}
}

// applyEntry decodes one live log entry against the room it belongs to,
// creating the room's local state on first sight. Entries at or below the
// room's already-applied index are ignored — a bulk reload and the live
// feed can both deliver the same entry, and re-applying it would duplicate
// the decoded message.
func (e *Engine) applyEntry(entry stream.LogEntry) {
	rm := e.roomOrCreate(entry.ConversationID)
	binding := e.ceremony.Binding()

	e.mu.Lock()
	if entry.ConversationIndex <= rm.LastConversationIndex {
		e.mu.Unlock()
		return
	}
	rm.LastConversationIndex = entry.ConversationIndex
	e.mu.Unlock()

	if ev := e.decodeEntry(rm, binding, entry); ev != nil {
		e.emit(*ev)
	}
}

// decodeEntry applies one entry's content to rm (adding keys, appending a
// decoded message) and returns the event it produces, or nil for an entry
// that yields no caller-visible event (a "keys" envelope, or content the
// engine can't even tell the type of).
func (e *Engine) decodeEntry(rm *Room, binding *identity.Binding, entry stream.LogEntry) *Event {
	kind, err := codec.EnvelopeTypeOf(entry.Content)
	if err != nil {
		return nil
	}

	switch kind {
	case codec.EnvelopeKeys:
		env, err := codec.ParseKeysEnvelope(entry.Content)
		if err != nil {
			return nil
		}
		for _, key := range codec.DecodeKeys(env, binding.WalletAddress.Hex(), binding.MessagingPrivateKey) {
			rm.Keys.Add(key)
		}
		return nil
	case codec.EnvelopeMsg:
		env, err := codec.ParseMsgEnvelope(entry.Content)
		if err != nil {
			return nil
		}
		result := codec.DecodeMsg(env, rm.Keys.All())
		switch result.Outcome {
		case codec.Decoded:
			msg := result.Message
			msg.RoomID = rm.ID
			msg.Index = entry.ConversationIndex
			msg.Hash = fmt.Sprintf("%s.%d", rm.ID, entry.ConversationIndex)
			e.mu.Lock()
			rm.Messages = append(rm.Messages, msg)
			e.mu.Unlock()
			return &Event{Type: EventMsg, RoomID: rm.ID, Message: msg}
		case codec.StillEncrypted:
			return &Event{Type: EventEmsg, RoomID: rm.ID, Err: origincrypto.ErrUndecryptable}
		case codec.DroppedInvalid:
			return &Event{Type: EventEmsg, RoomID: rm.ID, Err: codec.ErrInvalidMessage}
		}
	}
	return nil
}

func (e *Engine) roomOrCreate(id string) *Room {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[id]
	if !ok {
		r = newRoom(id)
		e.rooms[id] = r
	}
	return r
}

// StartConversation establishes a room with peer: looks up peer's
// registry entry, generates a fresh symmetric key, and appends a "keys"
// envelope wrapping it for both participants.
func (e *Engine) StartConversation(ctx context.Context, peer common.Address) (*Room, error) {
	binding := e.ceremony.Binding()
	if binding == nil {
		return nil, ErrNotReady
	}

	peerEntry, err := e.registry.Lookup(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	if peerEntry == nil {
		return nil, fmt.Errorf("%w: peer %s not enrolled", ErrRegistryUnavailable, peer.Hex())
	}

	selfEntry := &registry.Entry{
		WalletAddress:      binding.WalletAddress,
		MessagingAddress:   binding.MessagingAddress,
		MessagingPublicKey: binding.MessagingPublicKey[:],
	}

	roomID := RoomID(binding.WalletAddress, peer)
	rm := e.roomOrCreate(roomID)

	env, key, err := codec.EncodeKeys(binding.WalletAddress.Hex(), []codec.Participant{
		{WalletAddress: binding.WalletAddress.Hex(), Entry: selfEntry},
		{WalletAddress: peer.Hex(), Entry: peerEntry},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding keys envelope: %w", err)
	}

	content, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if err := e.appendEntry(ctx, rm, content); err != nil {
		return nil, err
	}

	rm.Keys.Add(key)
	return rm, nil
}

// resolveRoomID turns a sendMessage/OOB argument into a roomId and, when
// the peer can be determined from it, the peer's address (§3: "a string
// containing '-' is a roomId"). A bare wallet address resolves to the
// canonical roomId with that peer; a roomId resolves to the peer named in
// whichever half isn't self. Malformed input is rejected synchronously
// rather than silently zero-padded by common.HexToAddress.
func (e *Engine) resolveRoomID(self common.Address, roomIDOrWallet string) (roomID string, peer common.Address, peerKnown bool, err error) {
	if strings.Contains(roomIDOrWallet, "-") {
		parts := strings.SplitN(roomIDOrWallet, "-", 2)
		if len(parts) == 2 {
			selfHex := self.Hex()
			switch {
			case strings.EqualFold(parts[0], selfHex) && common.IsHexAddress(parts[1]):
				return roomIDOrWallet, common.HexToAddress(parts[1]), true, nil
			case strings.EqualFold(parts[1], selfHex) && common.IsHexAddress(parts[0]):
				return roomIDOrWallet, common.HexToAddress(parts[0]), true, nil
			}
		}
		return roomIDOrWallet, common.Address{}, false, nil
	}

	if !common.IsHexAddress(roomIDOrWallet) {
		return "", common.Address{}, false, ErrInvalidAddress
	}
	peer = common.HexToAddress(roomIDOrWallet)
	return RoomID(self, peer), peer, true, nil
}

// SendMessage resolves roomIDOrWallet to a room, ensuring the conversation
// is started (blocking until its "keys" envelope is published) if it
// isn't already, then encrypts content under the room's primary key and
// appends it to the log. Only one send is in flight per engine instance;
// concurrent callers are rejected rather than queued (§4.7/§9).
func (e *Engine) SendMessage(ctx context.Context, roomIDOrWallet string, content string) error {
	e.mu.Lock()
	if e.sending {
		e.mu.Unlock()
		return ErrIndexConflict
	}
	e.sending = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.sending = false
		e.mu.Unlock()
	}()

	binding := e.ceremony.Binding()
	if binding == nil {
		return ErrNotReady
	}

	roomID, peer, peerKnown, err := e.resolveRoomID(binding.WalletAddress, roomIDOrWallet)
	if err != nil {
		return err
	}

	rm, ok := e.room(roomID)
	if !ok || rm.Keys.Len() == 0 {
		if !peerKnown {
			return ErrRoomNotFound
		}
		rm, err = e.StartConversation(ctx, peer)
		if err != nil {
			return err
		}
	}

	key, ok := rm.Keys.Primary()
	if !ok {
		return ErrNoRoomKey
	}

	env, err := codec.EncodeMsg(binding.WalletAddress.Hex(), key, codec.Message{Content: &content}, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.appendEntry(ctx, rm, body)
}

// OutOfBandEnvelope is a "msg" envelope addressed outside the server —
// e.g. to be relayed through a QR code or a paste — extended with the
// recipient's address so the other side can find the right room.
type OutOfBandEnvelope struct {
	codec.MsgEnvelope
	To string `json:"to"`
}

// CreateOutOfBandEnvelope builds the same encrypted envelope SendMessage
// would append to the log, but returns it instead of posting it. The To
// field names the recipient (fixing the known to=self bug from the
// original implementation).
func (e *Engine) CreateOutOfBandEnvelope(ctx context.Context, remoteWallet common.Address, content string) (*OutOfBandEnvelope, error) {
	binding := e.ceremony.Binding()
	if binding == nil {
		return nil, ErrNotReady
	}

	roomID := RoomID(binding.WalletAddress, remoteWallet)
	rm, ok := e.room(roomID)
	if !ok {
		var err error
		rm, err = e.StartConversation(ctx, remoteWallet)
		if err != nil {
			return nil, err
		}
	}

	key, ok := rm.Keys.Primary()
	if !ok {
		return nil, ErrNoRoomKey
	}

	env, err := codec.EncodeMsg(binding.WalletAddress.Hex(), key, codec.Message{Content: &content}, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("encoding out-of-band envelope: %w", err)
	}

	return &OutOfBandEnvelope{MsgEnvelope: *env, To: remoteWallet.Hex()}, nil
}

// DecryptOutOfBandEnvelope infers the remote participant (the non-self
// party among Address and To), ensures a room exists for them, and
// decrypts through the codec the same way a live-stream "msg" entry would
// be decoded. The result carries no log position: an out-of-band message
// is never appended, so Index is -1 and Hash is empty.
func (e *Engine) DecryptOutOfBandEnvelope(ctx context.Context, env *OutOfBandEnvelope) (*codec.DecryptedMessage, error) {
	binding := e.ceremony.Binding()
	if binding == nil {
		return nil, ErrNotReady
	}

	selfHex := binding.WalletAddress.Hex()
	remoteHex := env.To
	if !strings.EqualFold(env.Address, selfHex) {
		remoteHex = env.Address
	}
	if !common.IsHexAddress(remoteHex) {
		return nil, ErrInvalidAddress
	}
	remote := common.HexToAddress(remoteHex)

	roomID := RoomID(binding.WalletAddress, remote)
	rm, ok := e.room(roomID)
	if !ok {
		var err error
		rm, err = e.StartConversation(ctx, remote)
		if err != nil {
			return nil, err
		}
	}

	result := codec.DecodeMsg(&env.MsgEnvelope, rm.Keys.All())
	switch result.Outcome {
	case codec.Decoded:
		msg := result.Message
		msg.RoomID = roomID
		e.mu.Lock()
		rm.Messages = append(rm.Messages, msg)
		e.mu.Unlock()
		return msg, nil
	case codec.DroppedInvalid:
		return nil, codec.ErrInvalidMessage
	default:
		return nil, origincrypto.ErrUndecryptable
	}
}

// GetMessages returns the decoded messages seen so far for roomID, in
// arrival order.
func (e *Engine) GetMessages(roomID string) []*codec.DecryptedMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	rm, ok := e.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*codec.DecryptedMessage, len(rm.Messages))
	copy(out, rm.Messages)
	return out
}

// GetMessageCount returns roomID's messageCount: one past the highest
// conversation index applied locally, not the number of messages that
// happened to decode (those diverge once a "keys" entry or an
// undecryptable "msg" is seen, since neither counts as a decoded message).
func (e *Engine) GetMessageCount(roomID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	rm, ok := e.rooms[roomID]
	if !ok || rm.LastConversationIndex < 0 {
		return 0
	}
	return rm.LastConversationIndex + 1
}

// EnumerateConversations returns the room ids the engine currently holds
// state for.
func (e *Engine) EnumerateConversations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) room(id string) (*Room, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rm, ok := e.rooms[id]
	return rm, ok
}

// entrySigningPayload mirrors stream.signingPayload: the canonical-JSON
// subject a log entry's signature covers.
type entrySigningPayload struct {
	ConversationID    string          `json:"conversationId"`
	ConversationIndex int             `json:"conversationIndex"`
	Content           json.RawMessage `json:"content"`
}

// appendEntry signs content with the bound messaging key and POSTs it to
// the log at the room's next conversation index.
func (e *Engine) appendEntry(ctx context.Context, rm *Room, content json.RawMessage) error {
	e.mu.Lock()
	index := rm.LastConversationIndex + 1
	e.mu.Unlock()

	binding := e.ceremony.Binding()
	if binding == nil {
		return ErrNotReady
	}

	canonical, err := codec.CanonicalJSON(entrySigningPayload{
		ConversationID:    rm.ID,
		ConversationIndex: index,
		Content:           content,
	})
	if err != nil {
		return err
	}
	digest := origincrypto.Keccak256(canonical)

	ecdsaPriv, err := ethcrypto.ToECDSA(binding.MessagingPrivateKey[:])
	if err != nil {
		return fmt.Errorf("loading messaging private key: %w", err)
	}
	sig, err := ethcrypto.Sign(digest, ecdsaPriv)
	if err != nil {
		return fmt.Errorf("signing log entry: %w", err)
	}

	// "from" must be the wallet address, not the messaging address: the
	// registry (and verifyEntry's lookup) is keyed by wallet address
	// (§6 GET /accounts/<walletAddress>); a verifier recovers the signer
	// from the signature and checks it against the looked-up entry's
	// MessagingAddress, which only works if it can find that entry at all.
	wire := map[string]interface{}{
		"conversationId":    rm.ID,
		"conversationIndex": index,
		"content":           content,
		"from":              binding.WalletAddress.Hex(),
		"signature":         hex.EncodeToString(sig),
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/messages/%s/%d", e.baseURL, rm.ID, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("appending log entry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrIndexConflict
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("appending log entry failed: %d: %s", resp.StatusCode, respBody)
	}

	e.mu.Lock()
	rm.LastConversationIndex = index
	e.mu.Unlock()
	return nil
}
