// Package registry implements the key server's public identity directory
// client: cached lookup and publish of per-address messaging identities,
// grounded directly on the teacher's RemoteFacilitator REST client.
package registry

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Entry is the public record the key server holds per wallet address (§3).
type Entry struct {
	WalletAddress             common.Address `json:"address"`
	MessagingAddress           common.Address `json:"msg_address"`
	MessagingPublicKey         []byte         `json:"-"`
	PublicationMessage         string         `json:"msg"`
	PublicationSignature       []byte         `json:"-"`
	EnrollmentPhrase           []byte         `json:"-"`
	EnrollmentPhraseSignature  []byte         `json:"-"`
}

// wireEntry is the hex-on-the-wire JSON shape for Entry, matching §6's
// {signature, data: {address, msg, pub_key, ph, phs}} publish body and the
// GET response shape.
type wireEntry struct {
	WalletAddress     string `json:"address"`
	MessagingAddress  string `json:"msg_address"`
	MessagingPubKey   string `json:"pub_key"`
	PublicationMsg    string `json:"msg"`
	PublicationSig    string `json:"signature"`
	EnrollmentPhrase  string `json:"ph"`
	EnrollmentPhraseSig string `json:"phs"`
}

func (e *Entry) fromWire(w wireEntry) error {
	e.WalletAddress = common.HexToAddress(w.WalletAddress)
	e.MessagingAddress = common.HexToAddress(w.MessagingAddress)
	e.PublicationMessage = w.PublicationMsg
	var err error
	if e.MessagingPublicKey, err = hex.DecodeString(trimHex(w.MessagingPubKey)); err != nil {
		return fmt.Errorf("decoding pub_key: %w", err)
	}
	if e.PublicationSignature, err = hex.DecodeString(trimHex(w.PublicationSig)); err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	if e.EnrollmentPhrase, err = hex.DecodeString(trimHex(w.EnrollmentPhrase)); err != nil {
		return fmt.Errorf("decoding ph: %w", err)
	}
	if e.EnrollmentPhraseSignature, err = hex.DecodeString(trimHex(w.EnrollmentPhraseSig)); err != nil {
		return fmt.Errorf("decoding phs: %w", err)
	}
	return nil
}

func (e *Entry) toWire() wireEntry {
	return wireEntry{
		WalletAddress:       e.WalletAddress.Hex(),
		MessagingAddress:    e.MessagingAddress.Hex(),
		MessagingPubKey:     hex.EncodeToString(e.MessagingPublicKey),
		PublicationMsg:      e.PublicationMessage,
		PublicationSig:      hex.EncodeToString(e.PublicationSignature),
		EnrollmentPhrase:    hex.EncodeToString(e.EnrollmentPhrase),
		EnrollmentPhraseSig: hex.EncodeToString(e.EnrollmentPhraseSignature),
	}
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Client talks to the key server's /accounts endpoint. Successful lookups
// are cached indefinitely, in-process, keyed by checksummed wallet address;
// there is no negative cache and no eviction policy (§4.3).
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	cache map[common.Address]*Entry
}

// NewClient creates a registry Client against baseURL, using the same
// 30-second HTTP client timeout as the teacher's RemoteFacilitator.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		cache:   make(map[common.Address]*Entry),
	}
}

// Lookup returns the cached or freshly fetched RegistryEntry for addr, or
// nil if the server has no entry (any non-200 response). A nil, nil result
// means "peer not enrolled", not an error.
func (c *Client) Lookup(ctx context.Context, addr common.Address) (*Entry, error) {
	c.mu.RLock()
	if e, ok := c.cache[addr]; ok {
		c.mu.RUnlock()
		return e, nil
	}
	c.mu.RUnlock()

	url := fmt.Sprintf("%s/accounts/%s", c.baseURL, addr.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	slog.Debug("registry lookup", "url", url)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Debug("registry lookup miss", "url", url, "status", resp.StatusCode)
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading registry response: %w", err)
	}

	var w wireEntry
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decoding registry response: %w", err)
	}
	entry := &Entry{}
	if err := entry.fromWire(w); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[addr] = entry
	c.mu.Unlock()

	return entry, nil
}

// Publish POSTs entry to the key server. A non-200 response is reported as
// an error but never mutates local state — the caller stays Enrolled and
// may retry.
func (c *Client) Publish(ctx context.Context, entry *Entry) error {
	body, err := json.Marshal(map[string]interface{}{
		"signature": hex.EncodeToString(entry.PublicationSignature),
		"data":      entry.toWire(),
	})
	if err != nil {
		return fmt.Errorf("marshalling registry entry: %w", err)
	}

	url := fmt.Sprintf("%s/accounts/%s", c.baseURL, entry.WalletAddress.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("registry publish", "url", url)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry publish: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("registry publish failed: %d: %s", resp.StatusCode, respBody)
	}

	c.mu.Lock()
	c.cache[entry.WalletAddress] = entry
	c.mu.Unlock()

	return nil
}
