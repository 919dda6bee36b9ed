// Package arenasdk is a small client for the Signal Wars HTTP API with
// helpers for the commit-reveal flow.
package arenasdk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"signalwars/internal/commitment"
	"signalwars/internal/domain"
	"signalwars/internal/wire"
)

// Client is a minimal arena API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credentials are set; servers
	// accept it only in local mode.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Prediction mirrors the API prediction model.
type Prediction struct {
	Key            string `json:"key"`
	Agent          string `json:"agent"`
	SeasonID       uint64 `json:"season_id"`
	Sequence       uint64 `json:"sequence"`
	PredictionHash string `json:"prediction_hash"`
	StakeAmount    uint64 `json:"stake_amount"`
	Status         string `json:"status"`
	PredictionData string `json:"prediction_data,omitempty"`
	WasCorrect     *bool  `json:"was_correct,omitempty"`
	Payout         uint64 `json:"payout"`
}

// Resolution reports the settled effects of a resolve call.
type Resolution struct {
	Prediction    Prediction         `json:"prediction"`
	Agent         domain.Agent       `json:"agent"`
	Entry         domain.SeasonEntry `json:"entry"`
	ScoreEarned   uint64             `json:"score_earned"`
	VaultReleased uint64             `json:"vault_released"`
	Bonus         uint64             `json:"bonus"`
	Forfeited     uint64             `json:"forfeited"`
	ForfeitTo     string             `json:"forfeit_to,omitempty"`
}

// Commitment is a submitted prediction together with the plaintext bytes
// needed to reveal it later. Keep Plaintext secret until reveal.
type Commitment struct {
	Prediction Prediction
	Plaintext  []byte
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type WhoAmI struct {
	Identity     string   `json:"identity"`
	Source       string   `json:"source"`
	Capabilities []string `json:"capabilities"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) RegisterAgent(ctx context.Context, name, endpoint string) (domain.Agent, error) {
	var resp domain.Agent
	err := c.do(ctx, http.MethodPost, "agents", map[string]any{"name": name, "endpoint": endpoint}, &resp)
	return resp, err
}

func (c *Client) Agent(ctx context.Context, owner string) (domain.Agent, error) {
	var resp domain.Agent
	err := c.do(ctx, http.MethodGet, "agents/"+url.PathEscape(owner), nil, &resp)
	return resp, err
}

// Deposit credits external funds to owner's wallet and returns its balance.
func (c *Client) Deposit(ctx context.Context, owner string, amount uint64) (uint64, error) {
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	err := c.do(ctx, http.MethodPost, "wallets/"+url.PathEscape(owner)+"/deposit", map[string]any{"amount": amount}, &resp)
	return resp.Balance, err
}

func (c *Client) Balance(ctx context.Context, owner string) (uint64, error) {
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	err := c.do(ctx, http.MethodGet, "wallets/"+url.PathEscape(owner), nil, &resp)
	return resp.Balance, err
}

func (c *Client) Seasons(ctx context.Context, status string) ([]domain.Season, error) {
	endpoint := "seasons"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []domain.Season
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EnterSeason enters the agent of agentOwner; empty means the caller's own.
func (c *Client) EnterSeason(ctx context.Context, seasonID uint64, agentOwner string) (domain.SeasonEntry, error) {
	var body any
	if agentOwner != "" {
		body = map[string]any{"agent_owner": agentOwner}
	}
	var resp domain.SeasonEntry
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("seasons/%d/entries", seasonID), body, &resp)
	return resp, err
}

func (c *Client) Standings(ctx context.Context, seasonID uint64) ([]domain.SeasonEntry, error) {
	var resp []domain.SeasonEntry
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("seasons/%d/standings", seasonID), nil, &resp)
	return resp, err
}

// Commit encodes p canonically, submits its hash with stake and returns
// the bytes to pass to Reveal.
func (c *Client) Commit(ctx context.Context, seasonID uint64, p commitment.Plaintext, stake uint64) (Commitment, error) {
	data, hash, err := commitment.Commit(p)
	if err != nil {
		return Commitment{}, err
	}
	pred, err := c.SubmitHash(ctx, seasonID, hash, stake)
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{Prediction: pred, Plaintext: data}, nil
}

// SubmitHash commits a precomputed hash.
func (c *Client) SubmitHash(ctx context.Context, seasonID uint64, hash domain.Hash, stake uint64) (Prediction, error) {
	var resp Prediction
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("seasons/%d/predictions", seasonID), map[string]any{
		"prediction_hash": hash.String(),
		"stake_amount":    stake,
	}, &resp)
	return resp, err
}

func (c *Client) Reveal(ctx context.Context, owner string, seasonID, sequence uint64, plaintext []byte) (Prediction, error) {
	var resp Prediction
	err := c.do(ctx, http.MethodPost, predictionPath(owner, seasonID, sequence)+"/reveal", map[string]any{"plaintext": string(plaintext)}, &resp)
	return resp, err
}

// RevealCommitment reveals a Commitment returned by Commit.
func (c *Client) RevealCommitment(ctx context.Context, owner string, cm Commitment) (Prediction, error) {
	return c.Reveal(ctx, owner, cm.Prediction.SeasonID, cm.Prediction.Sequence, cm.Plaintext)
}

func (c *Client) Resolve(ctx context.Context, owner string, seasonID, sequence uint64, wasCorrect bool) (Resolution, error) {
	var resp Resolution
	err := c.do(ctx, http.MethodPost, predictionPath(owner, seasonID, sequence)+"/resolve", map[string]any{"was_correct": wasCorrect}, &resp)
	return resp, err
}

// Expire forfeits a prediction that was never revealed before its season ended.
func (c *Client) Expire(ctx context.Context, owner string, seasonID, sequence uint64) (Resolution, error) {
	var resp Resolution
	err := c.do(ctx, http.MethodPost, predictionPath(owner, seasonID, sequence)+"/expire", nil, &resp)
	return resp, err
}

// Execute submits one wire instruction to the transaction endpoint and
// returns the raw JSON result.
func (c *Client) Execute(ctx context.Context, in wire.Instruction) (json.RawMessage, error) {
	data, err := wire.Encode(in)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Opcode string          `json:"opcode"`
		Result json.RawMessage `json:"result"`
	}
	err = c.do(ctx, http.MethodPost, "tx", map[string]any{"instruction": base64.StdEncoding.EncodeToString(data)}, &resp)
	return resp.Result, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func predictionPath(owner string, seasonID, sequence uint64) string {
	return fmt.Sprintf("predictions/%s/%d/%d", url.PathEscape(owner), seasonID, sequence)
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
