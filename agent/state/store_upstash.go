package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultKeyPrefix = "callflow:"
	defaultTTL       = 24 * time.Hour
)

// UpstashRedisConfig carries the REST endpoint of an Upstash Redis database.
type UpstashRedisConfig struct {
	URL   string `envconfig:"UPSTASH_REDIS_URL" required:"true"`
	Token string `envconfig:"UPSTASH_REDIS_TOKEN" required:"true"`
}

// UpstashRedisStore keeps session state in Upstash Redis over its REST API,
// one JSON document per session plus an identifier index key. Keys carry a
// TTL, so idle sessions expire server side and SweepIdle has nothing to do.
type UpstashRedisStore struct {
	url        string
	token      string
	keyPrefix  string
	ttl        time.Duration
	httpClient *http.Client
}

type StoreOption func(*UpstashRedisStore)

// WithKeyPrefix overrides the namespace prefix shared by session and
// identifier keys.
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		s.keyPrefix = prefix
	}
}

// WithTTL overrides how long idle sessions survive. Zero or negative
// disables expiry.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		s.httpClient = client
	}
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("upstash redis store: url and token are required")
	}
	s := &UpstashRedisStore{
		url:        cfg.URL,
		token:      cfg.Token,
		keyPrefix:  defaultKeyPrefix,
		ttl:        defaultTTL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *UpstashRedisStore) sessionKey(sessionID string) string {
	return s.keyPrefix + "session:" + sessionID
}

func (s *UpstashRedisStore) identifierKey(identifier string) string {
	return s.keyPrefix + "identifier:" + identifier
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// exec posts one Redis command to the REST endpoint and returns the raw
// result field.
func (s *UpstashRedisStore) exec(ctx context.Context, cmd []any) (json.RawMessage, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("redis request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("redis request failed: status %d: %s", resp.StatusCode, string(data))
	}

	var rr redisRESTResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if rr.Error != "" {
		return nil, fmt.Errorf("redis error: %s", rr.Error)
	}
	return rr.Result, nil
}

func (s *UpstashRedisStore) getString(ctx context.Context, key string) (string, bool, error) {
	res, err := s.exec(ctx, []any{"GET", key})
	if err != nil {
		return "", false, err
	}
	if len(res) == 0 || string(res) == "null" {
		return "", false, nil
	}
	var payload string
	if err := json.Unmarshal(res, &payload); err != nil {
		return "", false, fmt.Errorf("decode redis value: %w", err)
	}
	return payload, true, nil
}

func (s *UpstashRedisStore) setString(ctx context.Context, key, value string) error {
	cmd := []any{"SET", key, value}
	if s.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.ttl))
	}
	_, err := s.exec(ctx, cmd)
	return err
}

func (s *UpstashRedisStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}
	payload, ok, err := s.getString(ctx, s.sessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	var st SessionState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return &st, nil
}

func (s *UpstashRedisStore) Save(ctx context.Context, st *SessionState) error {
	if st == nil {
		return ErrNilState
	}
	if err := st.Validate(); err != nil {
		return err
	}

	if st.Identifier != "" {
		holder, ok, err := s.getString(ctx, s.identifierKey(st.Identifier))
		if err != nil {
			return err
		}
		if ok && holder != st.SessionID {
			if live, err := s.Load(ctx, holder); err == nil && !live.Terminal() {
				return fmt.Errorf("%w: %s", ErrIdentifierClaimed, st.Identifier)
			}
		}
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := s.setString(ctx, s.sessionKey(st.SessionID), string(payload)); err != nil {
		return err
	}

	if st.Identifier == "" {
		return nil
	}
	if st.Terminal() {
		_, err = s.exec(ctx, []any{"DEL", s.identifierKey(st.Identifier)})
		return err
	}
	return s.setString(ctx, s.identifierKey(st.Identifier), st.SessionID)
}

func (s *UpstashRedisStore) Delete(ctx context.Context, sessionID string) error {
	st, err := s.Load(ctx, sessionID)
	if err == nil && st.Identifier != "" {
		if _, err := s.exec(ctx, []any{"DEL", s.identifierKey(st.Identifier)}); err != nil {
			return err
		}
	}
	_, err = s.exec(ctx, []any{"DEL", s.sessionKey(sessionID)})
	return err
}

func (s *UpstashRedisStore) FindByIdentifier(ctx context.Context, identifier string) (*SessionState, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidSession)
	}
	sessionID, ok, err := s.getString(ctx, s.identifierKey(identifier))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: identifier %s", ErrSessionNotFound, identifier)
	}
	st, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.Terminal() {
		return nil, fmt.Errorf("%w: identifier %s", ErrSessionNotFound, identifier)
	}
	return st, nil
}

// SweepIdle is a no-op for Upstash: every key is written with a TTL, so the
// server expires idle sessions on its own.
func (s *UpstashRedisStore) SweepIdle(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func ttlSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
