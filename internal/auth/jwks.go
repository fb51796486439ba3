package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/observability"
)

// maxJWKSBytes bounds the key-set response body.
const maxJWKSBytes = 1 << 20

var errNoUsableKeys = errors.New("key set contains no usable verification keys")

// JWKSConfig holds configuration for creating a JWKSKeyStore.
type JWKSConfig struct {
	URL string

	// RefreshInterval is the age after which cached keys are re-fetched on
	// next use. Zero disables age-based refresh.
	RefreshInterval time.Duration

	// MinRefetchInterval bounds how often an unknown kid may force a fetch.
	// Zero means domain.JWKSMinRefetchInterval.
	MinRefetchInterval time.Duration

	HTTPClient *http.Client
	Clock      domain.Clock
	Logger     *slog.Logger
}

// JWKSKeyStore is a KeyStore backed by a remote JSON Web Key Set.
//
// Keys are held in an immutable snapshot that is swapped atomically, so
// verifications never wait on a refresh in progress. Concurrent refreshes
// collapse into one request. A failed refresh leaves the previous snapshot
// in place.
type JWKSKeyStore struct {
	url             string
	refreshInterval time.Duration
	minRefetch      time.Duration
	client          *http.Client
	clock           domain.Clock
	logger          *slog.Logger

	current atomic.Pointer[keySnapshot]
	group   singleflight.Group

	// lastAttempt is the UnixNano time of the last fetch, successful or not.
	lastAttempt atomic.Int64
}

type keySnapshot struct {
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time
}

// NewJWKSKeyStore creates a JWKSKeyStore. No request is made until the
// first key lookup.
func NewJWKSKeyStore(cfg JWKSConfig) *JWKSKeyStore {
	s := &JWKSKeyStore{
		url:             cfg.URL,
		refreshInterval: cfg.RefreshInterval,
		minRefetch:      cfg.MinRefetchInterval,
		client:          cfg.HTTPClient,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: domain.IdentityRequestTimeout}
	}
	if s.clock == nil {
		s.clock = domain.RealClock{}
	}
	if s.logger == nil {
		s.logger = observability.Discard()
	}
	if s.minRefetch <= 0 {
		s.minRefetch = domain.JWKSMinRefetchInterval
	}
	return s
}

// PublicKey returns the key for kid. An unknown kid triggers one re-fetch
// of the key set before failing, which lets freshly rotated keys verify.
// Such re-fetches happen at most once per MinRefetchInterval, so tokens
// with made-up kids cannot drive traffic to the key endpoint.
func (s *JWKSKeyStore) PublicKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	snap := s.current.Load()
	refreshed := false

	if snap == nil || s.stale(snap) {
		fresh, err := s.refresh(ctx)
		switch {
		case err == nil:
			snap, refreshed = fresh, true
		case snap == nil:
			return nil, err
		default:
			s.logger.WarnContext(ctx, "jwks refresh failed, serving cached keys",
				slog.String("error", err.Error()),
				slog.Time("fetched_at", snap.fetchedAt),
			)
		}
	}

	if key, ok := lookupKey(snap.keys, kid); ok {
		return key, nil
	}

	if !refreshed && s.mayRefetch() {
		fresh, err := s.refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: kid %q (refresh failed: %w)", domain.ErrUnknownKey, kid, err)
		}
		if key, ok := lookupKey(fresh.keys, kid); ok {
			return key, nil
		}
	}

	return nil, fmt.Errorf("%w: kid %q", domain.ErrUnknownKey, kid)
}

// Refresh re-fetches the key set now.
func (s *JWKSKeyStore) Refresh(ctx context.Context) error {
	_, err := s.refresh(ctx)
	return err
}

func (s *JWKSKeyStore) mayRefetch() bool {
	last := s.lastAttempt.Load()
	return last == 0 || s.clock.Now().Sub(time.Unix(0, last)) >= s.minRefetch
}

func (s *JWKSKeyStore) stale(snap *keySnapshot) bool {
	return s.refreshInterval > 0 && s.clock.Now().Sub(snap.fetchedAt) >= s.refreshInterval
}

func (s *JWKSKeyStore) refresh(ctx context.Context) (*keySnapshot, error) {
	// The fetch is shared by every waiting caller, so it must not die with
	// whichever caller happened to start it.
	fetchCtx := context.WithoutCancel(ctx)

	v, err, _ := s.group.Do("jwks", func() (any, error) {
		s.lastAttempt.Store(s.clock.Now().UnixNano())
		snap, err := s.fetch(fetchCtx)
		if err != nil {
			jwksRefreshTotal.Add(fetchCtx, 1, metric.WithAttributes(attribute.String("result", "failure")))
			return nil, err
		}
		s.current.Store(snap)
		jwksRefreshTotal.Add(fetchCtx, 1, metric.WithAttributes(attribute.String("result", "success")))
		s.logger.DebugContext(fetchCtx, "jwks refreshed", slog.Int("keys", len(snap.keys)))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySnapshot), nil
}

func (s *JWKSKeyStore) fetch(ctx context.Context) (*keySnapshot, error) {
	ctx, span := tracer.Start(ctx, "auth.jwks.fetch")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: fetch JWKS: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch JWKS: status %d", domain.ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read JWKS: %w", domain.ErrNetwork, err)
	}

	keys, err := parseKeySet(body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &keySnapshot{keys: keys, fetchedAt: s.clock.Now()}, nil
}

// parseKeySet decodes a JWK set into verification keys indexed by kid.
// Encryption keys and keys that cannot be exported are skipped.
func parseKeySet(body []byte) (map[string]crypto.PublicKey, error) {
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse JWKS: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if use, ok := key.KeyUsage(); ok && use == "enc" {
			continue
		}

		pub, err := jwk.PublicKeyOf(key)
		if err != nil {
			continue
		}

		var raw any
		if err := jwk.Export(pub, &raw); err != nil {
			continue
		}

		kid, _ := key.KeyID()
		keys[kid] = raw
	}

	if len(keys) == 0 {
		return nil, errNoUsableKeys
	}
	return keys, nil
}
