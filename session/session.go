package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/orthanc/postcleaner/cleaner"
)

var ErrSignedOut = errors.New("session is signed out")

type Options struct {
	Handle      string
	AppPassword string
	// PDSHost skips resolving the handle through Directory.
	PDSHost       string
	HTTPTimeout   time.Duration
	RefreshWindow time.Duration
	Directory     identity.Directory
}

// Session owns the authenticated xrpc client and the actor it belongs to.
type Session struct {
	mu            sync.RWMutex
	client        *xrpc.Client
	actor         cleaner.Actor
	refreshWindow time.Duration
	logger        *log.Logger
	now           func() time.Time
}

func Login(ctx context.Context, options Options, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	host := options.PDSHost
	if host == "" {
		resolved, err := resolvePDS(ctx, options)
		if err != nil {
			return nil, err
		}
		host = resolved
	}
	logger.Info("signing in", "handle", options.Handle, "pds", host)

	client := &xrpc.Client{
		Host:   host,
		Client: &http.Client{Timeout: options.HTTPTimeout},
	}
	created, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: options.Handle,
		Password:   options.AppPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("sign in failed for %s: %w", options.Handle, err)
	}
	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  created.AccessJwt,
		RefreshJwt: created.RefreshJwt,
		Handle:     created.Handle,
		Did:        created.Did,
	}

	// The handle shown to the user comes from the profile, as a session
	// whose profile cannot be read is not usable.
	profile, err := bsky.ActorGetProfile(ctx, client, created.Did)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch profile for %s: %w", created.Did, err)
	}

	session := &Session{
		client: client,
		actor: cleaner.Actor{
			Handle: profile.Handle,
			DID:    created.Did,
		},
		refreshWindow: options.RefreshWindow,
		logger:        logger,
		now:           time.Now,
	}
	logger.Info("signed in", "handle", profile.Handle, "did", created.Did)
	return session, nil
}

func resolvePDS(ctx context.Context, options Options) (string, error) {
	handle, err := syntax.ParseHandle(options.Handle)
	if err != nil {
		return "", fmt.Errorf("invalid handle %q: %w", options.Handle, err)
	}
	directory := options.Directory
	if directory == nil {
		directory = identity.DefaultDirectory()
	}
	ident, err := directory.LookupHandle(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("unable to resolve handle %s: %w", handle, err)
	}
	pds := ident.PDSEndpoint()
	if pds == "" {
		return "", fmt.Errorf("no PDS endpoint declared for %s", handle)
	}
	return pds, nil
}

// Actor returns the signed-in actor, or the zero Actor after Close.
func (session *Session) Actor() cleaner.Actor {
	session.mu.RLock()
	defer session.mu.RUnlock()
	return session.actor
}

func (session *Session) Active() bool {
	session.mu.RLock()
	defer session.mu.RUnlock()
	return session.client.Auth != nil
}

// Client returns a copy of the authenticated client so callers are not
// affected by a concurrent token refresh.
func (session *Session) Client() *xrpc.Client {
	session.mu.RLock()
	defer session.mu.RUnlock()
	clone := *session.client
	if session.client.Auth != nil {
		auth := *session.client.Auth
		clone.Auth = &auth
	}
	return &clone
}

func (session *Session) RefreshIfExpiring(ctx context.Context) error {
	refreshClient := session.Client()
	if refreshClient.Auth == nil {
		return ErrSignedOut
	}
	expiresAt, err := TokenExpiry(refreshClient.Auth.AccessJwt)
	if err != nil {
		session.logger.Warn("unable to read access token expiry, refreshing", "err", err)
	} else if session.now().Add(session.refreshWindow).Before(expiresAt) {
		return nil
	}

	refreshClient.Auth.AccessJwt = refreshClient.Auth.RefreshJwt
	refreshed, err := atproto.ServerRefreshSession(ctx, refreshClient)
	if err != nil {
		return fmt.Errorf("refreshing session: %w", err)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.client.Auth == nil {
		return ErrSignedOut
	}
	session.client.Auth = &xrpc.AuthInfo{
		AccessJwt:  refreshed.AccessJwt,
		RefreshJwt: refreshed.RefreshJwt,
		Handle:     refreshed.Handle,
		Did:        refreshed.Did,
	}
	session.actor.Handle = refreshed.Handle
	session.logger.Debug("session refreshed", "did", refreshed.Did)
	return nil
}

// Run refreshes the session every interval until ctx is done.
func (session *Session) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := session.RefreshIfExpiring(ctx)
			if errors.Is(err, ErrSignedOut) {
				return nil
			}
			if err != nil {
				session.logger.Error("session refresh failed", "err", err)
			}
		}
	}
}

// Close signs out and discards the actor.
func (session *Session) Close(ctx context.Context) error {
	session.mu.Lock()
	auth := session.client.Auth
	session.client.Auth = nil
	session.actor = cleaner.Actor{}
	client := *session.client
	session.mu.Unlock()

	if auth == nil {
		return nil
	}
	client.Auth = &xrpc.AuthInfo{AccessJwt: auth.RefreshJwt, RefreshJwt: auth.RefreshJwt, Did: auth.Did}
	if err := atproto.ServerDeleteSession(ctx, &client); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	session.logger.Info("signed out", "did", auth.Did)
	return nil
}

// TokenExpiry reads the exp claim of an access token without verifying it;
// the PDS is the party that verifies.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parsing access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("access token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}
