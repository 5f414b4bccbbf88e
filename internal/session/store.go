// Package session holds the authentication token and the stable device
// identifier used by every outbound request.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/kv"
)

const (
	// Namespace owns everything wiped on logout.
	Namespace = "ledgersync.session"
	// DeviceNamespace survives logout; the device id belongs to the install.
	DeviceNamespace = "ledgersync.device"

	tokenKey    = "token"
	deviceIDKey = "device_id"
)

// ReasonLogout and ReasonUnauthorized label why a session ended.
const (
	ReasonLogout       = "logout"
	ReasonUnauthorized = "unauthorized"
)

// Change describes a session transition.
type Change struct {
	Active bool
	Reason string
}

// Listener is notified after a session transition has been persisted.
type Listener func(Change)

// LogoutHook wipes state owned by another component (cache, health status).
type LogoutHook func() error

// Store is the persisted session. The token and device id are loaded once at
// construction and served from memory afterwards.
type Store struct {
	repo *kv.Repository
	log  zerolog.Logger

	mu       sync.RWMutex
	token    string
	deviceID string

	listenersMu sync.Mutex
	listeners   []Listener
	hooks       []LogoutHook
}

// NewStore loads the session from the kv repository, generating and
// persisting the device id on first use.
func NewStore(repo *kv.Repository, log zerolog.Logger) (*Store, error) {
	s := &Store{
		repo: repo,
		log:  log.With().Str("component", "session").Logger(),
	}

	token, err := repo.Get(Namespace, tokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session token: %w", err)
	}
	if token != nil {
		s.token = *token
	}

	deviceID, err := repo.SetIfAbsent(DeviceNamespace, deviceIDKey, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to load device id: %w", err)
	}
	s.deviceID = deviceID

	s.log.Debug().
		Bool("authenticated", s.token != "").
		Str("device_id", s.deviceID).
		Msg("Session store loaded")

	return s, nil
}

// Token returns the current bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Active reports whether a token is present.
func (s *Store) Active() bool {
	return s.Token() != ""
}

// DeviceID returns the per-install identifier.
func (s *Store) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// SetToken persists a new token and notifies listeners.
func (s *Store) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token must not be empty")
	}

	if err := s.repo.Set(Namespace, tokenKey, token); err != nil {
		return fmt.Errorf("failed to persist session token: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.log.Info().Msg("Session started")
	s.notify(Change{Active: true})
	return nil
}

// Invalidate drops the token after an authorization failure. Other state
// owned by the session is left alone.
func (s *Store) Invalidate(reason string) error {
	s.mu.Lock()
	had := s.token != ""
	s.token = ""
	s.mu.Unlock()

	if err := s.repo.Delete(Namespace, tokenKey); err != nil {
		return fmt.Errorf("failed to clear session token: %w", err)
	}

	if had {
		s.log.Warn().Str("reason", reason).Msg("Session invalidated")
		s.notify(Change{Active: false, Reason: reason})
	}
	return nil
}

// Logout wipes the session namespace and runs every logout hook. Hook
// failures are collected; all hooks run regardless.
func (s *Store) Logout() error {
	s.mu.Lock()
	had := s.token != ""
	s.token = ""
	s.mu.Unlock()

	var errs []error
	if _, err := s.repo.DeleteNamespace(Namespace); err != nil {
		errs = append(errs, err)
	}

	s.listenersMu.Lock()
	hooks := append([]LogoutHook(nil), s.hooks...)
	s.listenersMu.Unlock()

	for _, hook := range hooks {
		if err := hook(); err != nil {
			errs = append(errs, err)
		}
	}

	s.log.Info().Int("hooks", len(hooks)).Msg("Logged out")
	if had {
		s.notify(Change{Active: false, Reason: ReasonLogout})
	}
	return errors.Join(errs...)
}

// OnChange registers a listener for session transitions.
func (s *Store) OnChange(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// OnLogout registers a hook run by Logout.
func (s *Store) OnLogout(h LogoutHook) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *Store) notify(c Change) {
	s.listenersMu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l(c)
	}
}
