package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"telegate/internal/entities"
	"telegate/internal/interfaces"
)

// Login flow status values returned to the HTTP layer.
const (
	StatusCodeSent = "code_sent"
	StatusSuccess  = "success"
)

// Code requests per phone are throttled to one burst of codeBurst, refilled
// every codeInterval. The remote platform flood-bans numbers that request
// codes faster than this.
const (
	codeInterval = 30 * time.Second
	codeBurst    = 3
)

// PersistAccount is the follow-up half of the login two-phase protocol: the
// caller must upsert these credentials and link the requesting user.
type PersistAccount struct {
	Phone   string
	APIID   int
	APIHash string
}

// LoginResult reports the outcome of a login-flow step. A non-nil Persist
// means the step only counts once the caller has committed it.
type LoginResult struct {
	Status  string
	Message string
	Persist *PersistAccount
}

// SessionManager drives phone numbers through the login state machine
// (no session -> code requested -> authenticated) and restores or tears
// down sessions around process lifecycle events. Registry mutation is
// atomic; the suspending remote calls happen between map updates, so a hung
// remote call stalls only its own phone.
type SessionManager struct {
	registry *SessionRegistry
	accounts interfaces.AccountStore
	factory  interfaces.TransportFactory
	log      zerolog.Logger

	mu        sync.Mutex
	creds     map[string]PersistAccount
	throttles map[string]*rate.Limiter
}

func NewSessionManager(registry *SessionRegistry, accounts interfaces.AccountStore, factory interfaces.TransportFactory, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		registry:  registry,
		accounts:  accounts,
		factory:   factory,
		log:       log.With().Str("component", "sessions").Logger(),
		creds:     make(map[string]PersistAccount),
		throttles: make(map[string]*rate.Limiter),
	}
}

func (m *SessionManager) throttle(phone string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	lim, ok := m.throttles[phone]
	if !ok {
		lim = rate.NewLimiter(rate.Every(codeInterval), codeBurst)
		m.throttles[phone] = lim
	}
	return lim
}

// StartLogin opens a fresh connection for phone and requests a verification
// code, installing the handle in the pending pool. The flow is re-entrant:
// calling it again supersedes the outstanding code request, and an already
// authorized handle is logged out remotely first so the platform always
// issues a fresh code instead of silently reusing the old authorization.
func (m *SessionManager) StartLogin(ctx context.Context, phone string, apiID int, apiHash string) (*LoginResult, error) {
	if !m.throttle(phone).Allow() {
		return nil, fmt.Errorf("%w: %s", entities.ErrThrottled, phone)
	}

	if existing, ok := m.registry.Get(phone); ok {
		if authorized, err := existing.IsAuthorized(ctx); err == nil && authorized {
			if err := existing.Logout(ctx); err != nil {
				m.log.Warn().Err(err).Str("phone", phone).Msg("remote logout before fresh login failed")
			}
		}
	}
	for _, old := range m.registry.Remove(phone) {
		if err := old.Disconnect(); err != nil {
			m.log.Warn().Err(err).Str("phone", phone).Msg("disconnecting superseded handle failed")
		}
	}

	t, err := m.factory.Open(ctx, phone, apiID, apiHash)
	if err != nil {
		return nil, fmt.Errorf("open transport for %s: %w", phone, err)
	}
	hint, err := t.SendCode(ctx, phone)
	if err != nil {
		if derr := t.Disconnect(); derr != nil {
			m.log.Warn().Err(derr).Str("phone", phone).Msg("disconnect after failed code request")
		}
		return nil, fmt.Errorf("request code for %s: %w", phone, err)
	}
	for _, prev := range m.registry.PutPending(phone, t) {
		if err := prev.Disconnect(); err != nil {
			m.log.Warn().Err(err).Str("phone", phone).Msg("disconnecting displaced handle failed")
		}
	}

	m.mu.Lock()
	m.creds[phone] = PersistAccount{Phone: phone, APIID: apiID, APIHash: apiHash}
	m.mu.Unlock()

	m.log.Info().Str("phone", phone).Msg("verification code requested")

	msg := "Verification code sent to your messaging app"
	if hint != "" {
		msg = fmt.Sprintf("Enter pairing code %s on your device, then complete the login", hint)
	}
	return &LoginResult{
		Status:  StatusCodeSent,
		Message: msg,
		Persist: &PersistAccount{Phone: phone, APIID: apiID, APIHash: apiHash},
	}, nil
}

// CompleteLogin submits the verification code for a phone with an
// outstanding login flow. On success the handle is promoted to the active
// pool and the result carries the account to persist. On a rejected code
// the handle stays pending so the caller may retry.
func (m *SessionManager) CompleteLogin(ctx context.Context, phone, code string) (*LoginResult, error) {
	t, ok := m.registry.Get(phone)
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrSessionNotFound, phone)
	}

	name, err := t.SignIn(ctx, phone, code)
	if err != nil {
		return nil, fmt.Errorf("sign in %s: %w", phone, err)
	}
	m.registry.Promote(phone)

	if name == "" {
		name = phone
	}

	m.mu.Lock()
	persist, ok := m.creds[phone]
	delete(m.creds, phone)
	m.mu.Unlock()

	m.log.Info().Str("phone", phone).Msg("login completed")
	res := &LoginResult{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Successfully logged in as %s", name),
	}
	// A handle restored at startup has no captured credentials in this
	// process; the stored row is already correct, so there is nothing to
	// persist and the commit must not overwrite it.
	if ok {
		res.Persist = &persist
	}
	return res, nil
}

// RestoreAll rebuilds the active pool from persisted credentials and their
// on-disk session artifacts. Runs at process start. One account failing to
// restore never aborts the rest: accounts without an artifact, with an
// unreachable platform, or with a stale authorization are logged and
// skipped.
func (m *SessionManager) RestoreAll(ctx context.Context) {
	accounts, err := m.accounts.List(ctx, "")
	if err != nil {
		m.log.Error().Err(err).Msg("cannot list accounts for session restore")
		return
	}

	restored := 0
	for _, acct := range accounts {
		if !m.factory.HasArtifact(acct.Phone) {
			m.log.Info().Str("phone", acct.Phone).Msg("no session artifact on disk, skipping restore")
			continue
		}
		t, err := m.factory.Open(ctx, acct.Phone, acct.APIID, acct.APIHash)
		if err != nil {
			m.log.Warn().Err(err).Str("phone", acct.Phone).Msg("restore connection failed")
			continue
		}
		authorized, err := t.IsAuthorized(ctx)
		if err != nil || !authorized {
			if derr := t.Disconnect(); derr != nil {
				m.log.Warn().Err(derr).Str("phone", acct.Phone).Msg("disconnect of unauthorized handle failed")
			}
			m.log.Warn().Err(err).Str("phone", acct.Phone).Msg("session artifact present but not authorized, account needs re-login")
			continue
		}
		for _, prev := range m.registry.PutActive(acct.Phone, t) {
			if derr := prev.Disconnect(); derr != nil {
				m.log.Warn().Err(derr).Str("phone", acct.Phone).Msg("disconnecting displaced handle failed")
			}
		}
		restored++
		m.log.Info().Str("phone", acct.Phone).Msg("session restored")
	}
	m.log.Info().Int("restored", restored).Int("accounts", len(accounts)).Msg("session restore finished")
}

// Invalidate tears down everything the gateway holds for a phone: live
// handles in either pool, the on-disk session artifact, and the credential
// row. Every step is best-effort; a failing disconnect cannot leave the
// artifact or credentials behind.
func (m *SessionManager) Invalidate(ctx context.Context, phone string) {
	for _, t := range m.registry.Remove(phone) {
		if err := t.Disconnect(); err != nil {
			m.log.Warn().Err(err).Str("phone", phone).Msg("disconnect during invalidation failed")
		}
	}
	if m.factory.HasArtifact(phone) {
		if err := m.factory.RemoveArtifact(phone); err != nil {
			m.log.Warn().Err(err).Str("phone", phone).Msg("removing session artifact failed")
		}
	}
	if err := m.accounts.Delete(ctx, phone); err != nil {
		m.log.Warn().Err(err).Str("phone", phone).Msg("deleting credentials failed")
	}

	m.mu.Lock()
	delete(m.creds, phone)
	m.mu.Unlock()

	m.log.Info().Str("phone", phone).Msg("session invalidated")
}

// ShutdownAll disconnects every handle in both pools at process teardown.
// Individual failures are logged and swallowed so one bad connection cannot
// block cleanup of the rest.
func (m *SessionManager) ShutdownAll() {
	for phone, t := range m.registry.Drain() {
		if err := t.Disconnect(); err != nil {
			m.log.Warn().Err(err).Str("phone", phone).Msg("disconnect during shutdown failed")
			continue
		}
		m.log.Info().Str("phone", phone).Msg("disconnected")
	}
}

// Connected reports whether the phone has a handle in either pool.
func (m *SessionManager) Connected(phone string) bool {
	_, ok := m.registry.Get(phone)
	return ok
}

// Active returns the phone's fully authorized handle, if any.
func (m *SessionManager) Active(phone string) (interfaces.Transport, bool) {
	return m.registry.GetActive(phone)
}
