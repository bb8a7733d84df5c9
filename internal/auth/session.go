// Package auth manages the brokerage login session state machine.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/broker"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/config"
	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/security"
)

// State is the session lifecycle state.
type State string

const (
	StateLoggedOut    State = "LOGGED_OUT"
	StateTOTPPending  State = "TOTP_PENDING"
	StateTOTPVerified State = "TOTP_VERIFIED"
	StateMPINPending  State = "MPIN_PENDING"
	StateLoggedIn     State = "LOGGED_IN"
	StateExpired      State = "EXPIRED"
	StateFailed       State = "FAILED"
)

// SessionManager drives the two-step login flow against the broker:
// TOTP verification issues a view token, MPIN validation exchanges it
// for session tokens. Transitions are serialized by a mutex; observers
// are notified after each transition.
type SessionManager struct {
	broker broker.Broker
	creds  config.Credentials
	logger *security.SafeLogger

	state     State
	viewToken *broker.ViewToken
	session   *broker.SessionTokens

	observers []func(State)
	mu        sync.RWMutex
}

// NewSessionManager creates a session manager in the logged-out state.
func NewSessionManager(b broker.Broker, creds config.Credentials, logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		broker: b,
		creds:  creds,
		logger: security.NewSafeLogger(logger),
		state:  StateLoggedOut,
	}
}

// State returns the current session state.
func (s *SessionManager) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Session returns the current session tokens, or nil when not logged in.
func (s *SessionManager) Session() *broker.SessionTokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// OnStateChange registers an observer invoked after every transition.
func (s *SessionManager) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *SessionManager) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	observers := make([]func(State), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	s.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("session state changed")
	for _, fn := range observers {
		fn(to)
	}
}

// RequestTOTP begins the login flow. Credential formats are checked
// locally before any network call; a malformed mobile or UCC never
// leaves the process.
func (s *SessionManager) RequestTOTP() error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	switch state {
	case StateLoggedOut, StateExpired, StateFailed:
	case StateTOTPPending:
		return nil
	default:
		return apperrors.Wrapf(apperrors.ErrInvalidState, "cannot request TOTP in state %s", state)
	}

	if err := security.ValidateMobile(s.creds.Mobile); err != nil {
		return err
	}
	if err := security.ValidateUCC(s.creds.UCC); err != nil {
		return err
	}
	if err := security.ValidateConsumerKey(s.creds.ConsumerKey); err != nil {
		return err
	}

	s.transition(StateTOTPPending)
	return nil
}

// VerifyTOTP submits the TOTP code. Only legal in TOTP_PENDING; a
// rejected code leaves the state unchanged so the user can retry.
func (s *SessionManager) VerifyTOTP(ctx context.Context, code string) error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	if state != StateTOTPPending {
		return apperrors.Wrapf(apperrors.ErrInvalidState, "cannot verify TOTP in state %s", state)
	}

	if err := security.ValidateTOTPCode(code); err != nil {
		return err
	}

	view, err := s.broker.TOTPLogin(ctx, s.creds.Mobile, s.creds.UCC, code)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAuthRejected) {
			s.logger.Warn().Msg("totp rejected")
			return err
		}
		return err
	}

	s.mu.Lock()
	s.viewToken = view
	s.mu.Unlock()

	s.transition(StateTOTPVerified)
	return nil
}

// Login submits the MPIN and establishes the session. Only legal in
// TOTP_VERIFIED; a rejection moves to FAILED and the flow restarts
// from RequestTOTP.
func (s *SessionManager) Login(ctx context.Context) error {
	s.mu.RLock()
	state := s.state
	view := s.viewToken
	s.mu.RUnlock()

	if state != StateTOTPVerified {
		return apperrors.Wrapf(apperrors.ErrInvalidState, "cannot login in state %s", state)
	}

	if err := security.ValidateMPIN(s.creds.MPIN); err != nil {
		return err
	}

	s.transition(StateMPINPending)

	session, err := s.broker.TOTPValidate(ctx, view, s.creds.MPIN)
	if err != nil {
		s.transition(StateFailed)
		return err
	}

	s.mu.Lock()
	s.session = session
	s.viewToken = nil
	s.mu.Unlock()

	s.transition(StateLoggedIn)
	return nil
}

// MarkExpired records a server-side session expiry. Only meaningful
// when logged in.
func (s *SessionManager) MarkExpired() {
	s.mu.Lock()
	if s.state != StateLoggedIn {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.mu.Unlock()

	s.transition(StateExpired)
}

// Logout ends the session. Idempotent from any state.
func (s *SessionManager) Logout(ctx context.Context) error {
	s.mu.Lock()
	alreadyOut := s.state == StateLoggedOut
	s.session = nil
	s.viewToken = nil
	s.mu.Unlock()

	if alreadyOut {
		return nil
	}

	if err := s.broker.Logout(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("broker logout failed, clearing local session anyway")
	}

	s.transition(StateLoggedOut)
	return nil
}

// SessionAge returns how long the current session has been live,
// or zero when not logged in.
func (s *SessionManager) SessionAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return 0
	}
	return time.Since(s.session.IssuedAt)
}
