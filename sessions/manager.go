package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/oidcguard/storage"
	"github.com/ggoodman/oidcguard/strategy"
	"github.com/google/uuid"
)

const recordKey = "user"

// Errors returned by the manager.
var (
	ErrNoSession      = errors.New("sessions: no session")
	ErrInvalidCookie  = errors.New("sessions: invalid session cookie")
	ErrSessionExpired = errors.New("sessions: session expired")
)

// Config configures the session cookie.
type Config struct {
	// CookieName defaults to "oidcguard_session".
	CookieName string
	// TTL bounds both the cookie and the stored record. Defaults to 8h.
	TTL time.Duration
	// Secure marks the cookie Secure. Enable whenever served over TLS.
	Secure bool
	// Path defaults to "/".
	Path string
}

func (c *Config) applyDefaults() {
	if c.CookieName == "" {
		c.CookieName = "oidcguard_session"
	}
	if c.TTL <= 0 {
		c.TTL = 8 * time.Hour
	}
	if c.Path == "" {
		c.Path = "/"
	}
}

// Session is a loaded session.
type Session struct {
	ID        string
	Subject   string
	User      *strategy.User
	ExpiresAt time.Time
}

// cookieClaims is the signed cookie payload.
type cookieClaims struct {
	SessionID string `json:"sid"`
	Subject   string `json:"sub"`
	Expiry    int64  `json:"exp"`
}

// Manager creates, loads and destroys sessions. It is safe for concurrent
// use.
type Manager struct {
	store  storage.Storage
	signer *Signer
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store storage.Storage, signer *Signer, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("sessions: storage is required")
	}
	if signer == nil {
		return nil, errors.New("sessions: signer is required")
	}
	cfg.applyDefaults()
	m := &Manager{
		store:  store,
		signer: signer,
		cfg:    cfg,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cfg.CookieName }

// Create persists user as a new session and sets the session cookie on w.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter, user *strategy.User) (*Session, error) {
	if user == nil {
		return nil, errors.New("sessions: user is required")
	}
	sess := &Session{
		ID:        uuid.NewString(),
		User:      user,
		ExpiresAt: m.now().Add(m.cfg.TTL).Truncate(time.Second),
	}
	sess.Subject = subjectOf(user, sess.ID)

	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}

	value, err := m.signer.Sign(mustJSON(cookieClaims{
		SessionID: sess.ID,
		Subject:   sess.Subject,
		Expiry:    sess.ExpiresAt.Unix(),
	}))
	if err != nil {
		return nil, fmt.Errorf("sessions: sign cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     m.cfg.Path,
		Expires:  sess.ExpiresAt,
		MaxAge:   int(m.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	m.log.InfoContext(ctx, "session created", slog.String("session_id", sess.ID), slog.String("subject", sess.Subject))
	return sess, nil
}

// Update replaces the stored user of sess, keeping its id and expiry.
func (m *Manager) Update(ctx context.Context, sess *Session, user *strategy.User) error {
	if sess == nil || user == nil {
		return errors.New("sessions: session and user are required")
	}
	next := *sess
	next.User = user
	if err := m.save(ctx, &next); err != nil {
		return err
	}
	sess.User = user
	return nil
}

func (m *Manager) save(ctx context.Context, sess *Session) error {
	ttl := sess.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return ErrSessionExpired
	}
	data, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("sessions: encode user: %w", err)
	}
	if err := m.store.Set(ctx, recordKey, data,
		storage.WithUserSession(sess.Subject, sess.ID),
		storage.WithTTL(ttl),
	); err != nil {
		return fmt.Errorf("sessions: store session: %w", err)
	}
	return nil
}

// Load returns the session named by r's cookie. It returns ErrNoSession when
// there is no cookie or no stored record, and ErrInvalidCookie when the
// cookie does not verify.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}

	payload, err := m.signer.Verify(c.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCookie, err)
	}
	var claims cookieClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrInvalidCookie
	}
	expiresAt := time.Unix(claims.Expiry, 0)
	if !m.now().Before(expiresAt) {
		return nil, ErrSessionExpired
	}

	item, err := m.store.Get(r.Context(), recordKey, storage.WithUserSession(claims.Subject, claims.SessionID))
	if err != nil {
		return nil, fmt.Errorf("sessions: load session: %w", err)
	}
	if item == nil {
		return nil, ErrNoSession
	}

	var user strategy.User
	if err := json.Unmarshal(item.Data, &user); err != nil {
		return nil, fmt.Errorf("sessions: decode user: %w", err)
	}
	return &Session{
		ID:        claims.SessionID,
		Subject:   claims.Subject,
		User:      &user,
		ExpiresAt: expiresAt,
	}, nil
}

// IsAuthenticated reports whether r carries a valid session. It has the
// shape of guard.SessionCheck.
func (m *Manager) IsAuthenticated(r *http.Request) bool {
	if r == nil {
		return false
	}
	if sess, ok := FromContext(r.Context()); ok && sess != nil {
		return true
	}
	_, err := m.Load(r)
	if err != nil && !errors.Is(err, ErrNoSession) {
		m.log.DebugContext(r.Context(), "session rejected", slog.String("err", err.Error()))
	}
	return err == nil
}

// Destroy deletes the session named by r's cookie, if any, and clears the
// cookie on w. Destroying without a session is not an error.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	m.clearCookie(w)

	sess, err := m.Load(r)
	if err != nil {
		if errors.Is(err, ErrNoSession) || errors.Is(err, ErrInvalidCookie) || errors.Is(err, ErrSessionExpired) {
			return nil
		}
		return err
	}
	if err := m.store.Delete(ctx, storage.WithUserSession(sess.Subject, sess.ID)); err != nil {
		return fmt.Errorf("sessions: delete session: %w", err)
	}
	m.log.InfoContext(ctx, "session destroyed", slog.String("session_id", sess.ID), slog.String("subject", sess.Subject))
	return nil
}

// DestroyUser deletes every session belonging to subject.
func (m *Manager) DestroyUser(ctx context.Context, subject string) error {
	if subject == "" {
		return errors.New("sessions: subject is required")
	}
	if err := m.store.Delete(ctx, storage.WithUser(subject)); err != nil {
		return fmt.Errorf("sessions: delete user sessions: %w", err)
	}
	m.log.InfoContext(ctx, "user sessions destroyed", slog.String("subject", subject))
	return nil
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.Path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// subjectOf picks the namespace owner for a session: the "sub" claim, then
// the username, then the session id itself.
func subjectOf(user *strategy.User, sessionID string) string {
	if sub := user.Subject(); sub != "" {
		return sub
	}
	if name := user.Username(); name != "" {
		return name
	}
	return sessionID
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
