// Package file implements file-based storage using JSON files.
//
// Every read-modify-write runs entirely under the store-wide write lock, so
// conditional transitions such as token consumption behave like an atomic
// UPDATE ... WHERE against shared state.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aldari-app/sso-gateway/internal/domain"
	ssoerrors "github.com/aldari-app/sso-gateway/internal/errors"
	"github.com/aldari-app/sso-gateway/internal/store"
)

// Store implements store.Store using JSON files for persistence.
type Store struct {
	dataDir string
	mu      sync.RWMutex

	users          *userRepository
	sessions       *sessionRepository
	tokens         *tokenRepository
	securityEvents *securityEventRepository
	ipReputations  *ipReputationRepository
}

// NewStore creates a new file-based store.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		dataDir: dataDir,
	}

	s.users = &userRepository{store: s}
	s.sessions = &sessionRepository{store: s}
	s.tokens = &tokenRepository{store: s}
	s.securityEvents = &securityEventRepository{store: s}
	s.ipReputations = &ipReputationRepository{store: s}

	return s, nil
}

func (s *Store) Users() store.UserRepository { return s.users }

func (s *Store) Sessions() store.SessionRepository { return s.sessions }

func (s *Store) Tokens() store.TokenRepository { return s.tokens }

func (s *Store) SecurityEvents() store.SecurityEventRepository { return s.securityEvents }

func (s *Store) IPReputations() store.IPReputationRepository { return s.ipReputations }

func (s *Store) Close() error { return nil }

// Helper methods for file operations. Callers hold the appropriate lock.

func (s *Store) filePath(name string) string {
	return filepath.Join(s.dataDir, name+".json")
}

func (s *Store) loadLocked(name string, v any) error {
	data, err := os.ReadFile(s.filePath(name))
	if os.IsNotExist(err) {
		return nil // Empty collection
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) saveLocked(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath(name), data, 0600)
}

// User Repository

type userRepository struct {
	store *Store
}

type usersData struct {
	Users []*domain.User `json:"users"`
}

func (r *userRepository) load() (*usersData, error) {
	var data usersData
	if err := r.store.loadLocked("users", &data); err != nil {
		return nil, err
	}
	if data.Users == nil {
		data.Users = []*domain.User{}
	}
	return &data, nil
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load users", err)
	}

	for _, u := range data.Users {
		if u.ID == user.ID {
			return ssoerrors.AlreadyExists("user", user.ID)
		}
		if u.Email == user.Email {
			return ssoerrors.AlreadyExists("user with email", user.Email)
		}
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	data.Users = append(data.Users, user)

	return r.store.saveLocked("users", data)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load users", err)
	}

	for _, u := range data.Users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ssoerrors.NotFound("user", id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load users", err)
	}

	for _, u := range data.Users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ssoerrors.NotFound("user with email", email)
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load users", err)
	}

	for i, u := range data.Users {
		if u.ID == user.ID {
			user.UpdatedAt = time.Now()
			data.Users[i] = user
			return r.store.saveLocked("users", data)
		}
	}
	return ssoerrors.NotFound("user", user.ID)
}

func (r *userRepository) List(ctx context.Context) ([]*domain.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load users", err)
	}
	return data.Users, nil
}

// Session Repository

type sessionRepository struct {
	store *Store
}

type sessionsData struct {
	Sessions []*domain.Session `json:"sessions"`
}

func (r *sessionRepository) load() (*sessionsData, error) {
	var data sessionsData
	if err := r.store.loadLocked("sessions", &data); err != nil {
		return nil, err
	}
	if data.Sessions == nil {
		data.Sessions = []*domain.Session{}
	}
	return &data, nil
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load sessions", err)
	}

	data.Sessions = append(data.Sessions, session)

	return r.store.saveLocked("sessions", data)
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load sessions", err)
	}

	for _, s := range data.Sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ssoerrors.NotFound("session", id)
}

func (r *sessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load sessions", err)
	}

	for _, s := range data.Sessions {
		if s.ID == id {
			s.LastActivity = at
			return r.store.saveLocked("sessions", data)
		}
	}
	return ssoerrors.NotFound("session", id)
}

func (r *sessionRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load sessions", err)
	}

	for i, s := range data.Sessions {
		if s.ID == id {
			data.Sessions = append(data.Sessions[:i], data.Sessions[i+1:]...)
			return r.store.saveLocked("sessions", data)
		}
	}
	return ssoerrors.NotFound("session", id)
}

func (r *sessionRepository) RevokeByUserID(ctx context.Context, userID, reason string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return 0, ssoerrors.Internal("failed to load sessions", err)
	}

	count := 0
	for _, s := range data.Sessions {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			s.RevokedReason = reason
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}

	return count, r.store.saveLocked("sessions", data)
}

func (r *sessionRepository) CountActiveByUserID(ctx context.Context, userID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	data, err := r.load()
	if err != nil {
		return 0, ssoerrors.Internal("failed to load sessions", err)
	}

	count := 0
	for _, s := range data.Sessions {
		if s.UserID == userID && s.IsValid() {
			count++
		}
	}
	return count, nil
}

func (r *sessionRepository) DeleteExpired(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load sessions", err)
	}

	now := time.Now()
	filtered := make([]*domain.Session, 0, len(data.Sessions))
	for _, s := range data.Sessions {
		if s.ExpiresAt.After(now) {
			filtered = append(filtered, s)
		}
	}
	data.Sessions = filtered

	return r.store.saveLocked("sessions", data)
}

// Token Repository

type tokenRepository struct {
	store *Store
}

type tokensData struct {
	Tokens []*domain.CrossDomainToken `json:"tokens"`
}

func (r *tokenRepository) load() (*tokensData, error) {
	var data tokensData
	if err := r.store.loadLocked("tokens", &data); err != nil {
		return nil, err
	}
	if data.Tokens == nil {
		data.Tokens = []*domain.CrossDomainToken{}
	}
	return &data, nil
}

func (r *tokenRepository) Create(ctx context.Context, token *domain.CrossDomainToken) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load tokens", err)
	}

	for _, t := range data.Tokens {
		if t.ID == token.ID {
			return ssoerrors.AlreadyExists("token", token.ID)
		}
	}

	data.Tokens = append(data.Tokens, token)

	return r.store.saveLocked("tokens", data)
}

func (r *tokenRepository) GetByID(ctx context.Context, id string) (*domain.CrossDomainToken, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load tokens", err)
	}

	for _, t := range data.Tokens {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, ssoerrors.NotFound("token", id)
}

// Consume flips the consumed flag iff it is still false. The load, the
// check, and the save all happen under the write lock, so only one of any
// number of concurrent callers can win.
func (r *tokenRepository) Consume(ctx context.Context, id string) (*domain.CrossDomainToken, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load tokens", err)
	}

	for _, t := range data.Tokens {
		if t.ID != id {
			continue
		}
		if t.Consumed {
			return nil, ssoerrors.New(ssoerrors.CodeTokenReplay, "token already used")
		}
		if t.IsExpired() {
			return nil, ssoerrors.New(ssoerrors.CodeTokenExpired, "token expired")
		}
		t.Consumed = true
		t.ConsumedAt = time.Now()
		if err := r.store.saveLocked("tokens", data); err != nil {
			return nil, ssoerrors.Internal("failed to save tokens", err)
		}
		return t, nil
	}
	return nil, ssoerrors.New(ssoerrors.CodeTokenInvalid, "unknown token")
}

func (r *tokenRepository) ConsumeByUserID(ctx context.Context, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load tokens", err)
	}

	changed := false
	now := time.Now()
	for _, t := range data.Tokens {
		if t.Payload.UserID == userID && !t.Consumed {
			t.Consumed = true
			t.ConsumedAt = now
			changed = true
		}
	}
	if !changed {
		return nil
	}

	return r.store.saveLocked("tokens", data)
}

func (r *tokenRepository) DeleteExpired(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load tokens", err)
	}

	now := time.Now()
	filtered := make([]*domain.CrossDomainToken, 0, len(data.Tokens))
	for _, t := range data.Tokens {
		if t.ExpiresAt.After(now) {
			filtered = append(filtered, t)
		}
	}
	data.Tokens = filtered

	return r.store.saveLocked("tokens", data)
}

// SecurityEvent Repository

type securityEventRepository struct {
	store *Store
}

type securityEventsData struct {
	Events []*domain.SecurityEvent `json:"events"`
}

func (r *securityEventRepository) load() (*securityEventsData, error) {
	var data securityEventsData
	if err := r.store.loadLocked("security_events", &data); err != nil {
		return nil, err
	}
	if data.Events == nil {
		data.Events = []*domain.SecurityEvent{}
	}
	return &data, nil
}

func (r *securityEventRepository) Append(ctx context.Context, event *domain.SecurityEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load security events", err)
	}

	data.Events = append(data.Events, event)

	return r.store.saveLocked("security_events", data)
}

func (r *securityEventRepository) List(ctx context.Context, limit int) ([]*domain.SecurityEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load security events", err)
	}

	events := data.Events
	if limit > 0 && len(events) > limit {
		// Most recent entries are at the tail.
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (r *securityEventRepository) ListByIP(ctx context.Context, ip string) ([]*domain.SecurityEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load security events", err)
	}

	var events []*domain.SecurityEvent
	for _, e := range data.Events {
		if e.IPAddress == ip {
			events = append(events, e)
		}
	}
	return events, nil
}

func (r *securityEventRepository) CountUnresolvedByUser(ctx context.Context, userID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	data, err := r.load()
	if err != nil {
		return 0, ssoerrors.Internal("failed to load security events", err)
	}

	count := 0
	for _, e := range data.Events {
		if e.UserID == userID && !e.Resolved {
			count++
		}
	}
	return count, nil
}

func (r *securityEventRepository) ResolveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return 0, ssoerrors.Internal("failed to load security events", err)
	}

	count := 0
	for _, e := range data.Events {
		if e.Severity == domain.SeverityLow && !e.Resolved && e.CreatedAt.Before(cutoff) {
			e.Resolved = true
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}

	return count, r.store.saveLocked("security_events", data)
}

// IPReputation Repository

type ipReputationRepository struct {
	store *Store
}

type ipReputationsData struct {
	Reputations []*domain.IPReputation `json:"reputations"`
}

func (r *ipReputationRepository) load() (*ipReputationsData, error) {
	var data ipReputationsData
	if err := r.store.loadLocked("ip_reputations", &data); err != nil {
		return nil, err
	}
	if data.Reputations == nil {
		data.Reputations = []*domain.IPReputation{}
	}
	return &data, nil
}

func (r *ipReputationRepository) Get(ctx context.Context, ip string) (*domain.IPReputation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load ip reputations", err)
	}

	for _, rep := range data.Reputations {
		if rep.IPAddress == ip {
			return rep, nil
		}
	}
	return nil, ssoerrors.NotFound("ip reputation", ip)
}

func (r *ipReputationRepository) Upsert(ctx context.Context, rep *domain.IPReputation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load ip reputations", err)
	}

	rep.UpdatedAt = time.Now()
	for i, existing := range data.Reputations {
		if existing.IPAddress == rep.IPAddress {
			data.Reputations[i] = rep
			return r.store.saveLocked("ip_reputations", data)
		}
	}
	data.Reputations = append(data.Reputations, rep)

	return r.store.saveLocked("ip_reputations", data)
}

func (r *ipReputationRepository) SetBlocked(ctx context.Context, ip string, blocked bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return ssoerrors.Internal("failed to load ip reputations", err)
	}

	for _, rep := range data.Reputations {
		if rep.IPAddress == ip {
			rep.Blocked = blocked
			rep.UpdatedAt = time.Now()
			return r.store.saveLocked("ip_reputations", data)
		}
	}
	return ssoerrors.NotFound("ip reputation", ip)
}
