package store

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
//
// Read-write transactions are serialized by a single write lock and work on a
// copy of the state that replaces the committed state only when fn succeeds.
// View runs against the committed state under a read lock.
type MemoryStore struct {
	mu     sync.RWMutex
	state  *memState
	closed bool
}

type memState struct {
	users    map[string]User
	oauth    map[string]OAuthAccount
	sessions map[string]Session
	refresh  map[string]RefreshToken
	onetime  map[OneTimeKind]map[string]OneTimeToken
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	st := &memState{
		users:    make(map[string]User),
		oauth:    make(map[string]OAuthAccount),
		sessions: make(map[string]Session),
		refresh:  make(map[string]RefreshToken),
		onetime:  make(map[OneTimeKind]map[string]OneTimeToken, len(OneTimeKinds)),
	}
	for _, k := range OneTimeKinds {
		st.onetime[k] = make(map[string]OneTimeToken)
	}
	return &MemoryStore{state: st}
}

func (s *memState) clone() *memState {
	out := &memState{
		users:    maps.Clone(s.users),
		oauth:    maps.Clone(s.oauth),
		sessions: maps.Clone(s.sessions),
		refresh:  maps.Clone(s.refresh),
		onetime:  make(map[OneTimeKind]map[string]OneTimeToken, len(s.onetime)),
	}
	for k, m := range s.onetime {
		out.onetime[k] = maps.Clone(m)
	}
	return out
}

// InTx implements Store.
func (m *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	next := m.state.clone()
	if err := fn(&memTx{st: next}); err != nil {
		return err
	}
	// A cancelled caller never commits.
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = next
	return nil
}

// View implements Store.
func (m *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return fn(&memTx{st: m.state, readOnly: true})
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

type memTx struct {
	st       *memState
	readOnly bool
}

func (t *memTx) write(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

// ---- users ----

func (t *memTx) CreateUser(ctx context.Context, u *User) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.st.users[u.ID]; ok {
		return &ConflictError{Field: "id"}
	}
	for _, other := range t.st.users {
		if !other.IsDeleted && other.EmailNorm == u.EmailNorm {
			return &ConflictError{Field: "email"}
		}
	}
	t.st.users[u.ID] = *u
	return nil
}

func (t *memTx) UserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	u, ok := t.st.users[id]
	if !ok || u.IsDeleted {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (t *memTx) UserByEmail(ctx context.Context, emailNorm string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	for _, u := range t.st.users {
		if !u.IsDeleted && u.EmailNorm == emailNorm {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (t *memTx) UpdateUser(ctx context.Context, u *User) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	cur, ok := t.st.users[u.ID]
	if !ok || cur.IsDeleted {
		return ErrNotFound
	}
	t.st.users[u.ID] = *u
	return nil
}

// ---- oauth accounts ----

func (t *memTx) CreateOAuthAccount(ctx context.Context, a *OAuthAccount) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if u, ok := t.st.users[a.UserID]; !ok || u.IsDeleted {
		return ErrNotFound
	}
	if _, ok := t.st.oauth[a.ID]; ok {
		return &ConflictError{Field: "id"}
	}
	for _, other := range t.st.oauth {
		if !other.IsDeleted && other.Provider == a.Provider && other.ProviderAccountID == a.ProviderAccountID {
			return &ConflictError{Field: "oauth_account"}
		}
	}
	t.st.oauth[a.ID] = *a
	return nil
}

func (t *memTx) OAuthAccountByProvider(ctx context.Context, provider, providerAccountID string) (OAuthAccount, error) {
	if err := ctx.Err(); err != nil {
		return OAuthAccount{}, err
	}
	for _, a := range t.st.oauth {
		if !a.IsDeleted && a.Provider == provider && a.ProviderAccountID == providerAccountID {
			return a, nil
		}
	}
	return OAuthAccount{}, ErrNotFound
}

func (t *memTx) UpdateOAuthAccount(ctx context.Context, a *OAuthAccount) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	cur, ok := t.st.oauth[a.ID]
	if !ok || cur.IsDeleted {
		return ErrNotFound
	}
	t.st.oauth[a.ID] = *a
	return nil
}

func (t *memTx) DeleteOAuthAccountsByUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	if err := t.write(ctx); err != nil {
		return 0, err
	}
	var n int64
	for id, a := range t.st.oauth {
		if a.UserID != userID || a.IsDeleted {
			continue
		}
		a.MarkDeleted(now)
		t.st.oauth[id] = a
		n++
	}
	return n, nil
}

// ---- sessions ----

func (t *memTx) CreateSession(ctx context.Context, s *Session) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if u, ok := t.st.users[s.UserID]; !ok || u.IsDeleted {
		return ErrNotFound
	}
	if _, ok := t.st.sessions[s.ID]; ok {
		return &ConflictError{Field: "id"}
	}
	t.st.sessions[s.ID] = *s
	return nil
}

func (t *memTx) SessionByID(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s, ok := t.st.sessions[id]
	if !ok || s.IsDeleted {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// LockSession is a plain read: the write lock already serializes InTx.
func (t *memTx) LockSession(ctx context.Context, id string) (Session, error) {
	if t.readOnly {
		return Session{}, ErrReadOnly
	}
	return t.SessionByID(ctx, id)
}

func (t *memTx) SessionsByUser(ctx context.Context, userID string, activeOnly bool) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Session
	for _, s := range t.st.sessions {
		if s.UserID != userID || s.IsDeleted || (activeOnly && !s.IsActive) {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Session) int {
		if c := b.LastActivityAt.Compare(a.LastActivityAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (t *memTx) TouchSession(ctx context.Context, now time.Time, id string) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	s, ok := t.st.sessions[id]
	if !ok || s.IsDeleted {
		return ErrNotFound
	}
	s.LastActivityAt = now
	s.Touch(now)
	t.st.sessions[id] = s
	return nil
}

func (t *memTx) DeactivateSession(ctx context.Context, now time.Time, id, reason string) (bool, error) {
	if err := t.write(ctx); err != nil {
		return false, err
	}
	s, ok := t.st.sessions[id]
	if !ok || s.IsDeleted {
		return false, ErrNotFound
	}
	if !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	s.RevokedAt = &now
	s.RevokedReason = reason
	s.Touch(now)
	t.st.sessions[id] = s
	return true, nil
}

func (t *memTx) DeleteSessionsByUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	if err := t.write(ctx); err != nil {
		return 0, err
	}
	var n int64
	for id, s := range t.st.sessions {
		if s.UserID != userID || s.IsDeleted {
			continue
		}
		if s.IsActive {
			s.IsActive = false
			s.RevokedAt = &now
			s.RevokedReason = "account_deleted"
		}
		s.MarkDeleted(now)
		t.st.sessions[id] = s
		n++
	}
	return n, nil
}

// ---- refresh tokens ----

func (t *memTx) CreateRefreshToken(ctx context.Context, rt *RefreshToken) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if s, ok := t.st.sessions[rt.SessionID]; !ok || s.IsDeleted {
		return ErrNotFound
	}
	if _, ok := t.st.refresh[rt.ID]; ok {
		return &ConflictError{Field: "id"}
	}
	t.st.refresh[rt.ID] = *rt
	return nil
}

func (t *memTx) RefreshTokenByID(ctx context.Context, id string) (RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return RefreshToken{}, err
	}
	rt, ok := t.st.refresh[id]
	if !ok || rt.IsDeleted {
		return RefreshToken{}, ErrNotFound
	}
	return rt, nil
}

// LockRefreshToken is a plain read: the write lock already serializes InTx.
func (t *memTx) LockRefreshToken(ctx context.Context, id string) (RefreshToken, error) {
	if t.readOnly {
		return RefreshToken{}, ErrReadOnly
	}
	return t.RefreshTokenByID(ctx, id)
}

func (t *memTx) RefreshTokensBySession(ctx context.Context, sessionID string) ([]RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []RefreshToken
	for _, rt := range t.st.refresh {
		if rt.SessionID == sessionID && !rt.IsDeleted {
			out = append(out, rt)
		}
	}
	slices.SortFunc(out, func(a, b RefreshToken) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *memTx) RetireRefreshToken(ctx context.Context, now time.Time, id, reason string, replacedBy *string) (bool, error) {
	if err := t.write(ctx); err != nil {
		return false, err
	}
	rt, ok := t.st.refresh[id]
	if !ok || rt.IsDeleted {
		return false, ErrNotFound
	}
	if rt.IsRevoked {
		return false, nil
	}
	rt.IsRevoked = true
	rt.RevokedAt = &now
	rt.RevokedReason = reason
	rt.ReplacedByID = replacedBy
	rt.Touch(now)
	t.st.refresh[id] = rt
	return true, nil
}

func (t *memTx) RevokeRefreshTokensBySession(ctx context.Context, now time.Time, sessionID, reason string) (int64, error) {
	if err := t.write(ctx); err != nil {
		return 0, err
	}
	var n int64
	for id, rt := range t.st.refresh {
		if rt.SessionID != sessionID || rt.IsDeleted || rt.IsRevoked {
			continue
		}
		rt.IsRevoked = true
		rt.RevokedAt = &now
		rt.RevokedReason = reason
		rt.Touch(now)
		t.st.refresh[id] = rt
		n++
	}
	return n, nil
}

func (t *memTx) DeleteRefreshTokensByUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	if err := t.write(ctx); err != nil {
		return 0, err
	}
	var n int64
	for id, rt := range t.st.refresh {
		if rt.UserID != userID || rt.IsDeleted {
			continue
		}
		if !rt.IsRevoked {
			rt.IsRevoked = true
			rt.RevokedAt = &now
			rt.RevokedReason = "account_deleted"
		}
		rt.MarkDeleted(now)
		t.st.refresh[id] = rt
		n++
	}
	return n, nil
}

// ---- one-time tokens ----

func (t *memTx) onetimeTable(kind OneTimeKind) (map[string]OneTimeToken, error) {
	m, ok := t.st.onetime[kind]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

func (t *memTx) CreateOneTimeToken(ctx context.Context, ot *OneTimeToken) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	m, err := t.onetimeTable(ot.Kind)
	if err != nil {
		return err
	}
	if u, ok := t.st.users[ot.UserID]; !ok || u.IsDeleted {
		return ErrNotFound
	}
	if _, ok := m[ot.ID]; ok {
		return &ConflictError{Field: "id"}
	}
	m[ot.ID] = *ot
	return nil
}

func (t *memTx) OneTimeTokenByID(ctx context.Context, kind OneTimeKind, id string) (OneTimeToken, error) {
	if err := ctx.Err(); err != nil {
		return OneTimeToken{}, err
	}
	m, err := t.onetimeTable(kind)
	if err != nil {
		return OneTimeToken{}, err
	}
	ot, ok := m[id]
	if !ok || ot.IsDeleted {
		return OneTimeToken{}, ErrNotFound
	}
	return ot, nil
}

func (t *memTx) LockOneTimeToken(ctx context.Context, kind OneTimeKind, id string) (OneTimeToken, error) {
	if t.readOnly {
		return OneTimeToken{}, ErrReadOnly
	}
	return t.OneTimeTokenByID(ctx, kind, id)
}

func (t *memTx) ConsumeOneTimeToken(ctx context.Context, now time.Time, kind OneTimeKind, id string) (bool, error) {
	if err := t.write(ctx); err != nil {
		return false, err
	}
	m, err := t.onetimeTable(kind)
	if err != nil {
		return false, err
	}
	ot, ok := m[id]
	if !ok || ot.IsDeleted {
		return false, ErrNotFound
	}
	if ot.IsUsed {
		return false, nil
	}
	ot.IsUsed = true
	ot.UsedAt = &now
	ot.Touch(now)
	m[id] = ot
	return true, nil
}

func (t *memTx) SupersedeOneTimeTokens(ctx context.Context, now time.Time, kind OneTimeKind, userID string) (int64, error) {
	if err := t.write(ctx); err != nil {
		return 0, err
	}
	m, err := t.onetimeTable(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	for id, ot := range m {
		if ot.UserID != userID || ot.IsDeleted || ot.IsUsed {
			continue
		}
		ot.MarkDeleted(now)
		m[id] = ot
		n++
	}
	return n, nil
}

func (t *memTx) DeleteOneTimeTokensByUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	if err := t.write(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, m := range t.st.onetime {
		for id, ot := range m {
			if ot.UserID != userID || ot.IsDeleted {
				continue
			}
			ot.MarkDeleted(now)
			m[id] = ot
			n++
		}
	}
	return n, nil
}

// ---- hygiene ----

func (t *memTx) SweepExpired(ctx context.Context, now, cutoff time.Time) (SweepStats, error) {
	if err := t.write(ctx); err != nil {
		return SweepStats{}, err
	}

	var st SweepStats
	for id, s := range t.st.sessions {
		if s.IsDeleted || s.IsActive || !s.LastActivityAt.Before(cutoff) {
			continue
		}
		s.MarkDeleted(now)
		t.st.sessions[id] = s
		st.Sessions++
	}
	for id, rt := range t.st.refresh {
		if rt.IsDeleted {
			continue
		}
		if !rt.ExpiresAt.Before(cutoff) && !t.st.sessions[rt.SessionID].IsDeleted {
			continue
		}
		rt.MarkDeleted(now)
		t.st.refresh[id] = rt
		st.RefreshTokens++
	}
	for _, m := range t.st.onetime {
		for id, ot := range m {
			if ot.IsDeleted || !ot.ExpiresAt.Before(cutoff) {
				continue
			}
			ot.MarkDeleted(now)
			m[id] = ot
			st.OneTimeTokens++
		}
	}
	return st, nil
}
