package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"ResearchChat/logger"
	"ResearchChat/module/user/model"
	"ResearchChat/module/user/store"
	"ResearchChat/service/metrics"
	"ResearchChat/tools/clock"
	"ResearchChat/tools/errs"
	"ResearchChat/tools/ids"
	"ResearchChat/tools/safe"
	"ResearchChat/tools/security"

	"go.uber.org/zap"
)

// SessionCloser tears down live sockets bound to sessions. The connection
// registry implements it; it is wired after construction via SetCloser. The
// store itself only closes by session id.
type SessionCloser interface {
	CloseSession(sessionID, reason string)
	CloseAllSessionsForUser(userID, exceptSessionID, reason string)
}

type Options struct {
	JWT           security.Options
	SweepInterval time.Duration // 过期会话清理周期（默认 1m）
	Clock         clock.Clock
}

func (o *Options) norm() {
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.JWT.Now == nil {
		o.JWT.Now = o.Clock.Now
	}
}

type CheckResult struct {
	User             *model.User
	ExistingSessions []model.SessionInfo
}

type AuthResult struct {
	User      *model.User
	Token     string
	SessionID string
	ExpireAt  time.Time
}

// SessionStore owns password checks and the session table, and keeps at
// most one session per user.
type SessionStore struct {
	opts     Options
	users    store.UserRepo
	archiver store.SessionArchiver

	mu       sync.Mutex
	sessions map[string]*model.UserSession  // sessionID -> session
	byUser   map[string]map[string]struct{} // userID -> sessionIDs
	closer   SessionCloser

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewSessionStore(users store.UserRepo, archiver store.SessionArchiver, opts Options) *SessionStore {
	safe.MustNotNil(users, "users")
	opts.norm()
	if archiver == nil {
		archiver = &store.MemoryArchiver{}
	}
	return &SessionStore{
		opts:     opts,
		users:    users,
		archiver: archiver,
		sessions: make(map[string]*model.UserSession),
		byUser:   make(map[string]map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

func (s *SessionStore) SetCloser(c SessionCloser) {
	s.mu.Lock()
	s.closer = c
	s.mu.Unlock()
}

// ===== credentials =====

// lookup verifies email/password. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *SessionStore) lookup(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		security.BurnPassword(password)
		if !errors.Is(err, errs.ErrRecordNotFound) {
			logger.Warn("user lookup failed", zap.String("email", email), zap.Error(err))
		}
		return nil, errs.ErrAuthFailed.WrapMsg("lookup", "email", email)
	}
	if !security.CheckPassword(u.PasswordHash, password) {
		return nil, errs.ErrAuthFailed.WrapMsg("password mismatch", "user_id", u.UserID)
	}
	if !u.Active() {
		return nil, errs.ErrAuthFailed.WrapMsg("user inactive", "user_id", u.UserID)
	}
	return u, nil
}

// CheckCredentials verifies the password and lists the user's live sessions
// without touching session state.
func (s *SessionStore) CheckCredentials(ctx context.Context, email, password string) (*CheckResult, error) {
	u, err := s.lookup(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return &CheckResult{User: u, ExistingSessions: s.ActiveSessions(u.UserID)}, nil
}

// AuthenticateUser verifies credentials, then in one critical section mints
// a new session and token and drops every older session of the user. Sockets
// of the dropped sessions are closed after the lock is released.
func (s *SessionStore) AuthenticateUser(ctx context.Context, email, password string, meta model.ClientMetadata) (*AuthResult, error) {
	u, err := s.lookup(ctx, email, password)
	if err != nil {
		return nil, err
	}

	sid := ids.NewSessionID()
	s.mu.Lock()
	token, hash, exp, err := security.Generate(s.opts.JWT, u.UserID, sid)
	if err != nil {
		s.mu.Unlock()
		logger.Error("token generate failed", zap.String("user_id", u.UserID), zap.Error(err))
		return nil, errs.ErrServerInternal.WrapMsg("generate token")
	}
	removed := s.removeUserLocked(u.UserID, "")
	now := s.opts.Clock.Now()
	s.insertLocked(&model.UserSession{
		SessionID:       sid,
		UserID:          u.UserID,
		AccessTokenHash: hash,
		CreatedAt:       now,
		LastActivity:    now,
		ExpireAt:        exp,
		Client:          meta,
	})
	closer := s.closer
	s.mu.Unlock()

	if len(removed) > 0 {
		logger.Info("previous sessions invalidated by new login",
			zap.String("user_id", u.UserID), zap.String("session_id", sid), zap.Int("count", len(removed)))
		closeRemoved(closer, removed, model.ReasonNewLogin)
		s.archive(removed, model.ReasonNewLogin)
	}
	logger.Info("user authenticated", zap.String("user_id", u.UserID), zap.String("session_id", sid))
	return &AuthResult{User: u, Token: token, SessionID: sid, ExpireAt: exp}, nil
}

// closeRemoved closes the sockets of the removed sessions only, never one
// minted after the unlock.
func closeRemoved(closer SessionCloser, removed []*model.UserSession, reason string) {
	if closer == nil {
		return
	}
	for _, r := range removed {
		closer.CloseSession(r.SessionID, reason)
	}
}

// ===== tokens =====

// VerifyToken checks the token and that its session is still live. Every
// failure is the same ErrAuthFailed; the cause only reaches the logs.
func (s *SessionStore) VerifyToken(token string) (*security.SessionClaims, error) {
	claims, err := security.Verify(s.opts.JWT, token)
	if err != nil {
		logger.Debug("token rejected", zap.Error(err))
		return nil, errs.ErrAuthFailed.WrapMsg("token invalid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[claims.SessionID]
	switch {
	case !ok:
		logger.Debug("token rejected: session revoked", zap.String("session_id", claims.SessionID))
		return nil, errs.ErrAuthFailed.WrapMsg("session revoked", "session_id", claims.SessionID)
	case sess.UserID != claims.UserID:
		return nil, errs.ErrAuthFailed.WrapMsg("session user mismatch", "session_id", claims.SessionID)
	case !security.TokenHashEqual(token, sess.AccessTokenHash):
		return nil, errs.ErrAuthFailed.WrapMsg("token hash mismatch", "session_id", claims.SessionID)
	}
	sess.LastActivity = s.opts.Clock.Now()
	return claims, nil
}

// ===== invalidation =====

// Logout removes one session. With skipSocketClose the caller owns the socket
// and is already closing it, so the closer is not called back.
func (s *SessionStore) Logout(sessionID string, skipSocketClose bool) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		s.deleteLocked(sess)
	}
	closer := s.closer
	s.mu.Unlock()
	if !ok {
		return false
	}

	if !skipSocketClose && closer != nil {
		closer.CloseSession(sessionID, model.ReasonLogout)
	}
	s.archive([]*model.UserSession{sess}, model.ReasonLogout)
	logger.Info("session logged out", zap.String("user_id", sess.UserID), zap.String("session_id", sessionID))
	return true
}

// InvalidateUserSessions drops every session of userID except exceptSessionID
// (empty for none) and closes their sockets.
func (s *SessionStore) InvalidateUserSessions(userID, exceptSessionID, reason string) []string {
	s.mu.Lock()
	removed := s.removeUserLocked(userID, exceptSessionID)
	closer := s.closer
	s.mu.Unlock()

	out := make([]string, 0, len(removed))
	for _, r := range removed {
		out = append(out, r.SessionID)
	}
	if len(removed) == 0 {
		return out
	}
	closeRemoved(closer, removed, reason)
	s.archive(removed, reason)
	logger.Info("user sessions invalidated",
		zap.String("user_id", userID), zap.Strings("session_ids", out), zap.String("reason", reason))
	return out
}

// SweepExpired drops sessions whose token expiry has passed.
func (s *SessionStore) SweepExpired() []string {
	now := s.opts.Clock.Now()
	s.mu.Lock()
	var expired []*model.UserSession
	for _, sess := range s.sessions {
		if sess.Expired(now) {
			expired = append(expired, sess)
		}
	}
	for _, sess := range expired {
		s.deleteLocked(sess)
	}
	closer := s.closer
	s.mu.Unlock()

	out := make([]string, 0, len(expired))
	for _, sess := range expired {
		out = append(out, sess.SessionID)
		if closer != nil {
			closer.CloseSession(sess.SessionID, model.ReasonExpired)
		}
	}
	if len(expired) > 0 {
		s.archive(expired, model.ReasonExpired)
		logger.Info("expired sessions swept", zap.Int("count", len(expired)))
	}
	return out
}

// ===== read =====

func (s *SessionStore) ActiveSessions(userID string) []model.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.byUser[userID]
	out := make([]model.SessionInfo, 0, len(set))
	for sid := range set {
		if sess, ok := s.sessions[sid]; ok {
			out = append(out, sess.Info())
		}
	}
	return out
}

func (s *SessionStore) Get(sessionID string) (model.UserSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return model.UserSession{}, false
	}
	return *sess, true
}

func (s *SessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) CountForUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser[userID])
}

// ===== lifecycle =====

func (s *SessionStore) Start() {
	safe.Go("session-sweeper", s.sweeper)
}

func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *SessionStore) sweeper() {
	t := time.NewTicker(s.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.SweepExpired()
		case <-s.stopCh:
			return
		}
	}
}

// ===== internal (hold mu) =====

func (s *SessionStore) insertLocked(sess *model.UserSession) {
	s.sessions[sess.SessionID] = sess
	set := s.byUser[sess.UserID]
	if set == nil {
		set = make(map[string]struct{})
		s.byUser[sess.UserID] = set
	}
	set[sess.SessionID] = struct{}{}
	metrics.Sessions.Set(float64(len(s.sessions)))
}

func (s *SessionStore) deleteLocked(sess *model.UserSession) {
	delete(s.sessions, sess.SessionID)
	if set := s.byUser[sess.UserID]; set != nil {
		delete(set, sess.SessionID)
		if len(set) == 0 {
			delete(s.byUser, sess.UserID)
		}
	}
	metrics.Sessions.Set(float64(len(s.sessions)))
}

func (s *SessionStore) removeUserLocked(userID, exceptSessionID string) []*model.UserSession {
	var removed []*model.UserSession
	for sid := range s.byUser[userID] {
		if sid == exceptSessionID {
			continue
		}
		if sess, ok := s.sessions[sid]; ok {
			removed = append(removed, sess)
		}
	}
	for _, sess := range removed {
		s.deleteLocked(sess)
	}
	return removed
}

func (s *SessionStore) archive(sessions []*model.UserSession, reason string) {
	if len(sessions) == 0 {
		return
	}
	now := s.opts.Clock.Now()
	logs := make([]*model.UserSessionLog, 0, len(sessions))
	for _, sess := range sessions {
		logs = append(logs, &model.UserSessionLog{
			LogID:       ids.GenerateString(),
			UserSession: *sess,
			Reason:      reason,
			ArchivedAt:  now,
		})
	}
	safe.Go("session-archive", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, l := range logs {
			if err := s.archiver.Archive(ctx, l); err != nil {
				logger.Warn("session archive failed", zap.String("session_id", l.SessionID), zap.Error(err))
			}
		}
	})
}
