package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ResearchChat/logger"
	"ResearchChat/service/metrics"
	"ResearchChat/tools/clock"
	"ResearchChat/tools/errs"
	"ResearchChat/tools/safe"

	"go.uber.org/zap"
)

// Presence mirrors room membership into an external store. Best effort.
type Presence interface {
	Online(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string) error
}

// ===== 配置 =====

type ManagerConf struct {
	EmptyGrace time.Duration // 空房间删除前的宽限期（如 5s），容忍重连
	IdleTTL    time.Duration // 房间长时间无活动强制关闭（如 30m）
	SweepEvery time.Duration // 清理周期（如 1m）
	CloseDelay time.Duration // 发送终止帧后延迟关闭，尽量让帧刷出
	UnauthTTL  time.Duration // 未授权连接最长存活
	Clock      clock.Clock   // 可注入时钟（单测用）
	Presence   Presence      // 可选
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.EmptyGrace <= 0 {
		c.EmptyGrace = 5 * time.Second
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = time.Minute
	}
	if c.CloseDelay <= 0 {
		c.CloseDelay = 500 * time.Millisecond
	}
	if c.UnauthTTL <= 0 {
		c.UnauthTTL = 10 * time.Second
	}
}

// ===== 数据结构 =====

// RoomID 由 userID 确定性推导
func RoomID(userID string) string { return "user:" + userID }

type room struct {
	id           string
	userID       string
	members      map[string]*Client // connID -> client
	createdAt    time.Time
	lastActivity time.Time

	gen         uint64      // 每次有成员加入 +1，用于作废过期的删除定时器
	deleteTimer clock.Timer // 空房间宽限删除
}

// RoomInfo is a read-only snapshot of a room.
type RoomInfo struct {
	ID           string
	UserID       string
	Members      int
	CreatedAt    time.Time
	LastActivity time.Time
}

// ConnManager owns every live connection and the per-user rooms. All map
// mutation goes through its methods under one mutex; socket writes happen
// on each client's write pump.
type ConnManager struct {
	mu           sync.Mutex
	conns        map[string]*Client     // connID -> client
	rooms        map[string]*room       // roomID -> room
	unauthTimers map[string]clock.Timer // connID -> 未授权超时

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

// ===== 构造/关闭 =====

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	return &ConnManager{
		conns:        make(map[string]*Client),
		rooms:        make(map[string]*room),
		unauthTimers: make(map[string]clock.Timer),
		conf:         conf,
		stopCh:       make(chan struct{}),
	}
}

func (m *ConnManager) Now() time.Time { return m.conf.Clock.Now() }

func (m *ConnManager) Start() {
	safe.Go("room-sweeper", m.sweeper)
}

// Close stops the sweeper and closes every connection.
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	all := make([]*Client, 0, len(m.conns))
	for _, c := range m.conns {
		all = append(all, c)
	}
	m.mu.Unlock()
	for _, c := range all {
		m.Remove(c)
	}
}

// ===== 连接 =====

// Add registers an unauthenticated connection. It is dropped if it does not
// authenticate within UnauthTTL.
func (m *ConnManager) Add(c *Client) {
	safe.MustNotNil(c, "client")
	m.mu.Lock()
	m.conns[c.ConnID] = c
	m.unauthTimers[c.ConnID] = m.conf.Clock.AfterFunc(m.conf.UnauthTTL, func() {
		if !c.Authenticated() && c.UserID() == "" {
			logger.Info("unauthenticated connection timed out", zap.String("conn_id", c.ConnID))
			m.Remove(c)
		}
	})
	m.updateGaugesLocked()
	m.mu.Unlock()
}

func (m *ConnManager) Get(connID string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connID]
	return c, ok
}

// Authenticate binds c to (userID, sessionID) and joins the user's room.
func (m *ConnManager) Authenticate(c *Client, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return errs.ErrArgs.WrapMsg("user id and session id are required")
	}
	m.mu.Lock()
	if _, ok := m.conns[c.ConnID]; !ok || !c.IsOpen() {
		m.mu.Unlock()
		return errs.ErrArgs.WrapMsg("connection closed", "conn_id", c.ConnID)
	}
	if old := c.RoomID(); old != "" && old != RoomID(userID) {
		m.leaveRoomLocked(c)
	}
	if t, ok := m.unauthTimers[c.ConnID]; ok {
		t.Stop()
		delete(m.unauthTimers, c.ConnID)
	}
	c.bind(userID, sessionID, RoomID(userID))
	m.joinRoomLocked(c)
	m.updateGaugesLocked()
	m.mu.Unlock()

	logger.Info("connection authenticated",
		zap.String("conn_id", c.ConnID), zap.String("user_id", userID), zap.String("session_id", sessionID))
	return nil
}

// Remove closes c and drops it from its room. Safe to call more than once.
func (m *ConnManager) Remove(c *Client) {
	if c == nil {
		return
	}
	m.mu.Lock()
	if cur, ok := m.conns[c.ConnID]; ok && cur == c {
		delete(m.conns, c.ConnID)
	}
	if t, ok := m.unauthTimers[c.ConnID]; ok {
		t.Stop()
		delete(m.unauthTimers, c.ConnID)
	}
	m.leaveRoomLocked(c)
	m.updateGaugesLocked()
	m.mu.Unlock()
	c.Close()
}

// ===== 房间 =====

// JoinRoom adds an authenticated client to its user's room. Idempotent.
func (m *ConnManager) JoinRoom(c *Client) error {
	if !c.Authenticated() {
		return errs.ErrAuthFailed.WrapMsg("join room before auth", "conn_id", c.ConnID)
	}
	m.mu.Lock()
	m.joinRoomLocked(c)
	m.updateGaugesLocked()
	m.mu.Unlock()
	return nil
}

// LeaveRoom removes c from its room. An emptied room is deleted after
// EmptyGrace unless someone rejoins first.
func (m *ConnManager) LeaveRoom(c *Client) {
	m.mu.Lock()
	m.leaveRoomLocked(c)
	m.updateGaugesLocked()
	m.mu.Unlock()
}

func (m *ConnManager) joinRoomLocked(c *Client) {
	uid := c.UserID()
	id := RoomID(uid)
	now := m.conf.Clock.Now()
	r := m.rooms[id]
	if r == nil {
		r = &room{id: id, userID: uid, members: make(map[string]*Client), createdAt: now}
		m.rooms[id] = r
		logger.Info("room created", zap.String("room_id", id))
	}
	if r.userID != uid {
		// 房间只容纳同一用户的连接
		logger.Error("room user mismatch", zap.String("room_id", id), zap.String("user_id", uid))
		return
	}
	if r.deleteTimer != nil {
		r.deleteTimer.Stop()
		r.deleteTimer = nil
	}
	r.gen++
	r.lastActivity = now
	if _, ok := r.members[c.ConnID]; ok {
		return
	}
	r.members[c.ConnID] = c
	m.presence(true, uid, c.ConnID)
}

func (m *ConnManager) leaveRoomLocked(c *Client) {
	id := c.RoomID()
	if id == "" {
		return
	}
	r := m.rooms[id]
	if r == nil {
		return
	}
	if _, ok := r.members[c.ConnID]; !ok {
		return
	}
	delete(r.members, c.ConnID)
	m.presence(false, r.userID, c.ConnID)
	if len(r.members) > 0 || r.deleteTimer != nil {
		return
	}

	gen := r.gen
	r.deleteTimer = m.conf.Clock.AfterFunc(m.conf.EmptyGrace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		cur := m.rooms[id]
		if cur != r || len(cur.members) > 0 || cur.gen != gen {
			return
		}
		delete(m.rooms, id)
		m.updateGaugesLocked()
		logger.Info("empty room deleted", zap.String("room_id", id))
	})
}

// Room returns a snapshot of userID's room.
func (m *ConnManager) Room(userID string) (RoomInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[RoomID(userID)]
	if r == nil {
		return RoomInfo{}, false
	}
	return RoomInfo{
		ID:           r.id,
		UserID:       r.userID,
		Members:      len(r.members),
		CreatedAt:    r.createdAt,
		LastActivity: r.lastActivity,
	}, true
}

func (m *ConnManager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *ConnManager) ConnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// ===== 发送 =====

// SendToRoom queues frame to every open, authenticated member of userID's
// room and returns how many accepted it. A missing room is a no-op.
func (m *ConnManager) SendToRoom(userID string, frame Outbound) int {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("marshal frame failed", zap.String("type", frame.FrameType()), zap.Error(err))
		return 0
	}

	m.mu.Lock()
	r := m.rooms[RoomID(userID)]
	if r == nil {
		m.mu.Unlock()
		return 0
	}
	r.lastActivity = m.conf.Clock.Now()
	targets := make([]*Client, 0, len(r.members))
	for _, c := range r.members {
		if c.Authenticated() && c.IsOpen() {
			targets = append(targets, c)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, c := range targets {
		if c.Enqueue(frame.FrameType(), payload) {
			n++
		}
	}
	return n
}

// SendTo queues frame to one client regardless of auth state.
func (m *ConnManager) SendTo(c *Client, frame Outbound) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("marshal frame failed", zap.String("type", frame.FrameType()), zap.Error(err))
		return false
	}
	return c.Enqueue(frame.FrameType(), payload)
}

// ===== 会话关闭（供会话存储回调）=====

// CloseSession notifies every connection bound to sessionID and closes it
// after CloseDelay.
func (m *ConnManager) CloseSession(sessionID, reason string) {
	m.mu.Lock()
	var targets []*Client
	for _, c := range m.conns {
		if c.SessionID() == sessionID {
			targets = append(targets, c)
		}
	}
	m.mu.Unlock()
	for _, c := range targets {
		m.closeWithNotice(c, reason)
	}
}

// CloseAllSessionsForUser closes every member of userID's room except the
// connections bound to exceptSessionID.
func (m *ConnManager) CloseAllSessionsForUser(userID, exceptSessionID, reason string) {
	m.mu.Lock()
	var targets []*Client
	for _, c := range m.conns {
		if c.UserID() != userID {
			continue
		}
		if exceptSessionID != "" && c.SessionID() == exceptSessionID {
			continue
		}
		targets = append(targets, c)
	}
	m.mu.Unlock()
	for _, c := range targets {
		m.closeWithNotice(c, reason)
	}
	if len(targets) > 0 {
		logger.Info("closed user sessions",
			zap.String("user_id", userID), zap.Int("connections", len(targets)), zap.String("reason", reason))
	}
}

func (m *ConnManager) closeWithNotice(c *Client, reason string) {
	m.SendTo(c, NewSessionTerminated(reason, m.conf.Clock.Now()))
	m.Detach(c)
}

// Detach revokes c, takes it out of its room and closes it after
// CloseDelay so frames already queued can still flush.
func (m *ConnManager) Detach(c *Client) {
	c.revoke()
	m.LeaveRoom(c)
	m.conf.Clock.AfterFunc(m.conf.CloseDelay, func() { m.Remove(c) })
}

// ===== 清理 =====

// Sweep force-closes rooms idle for longer than IdleTTL, members included.
func (m *ConnManager) Sweep(now time.Time) int {
	var victims []*Client
	n := 0
	m.mu.Lock()
	for id, r := range m.rooms {
		if now.Sub(r.lastActivity) <= m.conf.IdleTTL {
			continue
		}
		for _, c := range r.members {
			victims = append(victims, c)
			m.presence(false, r.userID, c.ConnID)
		}
		if r.deleteTimer != nil {
			r.deleteTimer.Stop()
		}
		delete(m.rooms, id)
		n++
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	for _, c := range victims {
		m.closeWithNotice(c, ReasonIdle)
	}
	if n > 0 {
		logger.Info("idle rooms swept", zap.Int("rooms", n), zap.Int("connections", len(victims)))
	}
	return n
}

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.Sweep(m.conf.Clock.Now())
		}
	}
}

// ===== 工具函数 =====

func (m *ConnManager) updateGaugesLocked() {
	authed := 0
	for _, c := range m.conns {
		if c.Authenticated() {
			authed++
		}
	}
	metrics.Connections.WithLabelValues("authenticated").Set(float64(authed))
	metrics.Connections.WithLabelValues("unauthenticated").Set(float64(len(m.conns) - authed))
	metrics.Rooms.Set(float64(len(m.rooms)))
}

// presence 异步写入，房间变更不等待外部存储
func (m *ConnManager) presence(online bool, userID, connID string) {
	p := m.conf.Presence
	if p == nil {
		return
	}
	safe.Go("presence", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var err error
		if online {
			err = p.Online(ctx, userID, connID)
		} else {
			err = p.Offline(ctx, userID, connID)
		}
		if err != nil {
			logger.Warn("presence update failed", zap.String("user_id", userID), zap.Bool("online", online), zap.Error(err))
		}
	})
}
