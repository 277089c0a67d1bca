package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"ResearchChat/logger"
	"ResearchChat/middleware"
	"ResearchChat/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ServerConf struct {
	SendQueue       int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string
	MessageRate     float64 // 每连接每秒 user_message
	MessageBurst    int
	HistoryLimit    int // 每连接保留的对话轮数
}

func (c *ServerConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.MessageRate <= 0 {
		c.MessageRate = 1
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = 5
	}
}

// Server is the websocket entry point.
type Server struct {
	conf     ServerConf
	cm       *ConnManager
	disp     *Dispatcher
	upgrader websocket.Upgrader
	baseCtx  context.Context
}

func NewServer(ctx context.Context, conf ServerConf, cm *ConnManager, disp *Dispatcher) *Server {
	conf.norm()
	return &Server{
		conf: conf,
		cm:   cm,
		disp: disp,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.CheckOrigin(conf.AllowedOrigins),
		},
		baseCtx: ctx,
	}
}

func (s *Server) ConnMgr() *ConnManager { return s.cm }
func (s *Server) Disp() *Dispatcher     { return s.disp }

// HandleWS upgrades the request and runs the connection until it closes.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败/Origin 不允许
		logger.Info("upgrade websocket failed", zap.String("origin", c.Request.Header.Get("Origin")), zap.Error(err))
		return
	}

	client := NewClient(ids.NewConnID(), ws, s.conf.SendQueue,
		rate.NewLimiter(rate.Limit(s.conf.MessageRate), s.conf.MessageBurst), s.cm.Now())
	client.SetHistoryLimit(s.conf.HistoryLimit)
	client.RemoteAddr = c.ClientIP()
	client.UserAgent = c.Request.UserAgent()
	s.cm.Add(client)
	logger.Info("ws connected", zap.String("conn_id", client.ConnID), zap.String("remote", client.RemoteAddr))

	done := make(chan struct{})
	go s.writePump(client, done)
	s.readLoop(client)

	s.cm.Remove(client)
	<-done // 等写协程真正关闭 ws
	logger.Info("ws closed", zap.String("conn_id", client.ConnID), zap.String("user_id", client.UserID()))
}

// ---- 读循环：只读，不写；出错即退出（写协程收尾） ----
func (s *Server) readLoop(c *Client) {
	ws := c.WS
	ws.SetReadLimit(s.conf.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debug("peer closed", zap.String("conn_id", c.ConnID))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Info("read timeout", zap.String("conn_id", c.ConnID))
			} else if c.IsOpen() {
				logger.Info("read error", zap.String("conn_id", c.ConnID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		c.Touch(s.cm.Now())
		s.disp.Dispatch(s.baseCtx, c, data)
	}
}

// ---- 写协程：业务帧 + 定时 ping；关闭时尽量刷出剩余帧 ----
func (s *Server) writePump(c *Client, done chan struct{}) {
	ws := c.WS
	ticker := time.NewTicker(s.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
		s.cm.Remove(c)
		close(done)
	}()

	write := func(payload []byte) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Info("write failed", zap.String("conn_id", c.ConnID), zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case payload := <-c.Send:
			if !write(payload) {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.conf.WriteWait)); err != nil {
				logger.Info("ping failed", zap.String("conn_id", c.ConnID), zap.Error(err))
				return
			}
		case <-c.Done():
			for {
				select {
				case payload := <-c.Send:
					if !write(payload) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// Healthz 简单探活
func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.cm.ConnCount(), "rooms": s.cm.RoomCount()})
}
