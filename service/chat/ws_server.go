package chat

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin 未配置白名单时放行（移动端没有 Origin）
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.conf.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, o := range s.conf.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) || strings.EqualFold(o, u.Host) {
			return true
		}
	}
	return false
}

// TokenFromRequest 先取 query token，其次 Authorization: Bearer
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HandleWS ===== WebSocket 入口 =====
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败，Upgrade 已经写了响应
		s.log.Info("upgrade websocket failed", zap.Error(err), zap.String("remote", c.ClientIP()))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := s.Connect(ctx, TokenFromRequest(c.Request), c.ClientIP())
	done := make(chan struct{})
	go s.writePump(ws, conn, done)

	s.readLoop(ctx, ws, conn)

	// ---- 退出阶段：先摘除再等写协程收尾 ----
	s.Disconnect(conn)
	<-done
}

// readLoop 只读不写；出错即退出
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, conn *WsConn) {
	ws.SetReadLimit(s.conf.ReadLimit)
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
				s.log.Debug("peer closed", zap.String("conn", conn.ID))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.log.Info("read timeout", zap.String("conn", conn.ID))
			} else if !conn.Closed() {
				s.log.Info("read failed", zap.String("conn", conn.ID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.HandleFrame(ctx, conn, data)
		if conn.Closed() {
			return
		}
	}
}

// writePump 唯一的写方：业务帧和 ping 都从这里出去
func (s *Server) writePump(ws *websocket.Conn, conn *WsConn, done chan struct{}) {
	ticker := time.NewTicker(s.conf.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close() // 读循环随之返回
		close(done)
	}()

	for {
		select {
		case payload := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Info("write failed", zap.String("conn", conn.ID), zap.Error(err))
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-conn.Done():
			s.drain(ws, conn)
			return
		}
	}
}

// drain 关闭前尽量把已入队的帧写完（例如 Completed 状态通知）
func (s *Server) drain(ws *websocket.Conn, conn *WsConn) {
	for {
		select {
		case payload := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
