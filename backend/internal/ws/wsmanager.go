package ws

import (
	"log"
	"net/http"
	"strings"

	"collabText/backend/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 全局的 WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	co *session.Coordinator
}

func NewManager(co *session.Coordinator) *Manager {
	return &Manager{co: co}
}

// Routes 挂路由：/collab/ws 升级后直接交给协调器，/collab/healthz 探活
func (m *Manager) Routes(r *gin.Engine) {
	collab := r.Group("/collab")
	collab.GET("/ws", m.WebSocketConnect)
	collab.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})
}

// WebSocketConnect 升级连接并按 btep 协议处理，阻塞至连接关闭
func (m *Manager) WebSocketConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	if err := m.co.HandleConn(newWSConn(conn)); err != nil {
		log.Printf("websocket session ended: %v", err)
	}
}
