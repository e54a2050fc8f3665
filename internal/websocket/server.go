package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server represents the WebSocket server
type Server struct {
	Hub      *Hub
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

// NewServer creates a new WebSocket server. Browser connections are accepted
// only from allowedOrigins; clients that send no Origin header are accepted.
func NewServer(allowedOrigins []string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return &Server{
		Hub:    NewHub(logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Start starts the hub
func (s *Server) Start() {
	go s.Hub.Run()
	s.logger.Info("WebSocket server started")
}

// Stop stops the hub and disconnects every client
func (s *Server) Stop() {
	s.Hub.Stop()
	s.logger.Info("WebSocket server stopped")
}

// HandlePoolsWebSocket handles anonymous connections for pool updates
func (s *Server) HandlePoolsWebSocket(c *gin.Context) {
	s.serve(c, "")
}

// HandleAuthenticatedWebSocket handles connections that may also follow the
// caller's own positions
func (s *Server) HandleAuthenticatedWebSocket(c *gin.Context) {
	userAddress := c.GetString("user_address")
	if userAddress == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required", "code": "USER_NOT_AUTHENTICATED"})
		return
	}
	s.serve(c, userAddress)
}

func (s *Server) serve(c *gin.Context, userAddress string) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.Hub, uuid.NewString())
	if userAddress != "" {
		client.SetAuth(userAddress)
	}
	if !send(s.Hub, s.Hub.Register, client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	s.logger.WithFields(logrus.Fields{
		"client_id":    client.ID,
		"user_address": userAddress,
	}).Info("WebSocket client connected")
}

// HandleWebSocketStats returns WebSocket connection statistics
func (s *Server) HandleWebSocketStats(c *gin.Context) {
	stats := s.Hub.GetStats()
	stats.ActiveConnections = s.Hub.GetClientCount()
	stats.TotalSubscriptions = s.Hub.GetSubscriptionCount()
	stats.LastUpdate = time.Now()

	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes registers WebSocket routes with the Gin router
func (s *Server) RegisterRoutes(router *gin.Engine, requireAuth gin.HandlerFunc) {
	ws := router.Group("/ws")
	{
		ws.GET("/pools", s.HandlePoolsWebSocket)
		ws.GET("/authenticated", requireAuth, s.HandleAuthenticatedWebSocket)
		ws.GET("/stats", s.HandleWebSocketStats)
	}
}
