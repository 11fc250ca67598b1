package websocket

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rajivgeraev/marketplace-api/internal/middleware"
	"github.com/rajivgeraev/marketplace-api/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler принимает WebSocket соединения realtime-ленты.
// Токен передаётся в ?token= или в заголовке Authorization.
func Handler(manager *Manager, jwtService *utils.JWTService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token, _ = middleware.BearerToken(r.Header.Get("Authorization"))
		}

		userID, err := jwtService.ExtractUserID(token)
		if err != nil {
			http.Error(w, `{"error":"Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Ошибка установки WebSocket соединения: %v", err)
			return
		}

		NewClient(userID, conn, manager).Start()
	})
}
