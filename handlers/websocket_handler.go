package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/matchpoint-app/results-engine/realtime"
	"github.com/matchpoint-app/results-engine/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// В продакшене здесь должна быть проверка Origin,
		// чтобы разрешать подключения только с доверенных доменов.
		return true
	},
}

type WebSocketHandler struct {
	hub         *realtime.Hub
	gameService services.GameService
	logger      *slog.Logger
}

func NewWebSocketHandler(hub *realtime.Hub, gameService services.GameService, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		gameService: gameService,
		logger:      logger,
	}
}

// ServeWs обрабатывает WebSocket подключения зрителей конкретной игры.
// Клиент подключается к /ws/games/{gameID}.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		badRequestResponse(w, r, h.logger, err)
		return
	}

	// Комнату создаём только для существующей игры.
	if _, err := h.gameService.GetGame(r.Context(), gameID); err != nil {
		mapServiceErrorToHTTP(w, r, h.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader.Upgrade сам отправляет HTTP ошибку клиенту.
		h.logger.Warn("failed to upgrade websocket connection",
			slog.Int("game_id", gameID),
			slog.Any("error", err))
		return
	}

	h.hub.Subscribe(gameID, conn)
}
