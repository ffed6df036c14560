package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matchpoint-app/results-engine/middleware"
	"github.com/matchpoint-app/results-engine/models"
	"github.com/matchpoint-app/results-engine/services"
)

type ResultsHandler struct {
	resultsService services.ResultsService
	gameService    services.GameService
	logger         *slog.Logger
}

func NewResultsHandler(resultsService services.ResultsService, gameService services.GameService, logger *slog.Logger) *ResultsHandler {
	return &ResultsHandler{
		resultsService: resultsService,
		gameService:    gameService,
		logger:         logger,
	}
}

type submitBatchRequest struct {
	Operations     []models.Operation `json:"operations"`
	IdempotencyKey string             `json:"idempotency_key"`
}

func gameIDParam(r *http.Request) (int, error) {
	idStr := chi.URLParam(r, "gameID")
	id, err := strconv.Atoi(idStr)
	if err != nil || id <= 0 {
		return 0, errors.New("gameID must be a positive integer")
	}
	return id, nil
}

// SubmitBatch обрабатывает POST /games/{gameID}/results/batch.
// Частично применённый батч считается успехом: отклонённые операции
// возвращаются в поле conflicts со статусом 200.
func (h *ResultsHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		badRequestResponse(w, r, h.logger, err)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		unauthorizedResponse(w, r, h.logger, "authentication required")
		return
	}

	var req submitBatchRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, h.logger, err)
		return
	}

	result, err := h.resultsService.Submit(r.Context(), gameID, userID, req.Operations, req.IdempotencyKey)
	if err != nil {
		mapServiceErrorToHTTP(w, r, h.logger, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, result, nil); err != nil {
		serverErrorResponse(w, r, h.logger, err)
	}
}

// GetResults обрабатывает GET /games/{gameID}/results.
func (h *ResultsHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		badRequestResponse(w, r, h.logger, err)
		return
	}

	view, err := h.gameService.GetResults(r.Context(), gameID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, h.logger, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, view, nil); err != nil {
		serverErrorResponse(w, r, h.logger, err)
	}
}
