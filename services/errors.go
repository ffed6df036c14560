package services

import "errors"

// Общие ошибки, используемые в сервисах и маппинге HTTP.
var (
	// Ресурс не найден
	ErrGameNotFound = errors.New("game not found")
	ErrUserNotFound = errors.New("user not found")

	// Авторизация
	ErrForbiddenOperation = errors.New("operation not allowed for the current user")
	ErrEditNotAllowed     = errors.New("only the game owner or an admin can edit results")

	// Валидация батча
	ErrEmptyBatch            = errors.New("operation batch is empty")
	ErrInvalidIdempotencyKey = errors.New("idempotency key must be a valid uuid")
	ErrInvalidOperationID    = errors.New("operation id must be a valid uuid")

	// Конкурентный доступ к агрегату
	ErrResultsBusy = errors.New("results are already being updated, retry later")
)
