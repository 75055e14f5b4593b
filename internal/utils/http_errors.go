package utils

import (
	"errors"
	"net/http"

	"github.com/aristath/fundtrack/internal/domain"
)

// HTTPStatus maps a domain error onto the response status the API reports for it
func HTTPStatus(err error) int {
	var (
		validation   *domain.ValidationError
		invalidNav   *domain.InvalidNavError
		insufficient *domain.InsufficientPositionError
		overdraft    *domain.OverdraftError
		invalidRange *domain.InvalidRangeError
		processed    *domain.AlreadyProcessedError
		navMissing   *domain.NavUnavailableError
		notFound     *domain.NotFoundError
		confirm      *domain.ConfirmationRequiredError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation), errors.As(err, &invalidRange):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &processed), errors.As(err, &confirm):
		return http.StatusConflict
	case errors.As(err, &invalidNav), errors.As(err, &insufficient), errors.As(err, &overdraft):
		return http.StatusUnprocessableEntity
	case errors.As(err, &navMissing):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
