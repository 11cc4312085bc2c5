package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"withdraw-backend/internal/apperror"
	"withdraw-backend/internal/dto"
)

// respondWithError unified error response; every coded error maps to its
// HTTP status here.
func respondWithError(c *gin.Context, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		switch {
		case errors.Is(err, context.Canceled):
			appErr = apperror.Wrap(err, apperror.ErrCodeInternal, "request cancelled")
		case errors.Is(err, context.DeadlineExceeded):
			appErr = apperror.Wrap(err, apperror.ErrCodeInternal, "request timed out")
			appErr.Retryable = true
		default:
			appErr = apperror.Wrap(err, apperror.ErrCodeInternal, "internal error")
		}
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	resp := dto.ErrorResponse{
		Success:         false,
		Error:           string(appErr.Code),
		Message:         appErr.Message,
		Retryable:       appErr.Retryable,
		SupportRequired: appErr.SupportRequired,
	}
	if details := appErr.Details(); len(details) > 0 {
		resp.Details = details
	}
	c.JSON(status, resp)
}
