package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/hintline/internal/history"
	"github.com/yoockh/hintline/internal/models"
	"github.com/yoockh/hintline/internal/pipeline"
	"github.com/yoockh/hintline/internal/utils"
)

// Controller is the part of the pipeline the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	AskNow(ctx context.Context) (pipeline.AskResult, error)
	SetAutoHints(ctx context.Context, enabled bool) error
	SetContextParams(ctx context.Context, windowSize, maxChars int) error
	ClearSession(ctx context.Context) error
	Hints(ctx context.Context) ([]models.HintRecord, history.Position, error)
	PrevHint(ctx context.Context) (pipeline.HintView, error)
	NextHint(ctx context.Context) (pipeline.HintView, error)
	SelectHint(ctx context.Context, i int) (pipeline.HintView, error)
	SendAudio(source models.Source, frame []byte) error
	Status() pipeline.Status
}

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, pipeline.ErrClosed) {
		err = utils.E(utils.CodeUnavailable, "API", "pipeline is shutting down", err)
	}
	status := utils.HTTPStatus(err)

	var ae *utils.AppError
	if errors.As(err, &ae) {
		c.JSON(status, APIError{
			Code:    ae.Code,
			Message: ae.Message,
		})
		return
	}

	c.JSON(status, APIError{
		Code:    utils.CodeInternal,
		Message: http.StatusText(status),
	})
}
