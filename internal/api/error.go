package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brainfit/brainfit/internal/manager"
	"github.com/brainfit/brainfit/internal/trainer"
	"github.com/brainfit/brainfit/pkg/model"
)

// JSONErrorHandler renders every error as {"message": ...}. Errors that are not echo.HTTPErrors
// are reported as 500s and logged.
func JSONErrorHandler(err error, c echo.Context) {
	code, msg := http.StatusInternalServerError, err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code, msg = he.Code, fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	if c.Response().Committed {
		return
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, map[string]string{"message": msg})
	}
	if werr != nil {
		log.WithError(werr).Error("writing error response")
	}
}

// asHTTPError maps domain errors onto status codes.
func asHTTPError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, manager.ErrPlanNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, trainer.ErrTrainerRunning), errors.Is(err, manager.ErrTrainerExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case model.IsConfigurationError(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
