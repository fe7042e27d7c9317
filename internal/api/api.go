// Package api serves the training manager over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/brainfit/brainfit/internal/manager"
	"github.com/brainfit/brainfit/internal/metrics"
	"github.com/brainfit/brainfit/internal/prom"
	"github.com/brainfit/brainfit/internal/record"
	"github.com/brainfit/brainfit/internal/trainer"
	"github.com/brainfit/brainfit/pkg/checkpoints"
	"github.com/brainfit/brainfit/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Server exposes a TrainingManager over a JSON API.
type Server struct {
	manager *manager.TrainingManager
	logs    *logger.LogBuffer
	storage checkpoints.Storage
	metrics *prom.APIMetrics
	echo    *echo.Echo
}

// New builds the routes. logs and storage may be nil. The API metrics are registered with reg,
// and /metrics serves everything reg gathers.
func New(
	m *manager.TrainingManager, logs *logger.LogBuffer, storage checkpoints.Storage, reg *prometheus.Registry,
) *Server {
	s := &Server{
		manager: m,
		logs:    logs,
		storage: storage,
		metrics: prom.NewAPIMetrics(reg),
		echo:    echo.New(),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = JSONErrorHandler
	e.Use(middleware.Recover())
	e.Use(s.instrument)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	v1 := e.Group("/api/v1")
	v1.GET("/training", route(s.getTraining))
	v1.POST("/training/start", route(s.postStart))
	v1.POST("/training/stop", route(s.postStop))
	v1.GET("/plans", route(s.getPlans))
	v1.GET("/plans/:plan/records/:repeat/report", route(s.getReport))
	v1.GET("/plans/:plan/records/:repeat/output", s.getOutputCSV)
	v1.GET("/plans/:plan/records/:repeat/checkpoint", s.getCheckpoint)
	v1.GET("/logs", route(s.getLogs))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errs := make(chan error, 1)
	go func() {
		log.Infof("serving the API on %s", addr)
		errs <- s.echo.Start(addr)
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) instrument(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		defer prom.ErrCount(s.metrics.Errors.WithLabelValues(c.Path()), &err)
		defer prom.Time(s.metrics.Requests.WithLabelValues(c.Path()))()
		return next(c)
	}
}

// route adapts a handler that returns a value into one that writes it as JSON.
func route(f func(c echo.Context) (interface{}, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		v, err := f(c)
		if err != nil {
			return asHTTPError(err)
		}
		if v == nil {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusOK, v)
	}
}

func (s *Server) getTraining(echo.Context) (interface{}, error) {
	return s.manager.Summary(), nil
}

func (s *Server) postStart(echo.Context) (interface{}, error) {
	if err := s.manager.Train(trainer.RunBackground); err != nil {
		return nil, err
	}
	return s.manager.Summary(), nil
}

func (s *Server) postStop(echo.Context) (interface{}, error) {
	s.manager.StopTraining()
	return s.manager.Summary(), nil
}

func (s *Server) getPlans(echo.Context) (interface{}, error) {
	return s.manager.Summary().Plans, nil
}

type recordArgs struct {
	plan   string
	repeat int
}

// bindRecord reads the :plan and :repeat path parameters. A repeat of "all" selects every
// finished repeat pooled.
func bindRecord(c echo.Context) (recordArgs, error) {
	args := recordArgs{plan: c.Param("plan"), repeat: -1}
	if r := c.Param("repeat"); r != "all" {
		repeat, err := strconv.Atoi(r)
		if err != nil || repeat < 0 {
			return args, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid repeat %q", r))
		}
		args.repeat = repeat
	}
	return args, nil
}

// Report is the evaluation summary of one repeat.
type Report struct {
	Plan            string         `json:"plan"`
	Repeat          int            `json:"repeat"`
	Samples         int            `json:"samples"`
	Acc             float64        `json:"acc"`
	AUC             float64        `json:"auc"`
	Kappa           float64        `json:"kappa"`
	Classification  metrics.Report `json:"classification_report"`
	ConfusionMatrix [][]int        `json:"confusion_matrix"`
}

func (s *Server) evalRecord(c echo.Context) (recordArgs, *record.EvalRecord, error) {
	args, err := bindRecord(c)
	if err != nil {
		return args, nil, err
	}
	er, err := s.manager.EvalRecord(args.plan, args.repeat)
	return args, er, asHTTPError(err)
}

func (s *Server) getReport(c echo.Context) (interface{}, error) {
	args, er, err := s.evalRecord(c)
	if err != nil {
		return nil, err
	}
	return Report{
		Plan:            args.plan,
		Repeat:          args.repeat,
		Samples:         er.Len(),
		Acc:             er.Acc(),
		AUC:             er.AUC(),
		Kappa:           er.Kappa(),
		Classification:  er.ClassificationReport(),
		ConfusionMatrix: er.ConfusionMatrix().Matrix,
	}, nil
}

func (s *Server) getOutputCSV(c echo.Context) error {
	_, er, err := s.evalRecord(c)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().WriteHeader(http.StatusOK)
	return manager.WriteOutputCSV(c.Response(), er)
}

func (s *Server) getLogs(c echo.Context) (interface{}, error) {
	if s.logs == nil {
		return []*logger.Entry{}, nil
	}
	limit := -1
	if tail := c.QueryParam("tail"); tail != "" {
		n, err := strconv.Atoi(tail)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid tail %q", tail))
		}
		limit = n
	}
	return s.logs.Tail(limit), nil
}
