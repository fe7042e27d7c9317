package api

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gotest.tools/assert"

	"github.com/brainfit/brainfit/internal/datasets/synthetic"
	"github.com/brainfit/brainfit/internal/manager"
	"github.com/brainfit/brainfit/internal/models/softmax"
	"github.com/brainfit/brainfit/internal/trainer"
	"github.com/brainfit/brainfit/pkg/logger"
	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/optim"
)

func newManager(t *testing.T) *manager.TrainingManager {
	m := manager.New()
	m.SetModelFactory(softmax.Factory{})
	m.SetTrainingOption(model.TrainingOption{
		OutputDir:    t.TempDir(),
		Epoch:        2,
		BatchSize:    4,
		LearningRate: 0.1,
		RepeatNum:    2,
		NewOptimizer: optim.NewSGD,
		Loss:         optim.CrossEntropy{},
	})
	return m
}

func trained(t *testing.T) (*Server, string) {
	m := newManager(t)
	c := synthetic.DefaultConfig()
	c.SamplesPerClass = 10
	ds, err := synthetic.New(c)
	require.NoError(t, err)
	require.NoError(t, m.GeneratePlan([]model.Dataset{ds}, false, false))
	require.NoError(t, m.Train(trainer.RunInline))
	return New(m, nil, nil, prometheus.NewRegistry()), m.Plans()[0].Name()
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestTrainingWithoutPlans(t *testing.T) {
	s := New(newManager(t), nil, nil, prometheus.NewRegistry())

	rec := do(t, s, http.MethodGet, "/api/v1/training")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary manager.Summary
	decode(t, rec, &summary)
	assert.Equal(t, summary.Status, trainer.StatusPending)
	require.Empty(t, summary.Plans)

	rec = do(t, s, http.MethodPost, "/api/v1/training/start")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var msg map[string]string
	decode(t, rec, &msg)
	require.NotEmpty(t, msg["message"])

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/v1/training/stop").Code)
}

func TestReport(t *testing.T) {
	s, name := trained(t)

	rec := do(t, s, http.MethodGet, "/api/v1/plans")
	require.Equal(t, http.StatusOK, rec.Code)
	var plans []manager.PlanSummary
	decode(t, rec, &plans)
	require.Len(t, plans, 1)
	require.True(t, plans[0].Finished)
	require.Len(t, plans[0].Records, 2)

	rec = do(t, s, http.MethodGet, "/api/v1/plans/"+name+"/records/1/report")
	require.Equal(t, http.StatusOK, rec.Code)
	var one Report
	decode(t, rec, &one)
	require.Equal(t, 1, one.Repeat)
	require.Len(t, one.ConfusionMatrix, 2)
	require.Len(t, one.Classification.Classes, 2)

	rec = do(t, s, http.MethodGet, "/api/v1/plans/"+name+"/records/all/report")
	require.Equal(t, http.StatusOK, rec.Code)
	var all Report
	decode(t, rec, &all)
	require.Equal(t, -1, all.Repeat)
	require.Equal(t, 2*one.Samples, all.Samples)

	require.Equal(t, http.StatusNotFound,
		do(t, s, http.MethodGet, "/api/v1/plans/nope/records/0/report").Code)
	require.Equal(t, http.StatusNotFound,
		do(t, s, http.MethodGet, "/api/v1/plans/"+name+"/records/5/report").Code)
	require.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodGet, "/api/v1/plans/"+name+"/records/x/report").Code)
}

func TestOutputCSV(t *testing.T) {
	s, name := trained(t)
	rec := do(t, s, http.MethodGet, "/api/v1/plans/"+name+"/records/0/output")
	require.Equal(t, http.StatusOK, rec.Code)
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.DeepEqual(t, rows[0], []string{"Ground Truth", "Predict", "0", "1"})
	require.Greater(t, len(rows), 1)
}

func TestCheckpointDownload(t *testing.T) {
	s, name := trained(t)
	base := "/api/v1/plans/" + name + "/records/0/checkpoint"

	rec := do(t, s, http.MethodGet, base)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	require.Contains(t, names, "record")
	require.Contains(t, names, "eval")
	require.Contains(t, names, "Epoch-2-model")

	rec = do(t, s, http.MethodGet, base+"?format=zip")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	require.Len(t, zr.File, len(names))

	rec = do(t, s, http.MethodGet, base+"?format=tar")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))

	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, base+"?format=rar").Code)
	require.Equal(t, http.StatusNotImplemented, do(t, s, http.MethodGet, base+"?source=storage").Code)
	require.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodGet, "/api/v1/plans/"+name+"/records/all/checkpoint").Code)
}

func TestMetricsAndLogs(t *testing.T) {
	logs := logger.NewLogBuffer(8)
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.AddHook(logs)
	l.Info("first")
	l.Info("second")

	s := New(newManager(t), logs, nil, prometheus.NewRegistry())
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/training").Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/v1/training/start").Code)

	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `brainfit_api_request_seconds_count{route="/api/v1/training"} 1`)
	require.Contains(t, rec.Body.String(), `brainfit_api_errors_total{route="/api/v1/training/start"} 1`)

	rec = do(t, s, http.MethodGet, "/api/v1/logs?tail=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []logger.Entry
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Message, "second")
}
