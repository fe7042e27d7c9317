//go:build integration
// +build integration

package db

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunHistory(t *testing.T) {
	url := os.Getenv("BRAINFIT_TEST_DB_URL")
	if url == "" {
		t.Skip("BRAINFIT_TEST_DB_URL is not set")
	}
	ctx := context.Background()
	db, err := ConnectPostgres(ctx, url)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))

	h := finishedPlan(t)
	for _, rec := range h.GetPlans() {
		require.NoError(t, db.RecordFinished(ctx, h, rec))
	}
	// Storing a repeat again replaces its row.
	require.NoError(t, db.RecordFinished(ctx, h, h.GetPlans()[0]))

	runs, err := db.RunsForPlan(ctx, h.Name())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for i, r := range runs {
		require.Equal(t, i, r.Repeat)
		require.Equal(t, h.GetPlans()[i].ID, r.ID)
		require.Equal(t, h.GetPlans()[i].BestRecord()["best_val_loss"], r.Best["best_val_loss"])
	}
}
