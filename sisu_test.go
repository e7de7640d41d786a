package sisu_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/sisu"
)

type approvalFlow struct{}

func (approvalFlow) Execute(wctx sisu.WorkflowContext, input any) (any, error) {
	prepared, err := wctx.Activity("prepare", input, func(ctx context.Context, arg any) (any, error) {
		return arg.(string) + ":prepared", nil
	})
	if err != nil {
		return nil, err
	}

	decision, err := wctx.AwaitSignal("approve")
	if err != nil {
		return nil, err
	}

	return prepared.(string) + ":" + decision.(string), nil
}

func waitForOutput(t *testing.T, eng sisu.Engine, workflowID string) any {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		out, done, err := eng.GetWorkflowOutput(context.Background(), workflowID)
		require.NoError(t, err)
		if done {
			return out
		}
		require.False(t, time.Now().After(deadline), "workflow %s did not complete in time", workflowID)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSQLiteEngine_EndToEnd(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "sisu.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	eng, err := sisu.NewSQLiteEngine(db, sisu.WithPollingInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, eng.RegisterWorkflow("approval", func() sisu.Workflow { return approvalFlow{} }))
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)

	ctx := context.Background()
	id, err := eng.StartWorkflow(ctx, "approval", "order-42", "order")
	require.NoError(t, err)
	require.Equal(t, "order-42", id)

	// Wait until the workflow has parked on the signal.
	require.Eventually(t, func() bool {
		views, err := eng.GetEvents(ctx, id)
		require.NoError(t, err)
		for _, v := range views {
			if v.Category == sisu.CategorySignal && v.SubjectName == "approve" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, eng.SignalWorkflow(ctx, id, "approve", "granted"))

	out := waitForOutput(t, eng, id)
	require.Equal(t, "order:prepared:granted", out)

	inst, err := eng.GetInstance(ctx, id)
	require.NoError(t, err)
	require.True(t, inst.Completed())
	require.Equal(t, "approval", inst.TypeName)
}
