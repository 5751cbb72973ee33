package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/persistence"
	"github.com/relayflow/relay/pkg/persistence/postgresql"
	"github.com/relayflow/relay/pkg/testutil"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"execution_node_states", "executions", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("relay_test"),
			postgres.WithUsername("relay"),
			postgres.WithPassword("relay"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, store.Close(ctx))
		cancel()
	})

	return store, ctx, databaseURL
}

func testWorkflow(id string) *models.WorkflowDefinition {
	return testutil.Definition(id,
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "finish", models.PortMain),
		},
	)
}

func TestNewPersistenceMigrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	for _, table := range []string{"workflows", "executions", "execution_node_states", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}

func TestHealthCheck(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	assert.NoError(t, store.HealthCheck(ctx))
}

func TestSaveAndRetrieveWorkflow(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := testWorkflow("wf-1")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	loaded, err := store.WorkflowByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, loaded.ID)
	assert.Equal(t, workflow.Version, loaded.Version)
	assert.Len(t, loaded.Nodes, 2)

	published, err := store.PublishedWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, published.Status)

	_, err = store.WorkflowByID(ctx, "ghost")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestSaveWorkflowUpsert(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	workflow := testWorkflow("wf-1")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	workflow.Version = 2
	workflow.Name = "Renamed workflow"
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	loaded, err := store.WorkflowByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
	assert.Equal(t, "Renamed workflow", loaded.Name)

	all, err := store.Workflows(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteWorkflowSoftDeletes(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	require.NoError(t, store.SaveWorkflow(ctx, testWorkflow("wf-1")))
	require.NoError(t, store.DeleteWorkflow(ctx, "wf-1"))

	_, err := store.WorkflowByID(ctx, "wf-1")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	require.Error(t, store.DeleteWorkflow(ctx, "wf-1"))
}

func TestExecutionLifecycle(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	now := time.Now().UTC()
	execution := &models.ExecutionResult{
		ExecutionID:     "exec-1",
		WorkflowID:      "wf-1",
		WorkflowVersion: 1,
		Status:          models.ExecutionStatusRunning,
		StartedAt:       now,
		TriggerData:     map[string]any{"event": "order.created"},
	}
	require.NoError(t, store.SaveExecution(ctx, execution))

	incomplete, err := store.IncompleteExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "exec-1", incomplete[0].ExecutionID)

	finished := now.Add(time.Second)
	execution.Status = models.ExecutionStatusCompleted
	execution.FinishedAt = &finished
	execution.Output = map[string]any{"total": 99.0}
	require.NoError(t, store.SaveExecution(ctx, execution))

	loaded, err := store.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, loaded.Status)
	assert.Equal(t, map[string]any{"total": 99.0}, loaded.Output)

	incomplete, err = store.IncompleteExecutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, incomplete)
}

func TestNodeStateLog(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	started := time.Now().UTC()

	require.NoError(t, store.AppendNodeState(ctx, "exec-1", &models.NodeExecutionState{
		NodeID: "fetch", Status: models.NodeStatusRunning, StartedAt: started,
	}))
	require.NoError(t, store.AppendNodeState(ctx, "exec-1", &models.NodeExecutionState{
		NodeID: "fetch", Status: models.NodeStatusCompleted, StartedAt: started,
	}))
	require.NoError(t, store.AppendNodeState(ctx, "exec-1", &models.NodeExecutionState{
		NodeID: "notify", Status: models.NodeStatusRunning, StartedAt: started,
	}))

	states, err := store.NodeStates(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "fetch", states[0].NodeID)
	assert.Equal(t, models.NodeStatusCompleted, states[0].Status)
	assert.Equal(t, "notify", states[1].NodeID)
}
