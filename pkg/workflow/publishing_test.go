package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayflow/relay/pkg/models"
	"github.com/relayflow/relay/pkg/persistence/memory"
	"github.com/relayflow/relay/pkg/testutil"
)

func draftDefinition(id string) *models.WorkflowDefinition {
	return testutil.Definition(id,
		[]*models.NodeSpec{
			testutil.Node("start", models.NodeKindTriggerWebhook),
			testutil.Node("finish", models.NodeKindFlowEnd),
		},
		[]*models.Connection{
			testutil.Connect("start", models.PortMain, "finish", models.PortMain),
		},
		func(definition *models.WorkflowDefinition) {
			definition.Version = 0
			definition.Status = models.WorkflowStatusDraft
			definition.PublishedAt = nil
		},
	)
}

func newService(t *testing.T) (*PublishingService, *Repository, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()

	loader, err := NewLoader()
	require.NoError(t, err)

	repository := NewRepository(store, loader)

	return NewPublishingService(store, loader, repository), repository, store
}

func TestPublishActivatesDraft(t *testing.T) {
	ctx := context.Background()
	service, _, store := newService(t)

	require.NoError(t, store.SaveWorkflow(ctx, draftDefinition("wf-1")))

	published, err := service.Publish(ctx, "wf-1")
	require.NoError(t, err)

	assert.Equal(t, 1, published.Version)
	assert.Equal(t, models.WorkflowStatusActive, published.Status)
	require.NotNil(t, published.PublishedAt)

	stored, err := store.PublishedWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestPublishBumpsVersion(t *testing.T) {
	ctx := context.Background()
	service, _, store := newService(t)

	require.NoError(t, store.SaveWorkflow(ctx, draftDefinition("wf-1")))

	_, err := service.Publish(ctx, "wf-1")
	require.NoError(t, err)

	published, err := service.Publish(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, published.Version)
}

func TestPublishRejectsInvalidDefinition(t *testing.T) {
	ctx := context.Background()
	service, _, store := newService(t)

	definition := draftDefinition("wf-1")
	definition.Nodes["start"].Kind = models.NodeKindTriggerChatCommand // empty config, command missing
	require.NoError(t, store.SaveWorkflow(ctx, definition))

	_, err := service.Publish(ctx, "wf-1")
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestPublishRejectsArchived(t *testing.T) {
	ctx := context.Background()
	service, _, store := newService(t)

	definition := draftDefinition("wf-1")
	definition.Status = models.WorkflowStatusArchived
	require.NoError(t, store.SaveWorkflow(ctx, definition))

	_, err := service.Publish(ctx, "wf-1")
	require.ErrorContains(t, err, "archived")
}

func TestPublishUnknownWorkflow(t *testing.T) {
	service, _, _ := newService(t)

	_, err := service.Publish(context.Background(), "ghost")
	require.Error(t, err)
}

func TestArchiveRetiresWorkflow(t *testing.T) {
	ctx := context.Background()
	service, repository, store := newService(t)

	require.NoError(t, store.SaveWorkflow(ctx, draftDefinition("wf-1")))

	_, err := service.Publish(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, service.Archive(ctx, "wf-1"))

	stored, err := store.WorkflowByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusArchived, stored.Status)

	_, err = repository.Published(ctx, "wf-1")
	require.Error(t, err)
}

func TestRepositoryCachesPublished(t *testing.T) {
	ctx := context.Background()
	service, repository, store := newService(t)

	require.NoError(t, store.SaveWorkflow(ctx, draftDefinition("wf-1")))

	_, err := service.Publish(ctx, "wf-1")
	require.NoError(t, err)

	first, err := repository.Published(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, first.Graph)

	second, err := repository.Published(ctx, "wf-1")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRepublishInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	service, repository, store := newService(t)

	require.NoError(t, store.SaveWorkflow(ctx, draftDefinition("wf-1")))

	_, err := service.Publish(ctx, "wf-1")
	require.NoError(t, err)

	first, err := repository.Published(ctx, "wf-1")
	require.NoError(t, err)

	_, err = service.Publish(ctx, "wf-1")
	require.NoError(t, err)

	second, err := repository.Published(ctx, "wf-1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, second.Definition.Version)
}

func TestPublishedAllSkipsInactive(t *testing.T) {
	ctx := context.Background()
	service, repository, store := newService(t)

	require.NoError(t, store.SaveWorkflow(ctx, draftDefinition("active-1")))
	require.NoError(t, store.SaveWorkflow(ctx, draftDefinition("draft-1")))

	_, err := service.Publish(ctx, "active-1")
	require.NoError(t, err)

	published, err := repository.PublishedAll(ctx)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "active-1", published[0].Definition.ID)
}
