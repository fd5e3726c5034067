package engine

import (
	"context"

	"github.com/Tsinling0525/weir/model"
)

// InstanceStore persists workflow instance snapshots. Implementations must
// not retain the values they are handed or return shared ones.
type InstanceStore interface {
	Save(ctx context.Context, inst model.WorkflowInstance) error
	Load(ctx context.Context, id string) (model.WorkflowInstance, bool, error)
	FindByActivityInstance(ctx context.Context, activityInstanceID string) (string, bool, error)
	List(ctx context.Context) ([]model.WorkflowInstance, error)
}

// DefinitionStore keeps deployed definitions. Put assigns the version: one
// more than the latest definition with the same source workflow id.
type DefinitionStore interface {
	Put(ctx context.Context, def model.WorkflowDefinition) (model.WorkflowDefinition, error)
	Get(ctx context.Context, id model.ID) (model.WorkflowDefinition, bool, error)
	Latest(ctx context.Context, sourceID model.ID) (model.WorkflowDefinition, bool, error)
	List(ctx context.Context) ([]model.WorkflowDefinition, error)
}
