package coordinator

import (
	"github.com/maxpoletaev/cohort/cluster"
	"github.com/maxpoletaev/cohort/internal/executor"
	"github.com/maxpoletaev/cohort/raft"
	"github.com/maxpoletaev/cohort/resource"
)

// resourceHolder ties a resource to the cluster and raft state it runs
// on. The holder owns all three exclusively; the coordinator owns the
// holder.
type resourceHolder struct {
	resource resource.Resource
	cluster  *cluster.Manager
	state    *raft.Context
	exec     *executor.Executor
}
