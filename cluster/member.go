package cluster

import (
	"context"

	"github.com/maxpoletaev/cohort/internal/future"
	"github.com/maxpoletaev/cohort/membership"
	"github.com/maxpoletaev/cohort/serializer"
)

// Member is a cluster-scoped view of a member endpoint: sends go out with
// the cluster's own serializer, so different clusters can put different
// encodings on the same wire.
type Member struct {
	clusterID uint32
	endpoint  membership.Endpoint
	ser       serializer.Serializer
}

func (m *Member) URI() string {
	return m.endpoint.URI()
}

func (m *Member) Info() membership.Info {
	return m.endpoint.Info()
}

// Send delivers a request under the given topic and decodes the reply
// into resp before the returned future completes.
func (m *Member) Send(ctx context.Context, topic Topic, protocolID uint32, req, resp any) *future.Future[future.Void] {
	return m.endpoint.Send(ctx, string(topic), m.clusterID, protocolID, req, resp, m.ser)
}
