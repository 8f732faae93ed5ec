package volume

import (
	"testing"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/stretchr/testify/assert"
)

func TestRankReplicas_ScoreOrdering(t *testing.T) {
	replicas := []entity.Replica{
		{UUID: "u", Node: "n1", State: entity.ReplicaOnline},                 // +5
		{UUID: "u", Node: "n2", State: entity.ReplicaFaulted},                // +0
		{UUID: "u", Node: "n3", State: entity.ReplicaOnline},                 // required +10, online +5 = 15
	}
	kept, excess := rankReplicas(replicas, []string{"n3"}, nil, "", 2)
	assert.Equal(t, "n3", kept[0].Node)
	assert.Equal(t, "n1", kept[1].Node)
	assert.Len(t, excess, 1)
	assert.Equal(t, "n2", excess[0].Node)
}

func TestRankReplicas_PreferredAndNexusColocationBonus(t *testing.T) {
	replicas := []entity.Replica{
		{UUID: "u", Node: "n1", State: entity.ReplicaOnline},                  // +5
		{UUID: "u", Node: "n2", State: entity.ReplicaOnline},                  // preferred +2, online +5 = 7
		{UUID: "u", Node: "n3", State: entity.ReplicaOnline},                  // co-located with nexus +1, online +5 = 6
	}
	kept, _ := rankReplicas(replicas, nil, []string{"n2"}, "n3", 3)
	assert.Equal(t, []string{"n2", "n3", "n1"}, []string{kept[0].Node, kept[1].Node, kept[2].Node})
}

func TestRankReplicas_TieBreaksByNodeName(t *testing.T) {
	replicas := []entity.Replica{
		{UUID: "u", Node: "n2", State: entity.ReplicaOnline},
		{UUID: "u", Node: "n1", State: entity.ReplicaOnline},
	}
	kept, _ := rankReplicas(replicas, nil, nil, "", 2)
	assert.Equal(t, "n1", kept[0].Node)
	assert.Equal(t, "n2", kept[1].Node)
}

func TestRankReplicas_ClampsToAvailable(t *testing.T) {
	replicas := []entity.Replica{{UUID: "u", Node: "n1", State: entity.ReplicaOnline}}
	kept, excess := rankReplicas(replicas, nil, nil, "", 3)
	assert.Len(t, kept, 1)
	assert.Empty(t, excess)
}
