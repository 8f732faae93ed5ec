package volume

import (
	"sort"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
)

// rankReplicas scores every replica per spec.md §4.5 step 2 and splits the
// result into the top replicaCount ("kept") and the remainder ("excess").
// Each replica gets an integer score from the +10/+5/+2/+1 weights and the
// list is stably sorted by score, highest first; equal scores fall back to
// node name order.
func rankReplicas(replicas []entity.Replica, requiredNodes, preferredNodes []string, nexusNode string, replicaCount int) (kept, excess []entity.Replica) {
	required := toSet(requiredNodes)
	preferred := toSet(preferredNodes)

	ranked := append([]entity.Replica(nil), replicas...)
	sort.SliceStable(ranked, func(i, j int) bool {
		si := replicaScore(ranked[i], required, preferred, nexusNode)
		sj := replicaScore(ranked[j], required, preferred, nexusNode)
		if si != sj {
			return si > sj
		}
		return ranked[i].Node < ranked[j].Node
	})

	if replicaCount > len(ranked) {
		replicaCount = len(ranked)
	}
	return ranked[:replicaCount], ranked[replicaCount:]
}

func replicaScore(r entity.Replica, required, preferred map[string]bool, nexusNode string) int {
	score := 0
	if required[r.Node] {
		score += 10
	}
	if r.State == entity.ReplicaOnline {
		score += 5
	}
	if preferred[r.Node] {
		score += 2
	}
	if nexusNode != "" && r.Node == nexusNode {
		score += 1
	}
	return score
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
