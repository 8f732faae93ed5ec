package volume

import (
	"context"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
)

// ensureLocked runs the five-step convergence algorithm of spec.md §4.5.
// Callers must hold v.mu.
func (v *Volume) ensureLocked(ctx context.Context) error {
	if err := v.replenishLocked(ctx); err != nil {
		return err
	}

	nexusNode := ""
	if v.Nexus != nil {
		nexusNode = v.Nexus.Node
	}
	kept, excess := rankReplicas(v.Replicas, v.RequiredNodes, v.PreferredNodes, nexusNode, v.ReplicaCount)
	if nexusNode == "" && len(kept) > 0 {
		nexusNode = kept[0].Node
	}

	if err := v.shareLocked(ctx, kept, nexusNode); err != nil {
		return err
	}
	if err := v.reconcileNexusLocked(ctx, kept, nexusNode); err != nil {
		return err
	}
	v.trimLocked(ctx, excess)

	v.Replicas = kept
	return nil
}

// replenishLocked implements step 1: create replicas until replicaCount is
// met, placing each on a freshly chosen pool.
func (v *Volume) replenishLocked(ctx context.Context) error {
	missing := v.ReplicaCount - len(v.Replicas)
	if missing <= 0 {
		return nil
	}

	candidates := v.reg.ChoosePools(v.effectiveRequiredBytes(), v.RequiredNodes, v.PreferredNodes)
	var filtered []entity.Pool
	for _, p := range candidates {
		if v.ReplicaOnNode(p.Node) {
			continue
		}
		filtered = append(filtered, p)
	}
	if len(filtered) < missing {
		return resourceExhausted("volume %s: need %d more replicas, only %d eligible pools", v.UUID, missing, len(filtered))
	}

	if v.Size == 0 {
		limit := v.LimitBytes
		if limit == 0 {
			limit = v.RequiredBytes
		}
		minFree := filtered[0].FreeBytes()
		for _, p := range filtered[:missing] {
			if p.FreeBytes() < minFree {
				minFree = p.FreeBytes()
			}
		}
		v.Size = minFree
		if limit != 0 && limit < v.Size {
			v.Size = limit
		}
	}

	var errs []string
	succeeded := 0
	for _, p := range filtered {
		if succeeded >= missing {
			break
		}
		n, ok := v.reg.GetNode(p.Node)
		if !ok {
			errs = append(errs, p.Node+": node not registered")
			continue
		}
		r, err := n.CreateReplica(ctx, v.UUID, p.Name, v.Size, true)
		if err != nil {
			errs = append(errs, p.Node+"/"+p.Name+": "+err.Error())
			continue
		}
		v.Replicas = append(v.Replicas, r)
		succeeded++
	}
	if succeeded < missing {
		return internalErr("volume %s: replenish: created %d/%d replicas: %s", v.UUID, succeeded, missing, joinErrs(errs))
	}
	return nil
}

func (v *Volume) effectiveRequiredBytes() uint64 {
	if v.Size != 0 {
		return v.Size
	}
	return v.RequiredBytes
}

// shareLocked implements step 3: the nexus-local replica is unshared, every
// remote one is shared over NVMe-oF.
func (v *Volume) shareLocked(ctx context.Context, kept []entity.Replica, nexusNode string) error {
	for i, r := range kept {
		local := r.Node == nexusNode
		var want entity.ShareProtocol
		switch {
		case local && r.Share != entity.ShareNone:
			want = entity.ShareNone
		case !local && r.Share == entity.ShareNone:
			want = entity.ShareNvmf
		default:
			continue
		}
		n, ok := v.reg.GetNode(r.Node)
		if !ok {
			return internalErr("volume %s: replica node %s not registered", v.UUID, r.Node)
		}
		updated, err := n.ShareReplica(ctx, v.UUID, want)
		if err != nil {
			return internalErr("volume %s: share replica on %s: %v", v.UUID, r.Node, err)
		}
		kept[i] = updated
	}
	return nil
}

// reconcileNexusLocked implements step 4: create the nexus if missing,
// otherwise symmetric-diff its children against the ranked replica URIs.
func (v *Volume) reconcileNexusLocked(ctx context.Context, kept []entity.Replica, nexusNode string) error {
	wantURIs := make([]string, len(kept))
	for i, r := range kept {
		wantURIs[i] = r.URI
	}

	n, ok := v.reg.GetNode(nexusNode)
	if !ok {
		return internalErr("volume %s: nexus node %s not registered", v.UUID, nexusNode)
	}

	if v.Nexus == nil {
		x, err := n.CreateNexus(ctx, v.UUID, v.Size, wantURIs)
		if err != nil {
			return internalErr("volume %s: create nexus on %s: %v", v.UUID, nexusNode, err)
		}
		v.Nexus = &x
		return nil
	}

	have := make(map[string]bool, len(v.Nexus.Children))
	for _, c := range v.Nexus.Children {
		have[c.URI] = true
	}
	want := make(map[string]bool, len(wantURIs))
	for _, u := range wantURIs {
		want[u] = true
	}

	for uri := range have {
		if want[uri] {
			continue
		}
		if x, err := n.RemoveChildNexus(ctx, v.UUID, uri); err != nil {
			v.log.Warn().Err(err).Str("uri", uri).Msg("remove excess nexus child failed")
		} else {
			v.Nexus = &x
		}
	}
	for _, uri := range wantURIs {
		if have[uri] {
			continue
		}
		x, err := n.AddChildNexus(ctx, v.UUID, uri)
		if err != nil {
			return internalErr("volume %s: add nexus child %s: %v", v.UUID, uri, err)
		}
		v.Nexus = &x
	}
	return nil
}

// trimLocked implements step 5: destroy every replica that didn't make the
// ranked cut. Failures are logged, not propagated (spec.md §4.5 step 5).
func (v *Volume) trimLocked(ctx context.Context, excess []entity.Replica) {
	for _, r := range excess {
		n, ok := v.reg.GetNode(r.Node)
		if !ok {
			continue
		}
		if err := n.DestroyReplica(ctx, v.UUID); err != nil {
			v.log.Warn().Err(err).Str("node", r.Node).Msg("trim excess replica failed")
		}
	}
}
