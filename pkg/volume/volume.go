package volume

import (
	"context"
	"sync"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/log"
	"github.com/cuemby/mayastor-control-plane/pkg/metrics"
	"github.com/cuemby/mayastor-control-plane/pkg/registry"
	"github.com/rs/zerolog"
)

// Spec is the desired configuration of a Volume, as supplied by the CSI
// façade on CreateVolume/update.
type Spec struct {
	Name           string
	ReplicaCount   int
	RequiredNodes  []string
	PreferredNodes []string
	RequiredBytes  uint64
	LimitBytes     uint64
}

// Volume is the reconciled object backing one CSI volume id. All field
// access outside ensure()/destroy()/publish()/unpublish() goes through
// Snapshot, which returns a defensive copy.
type Volume struct {
	mu  sync.Mutex // serializes ensure/update/destroy/publish/unpublish
	reg *registry.Registry
	log zerolog.Logger

	entity.Volume
}

// Snapshot returns a defensive copy of the volume's current spec+state.
func (v *Volume) Snapshot() entity.Volume {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.copyLocked()
}

func (v *Volume) copyLocked() entity.Volume {
	cp := v.Volume
	cp.RequiredNodes = append([]string(nil), v.RequiredNodes...)
	cp.PreferredNodes = append([]string(nil), v.PreferredNodes...)
	cp.Replicas = append([]entity.Replica(nil), v.Replicas...)
	if v.Nexus != nil {
		nx := *v.Nexus
		cp.Nexus = &nx
	}
	return cp
}

// applySpecLocked copies a Spec's fields onto the volume's desired state.
func (v *Volume) applySpecLocked(spec Spec) {
	if v.Name == "" {
		v.Name = spec.Name
	}
	v.ReplicaCount = spec.ReplicaCount
	v.RequiredNodes = spec.RequiredNodes
	v.PreferredNodes = spec.PreferredNodes
	v.RequiredBytes = spec.RequiredBytes
	v.LimitBytes = spec.LimitBytes
}

// update applies a new Spec to an existing volume. Shrinking below, or
// growing above, the size already fixed by a prior ensure() is rejected:
// size is immutable once a volume has replicas (spec.md §4.5). It reports
// whether anything actually changed, so the caller knows whether ensure()
// needs to run again.
func (v *Volume) update(spec Spec) (changed bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.Size != 0 {
		limit := spec.LimitBytes
		if limit == 0 {
			limit = spec.RequiredBytes
		}
		if limit != 0 && limit != v.Size {
			return false, invalidArgument("volume %s: size is fixed at %d bytes, cannot resize to %d", v.UUID, v.Size, limit)
		}
	}

	before := v.Volume
	v.applySpecLocked(spec)
	changed = before.ReplicaCount != v.ReplicaCount ||
		!stringsEqual(before.RequiredNodes, v.RequiredNodes) ||
		!stringsEqual(before.PreferredNodes, v.PreferredNodes)
	return changed, nil
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// publish delegates to the existing nexus. It is only valid once ensure()
// has produced one.
func (v *Volume) publish(ctx context.Context, protocol entity.ShareProtocol) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Nexus == nil {
		return "", internalErr("volume %s: publish before nexus exists", v.UUID)
	}
	n, ok := v.reg.GetNode(v.Nexus.Node)
	if !ok {
		return "", internalErr("volume %s: nexus node %s not registered", v.UUID, v.Nexus.Node)
	}
	deviceURI, err := n.PublishNexus(ctx, v.UUID, protocol)
	if err != nil {
		return "", err
	}
	v.Nexus.DeviceURI = deviceURI
	return deviceURI, nil
}

// unpublish delegates to the existing nexus. Calling it with no nexus is a
// no-op (idempotent).
func (v *Volume) unpublish(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Nexus == nil {
		return nil
	}
	n, ok := v.reg.GetNode(v.Nexus.Node)
	if !ok {
		return nil
	}
	if err := n.UnpublishNexus(ctx, v.UUID); err != nil {
		return err
	}
	v.Nexus.DeviceURI = ""
	return nil
}

// destroy tears down the nexus (if any) then every known replica, in
// parallel. NOT_FOUNDs are already swallowed by the node layer, so any
// failure that reaches here is collected and returned as one INTERNAL error.
func (v *Volume) destroy(ctx context.Context) error {
	v.mu.Lock()
	nexus := v.Nexus
	replicas := append([]entity.Replica(nil), v.Replicas...)
	v.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(replicas)+1)

	if nexus != nil {
		if n, ok := v.reg.GetNode(nexus.Node); ok {
			if err := n.DestroyNexus(ctx, v.UUID); err != nil {
				errCh <- err
			}
		}
	}
	for _, r := range replicas {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n, ok := v.reg.GetNode(r.Node); ok {
				if err := n.DestroyReplica(ctx, v.UUID); err != nil {
					errCh <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var msgs []string
	for err := range errCh {
		msgs = append(msgs, err.Error())
	}
	if len(msgs) > 0 {
		return internalErr("volume %s: destroy: %s", v.UUID, joinErrs(msgs))
	}

	v.mu.Lock()
	v.Replicas = nil
	v.Nexus = nil
	v.mu.Unlock()
	return nil
}

// Manager is the process-wide uuid -> Volume map (spec.md §4.5, "Volume
// manager").
type Manager struct {
	mu      sync.Mutex
	volumes map[string]*Volume
	reg     *registry.Registry
	log     zerolog.Logger
}

// NewManager creates an empty Manager backed by reg.
func NewManager(reg *registry.Registry) *Manager {
	return &Manager{
		volumes: make(map[string]*Volume),
		reg:     reg,
		log:     log.WithComponent("volume"),
	}
}

func (m *Manager) getOrCreate(uuid string) *Volume {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.volumes[uuid]
	if !ok {
		v = &Volume{reg: m.reg, log: m.log.With().Str("volume", uuid).Logger()}
		v.UUID = uuid
		v.State = entity.VolumePending
		m.volumes[uuid] = v
	}
	return v
}

// Get returns the volume's current snapshot, if known.
func (m *Manager) Get(uuid string) (entity.Volume, bool) {
	m.mu.Lock()
	v, ok := m.volumes[uuid]
	m.mu.Unlock()
	if !ok {
		return entity.Volume{}, false
	}
	return v.Snapshot(), true
}

// List returns every known volume's snapshot.
func (m *Manager) List() []entity.Volume {
	m.mu.Lock()
	vs := make([]*Volume, 0, len(m.volumes))
	for _, v := range m.volumes {
		vs = append(vs, v)
	}
	m.mu.Unlock()
	out := make([]entity.Volume, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Snapshot())
	}
	return out
}

// Remove drops the volume from the map after Destroy has torn down its
// replicas and nexus.
func (m *Manager) Remove(uuid string) {
	m.mu.Lock()
	delete(m.volumes, uuid)
	m.mu.Unlock()
}

// EnsureVolume creates-or-updates the volume uuid and runs ensure() under
// its per-uuid lock, short-circuiting a re-entrant call whose replica count
// and nexus are already satisfied (spec.md §4.5).
func (m *Manager) EnsureVolume(ctx context.Context, uuid string, spec Spec) (entity.Volume, error) {
	v := m.getOrCreate(uuid)

	v.mu.Lock()
	defer v.mu.Unlock()

	v.applySpecLocked(spec)
	if len(v.Replicas) == v.ReplicaCount && v.Nexus != nil {
		return v.copyLocked(), nil
	}

	timer := metrics.NewTimer()
	err := v.ensureLocked(ctx)
	timer.ObserveDuration(metrics.ReconciliationDuration)
	metrics.ReconciliationCyclesTotal.Inc()
	if err != nil {
		metrics.ReconciliationFailuresTotal.WithLabelValues(string(Code(err))).Inc()
		v.State = entity.VolumeFaulted
		v.Reason = err.Error()
		return v.copyLocked(), err
	}
	v.State = entity.VolumeOnline
	v.Reason = ""
	return v.copyLocked(), nil
}

// UpdateVolume changes a volume's replicaCount/node-preference/byte-range
// spec without immediately reconciling; it reports whether anything
// changed, so callers can decide whether to follow up with EnsureVolume.
func (m *Manager) UpdateVolume(uuid string, spec Spec) (changed bool, err error) {
	m.mu.Lock()
	v, ok := m.volumes[uuid]
	m.mu.Unlock()
	if !ok {
		return false, internalErr("volume %s: not found", uuid)
	}
	return v.update(spec)
}

// DestroyVolume tears down a volume's nexus and replicas and removes it
// from the manager, acquiring the same per-uuid lock ensure() uses (spec.md
// §5: "DeleteVolume waits for any in-flight ensure").
func (m *Manager) DestroyVolume(ctx context.Context, uuid string) error {
	m.mu.Lock()
	v, ok := m.volumes[uuid]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := v.destroy(ctx); err != nil {
		return err
	}
	m.Remove(uuid)
	return nil
}

// PublishVolume publishes the named volume's nexus.
func (m *Manager) PublishVolume(ctx context.Context, uuid string, protocol entity.ShareProtocol) (string, error) {
	m.mu.Lock()
	v, ok := m.volumes[uuid]
	m.mu.Unlock()
	if !ok {
		return "", internalErr("volume %s: not found", uuid)
	}
	return v.publish(ctx, protocol)
}

// UnpublishVolume unpublishes the named volume's nexus, if any.
func (m *Manager) UnpublishVolume(ctx context.Context, uuid string) error {
	m.mu.Lock()
	v, ok := m.volumes[uuid]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return v.unpublish(ctx)
}

func joinErrs(msgs []string) string {
	out := msgs[0]
	for _, m := range msgs[1:] {
		out += "; " + m
	}
	return out
}
