package csi

import (
	"context"
	"sort"
	"strconv"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/nodeclient"
	"github.com/cuemby/mayastor-control-plane/pkg/volume"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultReplicaCount = 1

func (s *Server) checkReady() error {
	if !s.ready.Load() {
		return status.Error(codes.Unavailable, "controller not ready")
	}
	return nil
}

func (s *Server) ControllerGetCapabilities(ctx context.Context, req *csi.ControllerGetCapabilitiesRequest) (*csi.ControllerGetCapabilitiesResponse, error) {
	rpcs := []csi.ControllerServiceCapability_RPC_Type{
		csi.ControllerServiceCapability_RPC_CREATE_DELETE_VOLUME,
		csi.ControllerServiceCapability_RPC_PUBLISH_UNPUBLISH_VOLUME,
		csi.ControllerServiceCapability_RPC_LIST_VOLUMES,
		csi.ControllerServiceCapability_RPC_GET_CAPACITY,
	}
	caps := make([]*csi.ControllerServiceCapability, 0, len(rpcs))
	for _, rpc := range rpcs {
		caps = append(caps, &csi.ControllerServiceCapability{
			Type: &csi.ControllerServiceCapability_Rpc{
				Rpc: &csi.ControllerServiceCapability_RPC{Type: rpc},
			},
		})
	}
	return &csi.ControllerGetCapabilitiesResponse{Capabilities: caps}, nil
}

// CreateVolume implements spec.md §4.6: validate name/access-mode/topology,
// derive replicaCount from parameters.repl, and converge via ensureVolume.
func (s *Server) CreateVolume(ctx context.Context, req *csi.CreateVolumeRequest) (*csi.CreateVolumeResponse, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}

	uuidStr, err := parseVolumeName(req.GetName())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if len(req.GetVolumeCapabilities()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "volume_capabilities is required")
	}
	if err := validateAccessModes(req.GetVolumeCapabilities()); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	required, preferred, err := requiredNodesFromTopology(req.GetAccessibilityRequirements())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	replicaCount := defaultReplicaCount
	if repl, ok := req.GetParameters()["repl"]; ok {
		n, err := strconv.Atoi(repl)
		if err != nil || n <= 0 {
			return nil, status.Errorf(codes.InvalidArgument, "parameters.repl %q must be a positive integer", repl)
		}
		replicaCount = n
	}

	spec := volume.Spec{
		Name:           req.GetName(),
		ReplicaCount:   replicaCount,
		RequiredNodes:  required,
		PreferredNodes: preferred,
		RequiredBytes:  uint64(req.GetCapacityRange().GetRequiredBytes()),
		LimitBytes:     uint64(req.GetCapacityRange().GetLimitBytes()),
	}

	vol, err := s.volumes.EnsureVolume(ctx, uuidStr, spec)
	if err != nil {
		return nil, status.Error(volume.Code(err), err.Error())
	}

	var topo []*csi.Topology
	if vol.Nexus != nil {
		topo = append(topo, topologyFor(vol.Nexus.Node))
	}

	return &csi.CreateVolumeResponse{
		Volume: &csi.Volume{
			VolumeId:           vol.UUID,
			CapacityBytes:      int64(vol.Size),
			AccessibleTopology: topo,
		},
	}, nil
}

// DeleteVolume is idempotent (P5): a volume already gone is not an error.
func (s *Server) DeleteVolume(ctx context.Context, req *csi.DeleteVolumeRequest) (*csi.DeleteVolumeResponse, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id is required")
	}
	if err := s.volumes.DestroyVolume(ctx, req.GetVolumeId()); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &csi.DeleteVolumeResponse{}, nil
}

// ControllerPublishVolume implements spec.md §4.6: nodeId must name the
// nexus's own node; ALREADY_EXISTS from the underlying publish is success.
func (s *Server) ControllerPublishVolume(ctx context.Context, req *csi.ControllerPublishVolumeRequest) (*csi.ControllerPublishVolumeResponse, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	if req.GetReadonly() {
		return nil, status.Error(codes.InvalidArgument, "read-only publish is not supported")
	}
	nodeName, err := parseNodeID(req.GetNodeId())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	vol, ok := s.volumes.Get(req.GetVolumeId())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "volume %s not found", req.GetVolumeId())
	}
	if vol.Nexus == nil {
		return nil, status.Errorf(codes.FailedPrecondition, "volume %s has no nexus", req.GetVolumeId())
	}
	if vol.Nexus.Node != nodeName {
		return nil, status.Errorf(codes.InvalidArgument, "volume %s nexus is on %s, not %s", req.GetVolumeId(), vol.Nexus.Node, nodeName)
	}

	if _, err := s.volumes.PublishVolume(ctx, req.GetVolumeId(), entity.ShareNvmf); err != nil {
		if !nodeclient.IsAlreadyExists(err) {
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	return &csi.ControllerPublishVolumeResponse{}, nil
}

// ControllerUnpublishVolume is idempotent; an unknown volume is NOT_FOUND,
// a node mismatch is logged but the unpublish still proceeds.
func (s *Server) ControllerUnpublishVolume(ctx context.Context, req *csi.ControllerUnpublishVolumeRequest) (*csi.ControllerUnpublishVolumeResponse, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	vol, ok := s.volumes.Get(req.GetVolumeId())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "volume %s not found", req.GetVolumeId())
	}
	if req.GetNodeId() != "" {
		if nodeName, err := parseNodeID(req.GetNodeId()); err == nil && vol.Nexus != nil && vol.Nexus.Node != nodeName {
			s.logger.Warn().Str("volume", req.GetVolumeId()).Str("requested", nodeName).Str("actual", vol.Nexus.Node).
				Msg("unpublish requested from unexpected node")
		}
	}
	if err := s.volumes.UnpublishVolume(ctx, req.GetVolumeId()); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &csi.ControllerUnpublishVolumeResponse{}, nil
}

// ListVolumes returns a paginated snapshot of every known volume.
func (s *Server) ListVolumes(ctx context.Context, req *csi.ListVolumesRequest) (*csi.ListVolumesResponse, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	offset, ok := s.pages.resolve(req.GetStartingToken())
	if !ok {
		return nil, status.Errorf(codes.Aborted, "starting_token %q is invalid or expired", req.GetStartingToken())
	}

	vols := s.volumes.List()
	sort.Slice(vols, func(i, j int) bool { return vols[i].UUID < vols[j].UUID })

	maxEntries := int(req.GetMaxEntries())
	if maxEntries <= 0 {
		maxEntries = len(vols)
	}
	if offset > len(vols) {
		offset = len(vols)
	}
	end := offset + maxEntries
	if end > len(vols) {
		end = len(vols)
	}

	entries := make([]*csi.ListVolumesResponse_Entry, 0, end-offset)
	for _, vol := range vols[offset:end] {
		entries = append(entries, &csi.ListVolumesResponse_Entry{
			Volume: volumeToCSI(vol),
		})
	}

	var nextToken string
	if end < len(vols) {
		nextToken = s.pages.alloc(end)
	}
	return &csi.ListVolumesResponse{Entries: entries, NextToken: nextToken}, nil
}

func volumeToCSI(vol entity.Volume) *csi.Volume {
	var topo []*csi.Topology
	if vol.Nexus != nil {
		topo = append(topo, topologyFor(vol.Nexus.Node))
	}
	return &csi.Volume{
		VolumeId:           vol.UUID,
		CapacityBytes:      int64(vol.Size),
		AccessibleTopology: topo,
	}
}

// GetCapacity sums accessible free space, scoped to a single node when the
// accessible topology names one (spec.md §4.6).
func (s *Server) GetCapacity(ctx context.Context, req *csi.GetCapacityRequest) (*csi.GetCapacityResponse, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	nodeName, _ := topologyNode(req.GetAccessibleTopology())
	return &csi.GetCapacityResponse{AvailableCapacity: int64(s.registry.GetCapacity(nodeName))}, nil
}

// ValidateVolumeCapabilities confirms iff any capability requests
// SINGLE_NODE_WRITER.
func (s *Server) ValidateVolumeCapabilities(ctx context.Context, req *csi.ValidateVolumeCapabilitiesRequest) (*csi.ValidateVolumeCapabilitiesResponse, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	if _, ok := s.volumes.Get(req.GetVolumeId()); !ok {
		return nil, status.Errorf(codes.NotFound, "volume %s not found", req.GetVolumeId())
	}
	if !hasSingleNodeWriter(req.GetVolumeCapabilities()) {
		return &csi.ValidateVolumeCapabilitiesResponse{Message: "only SINGLE_NODE_WRITER is supported"}, nil
	}
	return &csi.ValidateVolumeCapabilitiesResponse{
		Confirmed: &csi.ValidateVolumeCapabilitiesResponse_Confirmed{
			VolumeContext:      req.GetVolumeContext(),
			VolumeCapabilities: req.GetVolumeCapabilities(),
			Parameters:         req.GetParameters(),
		},
	}, nil
}
