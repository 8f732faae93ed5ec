package csi

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/google/uuid"
)

const hostnameTopologyKey = "kubernetes.io/hostname"

const nodeIDScheme = "mayastor://"

var volumeNameRE = regexp.MustCompile(`^pvc-([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

// parseVolumeName extracts and validates the uuid embedded in a CSI volume
// name of the form pvc-<uuid> (spec.md §6).
func parseVolumeName(name string) (string, error) {
	m := volumeNameRE.FindStringSubmatch(name)
	if m == nil {
		return "", fmt.Errorf("name %q does not match pvc-<uuid>", name)
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return "", fmt.Errorf("name %q: %w", name, err)
	}
	return id.String(), nil
}

// parseNodeID parses a CSI node id of the form mayastor://<node-name>.
func parseNodeID(id string) (string, error) {
	if !strings.HasPrefix(id, nodeIDScheme) {
		return "", fmt.Errorf("node id %q: expected scheme %s", id, nodeIDScheme)
	}
	name := strings.TrimPrefix(id, nodeIDScheme)
	if name == "" {
		return "", fmt.Errorf("node id %q: empty node name", id)
	}
	return name, nil
}

func formatNodeID(name string) string {
	return nodeIDScheme + name
}

// hasSingleNodeWriter reports whether any capability requests the sole
// supported access mode.
func hasSingleNodeWriter(caps []*csi.VolumeCapability) bool {
	for _, c := range caps {
		if c.GetAccessMode().GetMode() == csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER {
			return true
		}
	}
	return false
}

// validateAccessModes rejects any capability whose mode is not
// SINGLE_NODE_WRITER (spec.md §4.6).
func validateAccessModes(caps []*csi.VolumeCapability) error {
	for _, c := range caps {
		if c.GetAccessMode().GetMode() != csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER {
			return fmt.Errorf("unsupported access mode %v", c.GetAccessMode().GetMode())
		}
	}
	return nil
}

// requiredNodesFromTopology returns the hostnames listed in requisite,
// erroring on any non-hostname topology key; preferred entries that aren't
// hostname keys are silently ignored (spec.md §4.6).
func requiredNodesFromTopology(req *csi.TopologyRequirement) ([]string, []string, error) {
	if req == nil {
		return nil, nil, nil
	}
	var required []string
	for _, t := range req.GetRequisite() {
		for k, v := range t.GetSegments() {
			if k != hostnameTopologyKey {
				return nil, nil, fmt.Errorf("unsupported topology key %q", k)
			}
			required = append(required, v)
		}
	}
	var preferred []string
	for _, t := range req.GetPreferred() {
		if v, ok := t.GetSegments()[hostnameTopologyKey]; ok {
			preferred = append(preferred, v)
		}
	}
	return required, preferred, nil
}

func topologyFor(node string) *csi.Topology {
	if node == "" {
		return nil
	}
	return &csi.Topology{Segments: map[string]string{hostnameTopologyKey: node}}
}

func topologyNode(t *csi.Topology) (string, bool) {
	if t == nil {
		return "", false
	}
	v, ok := t.GetSegments()[hostnameTopologyKey]
	return v, ok
}
