package loadcore

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/yourorg/loadcore/pkg/types"
)

// RemapAgents returns a copy of a saved config with every enabled node in
// mapping moved onto its agent. Interface mappings set to "none" are kept.
// cfg is not modified.
func RemapAgents(cfg types.Config, mapping map[string]types.AgentMapping, sbaTopology bool) (types.Config, error) {
	out, err := deepCopy(cfg)
	if err != nil {
		return nil, err
	}
	topology := "Config"
	if sbaTopology {
		topology = "SBAConfig"
	}
	data, err := object(out, "configData")
	if err != nil {
		return nil, err
	}
	topo, err := object(data, topology)
	if err != nil {
		return nil, err
	}
	nodes, err := object(topo, "nodes")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(mapping))
	for n := range mapping {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		m := mapping[name]
		node, ok := nodes[name].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotInConfig, name)
		}
		settings, err := object(node, "settings")
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", name, err)
		}
		if enabled, _ := settings["enable"].(bool); !enabled {
			continue
		}
		agents, ok := settings["mappedAgents"].([]any)
		if !ok || len(agents) == 0 {
			return nil, fmt.Errorf("node %s: no mappedAgents", name)
		}
		agent, ok := agents[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("node %s: mappedAgents[0] is not an object", name)
		}
		agent["agentId"] = m.AgentID
		ifaces, _ := agent["interfaceMappings"].([]any)
		for i, raw := range ifaces {
			im, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("node %s: interfaceMappings[%d] is not an object", name, i)
			}
			if im["agentInterface"] == "none" {
				continue
			}
			im["agentInterface"] = m.Interface
			im["agentInterfaceMac"] = m.Mac
		}
	}
	return out, nil
}

func object(m map[string]any, key string) (map[string]any, error) {
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config has no %q object", key)
	}
	return v, nil
}

func deepCopy(cfg types.Config) (types.Config, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("copy config: %w", err)
	}
	out, err := decodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("copy config: %w", err)
	}
	return out, nil
}
