package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ComponentSpec names a component implementation and its parameters. The
// type string is resolved against the component registry at Build time;
// params are decoded into the factory's typed option struct.
type ComponentSpec struct {
	Type   string         `yaml:"type" json:"type"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// ComponentList is the config value for one pipeline slot. Three spellings
// are accepted:
//
//	retriever: bm25                      # bare type name
//	retriever: {type: bm25, params: {}}  # full record
//	estimator:                           # ordered list of either
//	  - baseline
//	  - {type: similarity, params: {winner_threshold: 0.9}}
//
// What a list means is per-slot; see Build.
type ComponentList []ComponentSpec

var _ yaml.Unmarshaler = (*ComponentList)(nil)

// UnmarshalYAML accepts the three spellings and rejects unknown keys inside
// component records.
func (l *ComponentList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode, yaml.MappingNode:
		spec, err := decodeComponentSpec(node)
		if err != nil {
			return err
		}
		*l = ComponentList{spec}
		return nil

	case yaml.SequenceNode:
		out := make(ComponentList, 0, len(node.Content))
		for _, item := range node.Content {
			spec, err := decodeComponentSpec(item)
			if err != nil {
				return err
			}
			out = append(out, spec)
		}
		*l = out
		return nil

	default:
		return fmt.Errorf("line %d: component must be a type name, a {type, params} mapping, or a list of them", node.Line)
	}
}

// decodeComponentSpec decodes one component record. Mapping keys outside
// {type, params} are rejected here because a custom unmarshaler bypasses the
// outer decoder's strict mode.
func decodeComponentSpec(node *yaml.Node) (ComponentSpec, error) {
	var spec ComponentSpec

	switch node.Kind {
	case yaml.ScalarNode:
		if err := node.Decode(&spec.Type); err != nil {
			return spec, err
		}

	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			switch key.Value {
			case "type":
				if err := value.Decode(&spec.Type); err != nil {
					return spec, err
				}
			case "params":
				if err := value.Decode(&spec.Params); err != nil {
					return spec, err
				}
			default:
				return spec, fmt.Errorf("line %d: unknown component key %q (want type, params)", key.Line, key.Value)
			}
		}

	default:
		return spec, fmt.Errorf("line %d: component must be a type name or a {type, params} mapping", node.Line)
	}

	if spec.Type == "" {
		return spec, fmt.Errorf("line %d: component type is required", node.Line)
	}
	return spec, nil
}

var _ yaml.Unmarshaler = (*ComponentSpec)(nil)

// UnmarshalYAML lets nested sub-component fields (hybrid legs, tiered
// fallbacks) use the same scalar shorthand as top-level slots.
func (s *ComponentSpec) UnmarshalYAML(node *yaml.Node) error {
	spec, err := decodeComponentSpec(node)
	if err != nil {
		return err
	}
	*s = spec
	return nil
}

// DecodeParams decodes a component's raw params into a typed option struct.
// Unknown param keys are rejected, keeping the loader's strictness inside
// params mappings too.
func DecodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}

	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
