package sim

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Values is a configuration field that accepts either a single number or a
// list of numbers. The form the caller used is preserved: a list, even of
// one element, reports IsList() == true.
type Values struct {
	values []float64
	list   bool
}

// Scalar returns a single-valued Values.
func Scalar(v float64) Values {
	return Values{values: []float64{v}}
}

// List returns a list-form Values.
func List(vs ...float64) Values {
	out := make([]float64, len(vs))
	copy(out, vs)
	return Values{values: out, list: true}
}

// IsList reports whether the value was supplied in list form.
func (v Values) IsList() bool { return v.list }

// Len returns the number of values.
func (v Values) Len() int { return len(v.values) }

// IsZero reports whether nothing was supplied.
func (v Values) IsZero() bool { return len(v.values) == 0 }

// All returns a copy of the values in declaration order.
func (v Values) All() []float64 {
	out := make([]float64, len(v.values))
	copy(out, v.values)
	return out
}

// First returns the first value, or 0 when empty.
func (v Values) First() float64 {
	if len(v.values) == 0 {
		return 0
	}
	return v.values[0]
}

func (v Values) String() string {
	if v.list {
		return fmt.Sprint(v.values)
	}
	return fmt.Sprint(v.First())
}

// MarshalJSON emits a number for scalar form and an array for list form.
func (v Values) MarshalJSON() ([]byte, error) {
	if v.list {
		if v.values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.values)
	}
	if len(v.values) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(v.values[0])
}

// UnmarshalJSON accepts a number or an array of numbers.
func (v *Values) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = Values{}
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var vs []float64
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("expected a list of numbers: %w", err)
		}
		*v = List(vs...)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("expected a number or a list of numbers: %w", err)
	}
	*v = Scalar(f)
	return nil
}

// MarshalYAML mirrors MarshalJSON.
func (v Values) MarshalYAML() (interface{}, error) {
	if v.list {
		return v.All(), nil
	}
	if len(v.values) == 0 {
		return nil, nil
	}
	return v.values[0], nil
}

// UnmarshalYAML accepts a scalar node or a sequence node.
func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var vs []float64
		if err := node.Decode(&vs); err != nil {
			return fmt.Errorf("line %d: expected a list of numbers: %w", node.Line, err)
		}
		*v = List(vs...)
		return nil
	case yaml.ScalarNode:
		var f float64
		if err := node.Decode(&f); err != nil {
			return fmt.Errorf("line %d: expected a number: %w", node.Line, err)
		}
		*v = Scalar(f)
		return nil
	default:
		return fmt.Errorf("line %d: expected a number or a list of numbers", node.Line)
	}
}
