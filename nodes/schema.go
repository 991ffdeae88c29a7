package nodes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Type tags understood by the host
const (
	TypeImage        = "IMAGE"
	TypeString       = "STRING"
	TypeInt          = "INT"
	TypeFloat        = "FLOAT"
	TypeBoolean      = "BOOLEAN"
	TypePrompt       = "PROMPT"
	TypeExtraPngInfo = "EXTRA_PNGINFO"
)

// Field describes one input of a node: its type tag plus the UI hints the
// host uses to render a widget. Hints are advisory, nodes do not enforce them.
type Field struct {
	Name        string
	Type        string
	Default     interface{}
	Placeholder string
	Tooltip     string
	Multiline   bool
	ForceInput  bool
	Min         *float64
	Max         *float64
	Step        *float64
}

// options returns the hint map serialised next to the type tag, or nil when there are none
func (f Field) options() map[string]interface{} {
	opts := make(map[string]interface{})
	if f.Default != nil {
		opts["default"] = f.Default
	}
	if f.Placeholder != "" {
		opts["placeholder"] = f.Placeholder
	}
	if f.Tooltip != "" {
		opts["tooltip"] = f.Tooltip
	}
	if f.Multiline {
		opts["multiline"] = true
	}
	if f.ForceInput {
		opts["forceInput"] = true
	}
	if f.Min != nil {
		opts["min"] = *f.Min
	}
	if f.Max != nil {
		opts["max"] = *f.Max
	}
	if f.Step != nil {
		opts["step"] = *f.Step
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func (f Field) MarshalJSON() ([]byte, error) {
	if opts := f.options(); opts != nil {
		return json.Marshal([]interface{}{f.Type, opts})
	}
	return json.Marshal([]interface{}{f.Type})
}

// fieldFromRaw rebuilds a Field from the host form ["TYPE", {...}]
func fieldFromRaw(name string, raw json.RawMessage) (Field, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return Field{}, err
	}
	if len(parts) == 0 {
		return Field{}, fmt.Errorf("input %s has no type", name)
	}

	f := Field{Name: name}
	if err := json.Unmarshal(parts[0], &f.Type); err != nil {
		// COMBO inputs carry a list of choices instead of a type tag
		f.Type = "COMBO"
	}
	if len(parts) < 2 {
		return f, nil
	}

	var opts struct {
		Default     interface{} `json:"default"`
		Placeholder string      `json:"placeholder"`
		Tooltip     string      `json:"tooltip"`
		Multiline   bool        `json:"multiline"`
		ForceInput  bool        `json:"forceInput"`
		Min         *float64    `json:"min"`
		Max         *float64    `json:"max"`
		Step        *float64    `json:"step"`
	}
	if err := json.Unmarshal(parts[1], &opts); err != nil {
		return Field{}, err
	}
	f.Default = opts.Default
	f.Placeholder = opts.Placeholder
	f.Tooltip = opts.Tooltip
	f.Multiline = opts.Multiline
	f.ForceInput = opts.ForceInput
	f.Min, f.Max, f.Step = opts.Min, opts.Max, opts.Step
	return f, nil
}

// InputTypes is a node's declared inputs. Field order is significant to the
// host, so each section is an ordered slice rather than a map.
type InputTypes struct {
	Required []Field
	Optional []Field
	Hidden   []Field
}

// Field looks up an input by name across all sections
func (it *InputTypes) Field(name string) (Field, bool) {
	for _, section := range [][]Field{it.Required, it.Optional, it.Hidden} {
		for _, f := range section {
			if f.Name == name {
				return f, true
			}
		}
	}
	return Field{}, false
}

func writeSection(buf *bytes.Buffer, key string, fields []Field, hidden bool) error {
	buf.WriteString(`"` + key + `":{`)
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(f.Name)
		buf.Write(name)
		buf.WriteByte(':')

		var v []byte
		var err error
		if hidden {
			// hidden inputs are declared as a bare type tag
			v, err = json.Marshal(f.Type)
		} else {
			v, err = json.Marshal(f)
		}
		if err != nil {
			return err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return nil
}

func (it InputTypes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeSection(&buf, "required", it.Required, false); err != nil {
		return nil, err
	}
	if len(it.Optional) > 0 {
		buf.WriteByte(',')
		if err := writeSection(&buf, "optional", it.Optional, false); err != nil {
			return nil, err
		}
	}
	if len(it.Hidden) > 0 {
		buf.WriteByte(',')
		if err := writeSection(&buf, "hidden", it.Hidden, true); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (it *InputTypes) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return err
	} // consume opening brace

	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return err
		}

		key := t.(string)
		switch key {
		case "required", "optional", "hidden":
			if _, err := dec.Token(); err != nil { // consume opening brace of nested object
				return err
			}

			current := make([]Field, 0)
			for dec.More() {
				entryKeyToken, err := dec.Token()
				if err != nil {
					return err
				}
				entryKey := entryKeyToken.(string)

				rawValue := json.RawMessage{}
				if err := dec.Decode(&rawValue); err != nil {
					return err
				}

				var f Field
				if key == "hidden" {
					f = Field{Name: entryKey}
					if err := json.Unmarshal(rawValue, &f.Type); err != nil {
						return err
					}
				} else {
					f, err = fieldFromRaw(entryKey, rawValue)
					if err != nil {
						return err
					}
				}
				current = append(current, f)
			}

			if _, err := dec.Token(); err != nil { // consume closing brace of nested object
				return err
			}

			switch key {
			case "required":
				it.Required = current
			case "optional":
				it.Optional = current
			case "hidden":
				it.Hidden = current
			}
		default:
			if err := dec.Decode(new(interface{})); err != nil { // consume and ignore non-expected field
				return err
			}
		}
	}

	if _, err := dec.Token(); err != nil { // consume closing brace
		return err
	}

	return nil
}

// NodeInfo is the object_info entry the host reads to build a node
type NodeInfo struct {
	Input        InputTypes `json:"input"`
	InputOrder   InputOrder `json:"input_order"`
	Output       []string   `json:"output"`
	OutputIsList []bool     `json:"output_is_list"`
	OutputName   []string   `json:"output_name"`
	Name         string     `json:"name"`
	DisplayName  string     `json:"display_name"`
	Description  string     `json:"description"`
	Category     string     `json:"category"`
	OutputNode   bool       `json:"output_node"`
	Function     string     `json:"function"`
}

type InputOrder struct {
	Required []string `json:"required"`
	Optional []string `json:"optional,omitempty"`
	Hidden   []string `json:"hidden,omitempty"`
}

func names(fields []Field) []string {
	retv := make([]string, 0, len(fields))
	for _, f := range fields {
		retv = append(retv, f.Name)
	}
	return retv
}

func floatPtr(v float64) *float64 {
	return &v
}
