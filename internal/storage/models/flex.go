package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexString decodes from a JSON string, number, bool or array. Model output
// often returns a list where prose was asked for; lists are joined with ", ".
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case '[':
		var items FlexList
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*f = FlexString(strings.Join(items, ", "))
	case '{':
		*f = FlexString(data)
	default:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		switch t := v.(type) {
		case float64:
			*f = FlexString(strconv.FormatFloat(t, 'f', -1, 64))
		case bool:
			*f = FlexString(strconv.FormatBool(t))
		}
	}
	return nil
}

func (f FlexString) String() string { return string(f) }

// FlexList decodes from a JSON array of scalars or from a single string.
type FlexList []string

func (l *FlexList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	if data[0] != '[' {
		var s FlexString
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		*l = FlexList{string(s)}
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FlexList, 0, len(raw))
	for _, item := range raw {
		var s FlexString
		if err := json.Unmarshal(item, &s); err != nil {
			return err
		}
		if s != "" {
			out = append(out, string(s))
		}
	}
	*l = out
	return nil
}
