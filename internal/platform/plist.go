package platform

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nace/volcrypt/internal/system"
)

// decodePlist parses an XML property list into dict (map[string]any),
// array ([]any), string, int64, float64 and bool values. <data> and <date>
// are returned as their raw text.
func decodePlist(data []byte) (any, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: plist: no root element", system.ErrParse)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: plist: %v", system.ErrParse, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local == "plist" {
				continue
			}
			v, err := plistValue(dec, se)
			if err != nil {
				return nil, fmt.Errorf("%w: plist: %v", system.ErrParse, err)
			}
			return v, nil
		}
	}
}

func plistValue(dec *xml.Decoder, se xml.StartElement) (any, error) {
	switch se.Name.Local {
	case "dict":
		return plistDict(dec)
	case "array":
		return plistArray(dec)
	case "true", "false":
		if err := dec.Skip(); err != nil {
			return nil, err
		}
		return se.Name.Local == "true", nil
	}

	var text string
	if err := dec.DecodeElement(&text, &se); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)

	switch se.Name.Local {
	case "integer":
		return strconv.ParseInt(text, 10, 64)
	case "real":
		return strconv.ParseFloat(text, 64)
	case "string", "data", "date":
		return text, nil
	default:
		return nil, fmt.Errorf("unknown element <%s>", se.Name.Local)
	}
}

func plistDict(dec *xml.Decoder) (map[string]any, error) {
	out := make(map[string]any)
	var key string
	haveKey := false

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "key" {
				if err := dec.DecodeElement(&key, &t); err != nil {
					return nil, err
				}
				haveKey = true
				continue
			}
			if !haveKey {
				return nil, fmt.Errorf("dict value <%s> without key", t.Name.Local)
			}
			v, err := plistValue(dec, t)
			if err != nil {
				return nil, err
			}
			out[key] = v
			haveKey = false
		case xml.EndElement:
			return out, nil
		}
	}
}

func plistArray(dec *xml.Decoder) ([]any, error) {
	var out []any
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			v, err := plistValue(dec, t)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		case xml.EndElement:
			return out, nil
		}
	}
}

func dictString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func dictUint(m map[string]any, key string) uint64 {
	if v, ok := m[key].(int64); ok && v > 0 {
		return uint64(v)
	}
	return 0
}

func dictBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func dictSlice(m map[string]any, key string) []map[string]any {
	arr, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if d, ok := v.(map[string]any); ok {
			out = append(out, d)
		}
	}
	return out
}
