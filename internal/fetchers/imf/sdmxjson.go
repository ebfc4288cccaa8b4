package imf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// The SDMX_JSON service collapses single-element lists into plain objects:
// a codelist with one code serializes the code as an object, with several as
// an array. flexList reads both shapes.
type flexList []json.RawMessage

func (l *flexList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, (*[]json.RawMessage)(l))
	}
	*l = flexList{json.RawMessage(data)}
	return nil
}

// textNode is the {"#text": ...} wrapper around localized strings.
type textNode struct {
	Text string `json:"#text"`
}

type codeJSON struct {
	Value       string   `json:"@value"`
	Description textNode `json:"Description"`
}

type codelistJSON struct {
	ID    string   `json:"@id"`
	Codes flexList `json:"Code"`
}

type conceptJSON struct {
	ID   string   `json:"@id"`
	Name textNode `json:"Name"`
}

type componentJSON struct {
	ConceptRef           string `json:"@conceptRef"`
	Codelist             string `json:"@codelist"`
	IsFrequencyDimension string `json:"@isFrequencyDimension"`
}

type annotationJSON struct {
	Title string   `json:"AnnotationTitle"`
	Text  textNode `json:"AnnotationText"`
}

type dsdDocument struct {
	Structure struct {
		CodeLists struct {
			CodeList flexList `json:"CodeList"`
		} `json:"CodeLists"`
		Concepts struct {
			ConceptScheme struct {
				Concept flexList `json:"Concept"`
			} `json:"ConceptScheme"`
		} `json:"Concepts"`
		KeyFamilies struct {
			KeyFamily struct {
				Components struct {
					Dimension flexList `json:"Dimension"`
					Attribute flexList `json:"Attribute"`
				} `json:"Components"`
				Annotations struct {
					Annotation flexList `json:"Annotation"`
				} `json:"Annotations"`
			} `json:"KeyFamily"`
		} `json:"KeyFamilies"`
	} `json:"Structure"`
}

type compactDocument struct {
	CompactData struct {
		DataSet struct {
			Series flexList `json:"Series"`
		} `json:"DataSet"`
	} `json:"CompactData"`
}

func decodeList[T any](list flexList) ([]T, error) {
	out := make([]T, 0, len(list))
	for _, raw := range list {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// jsonString reads a field that the service serializes either as a JSON
// string or as a bare number.
func jsonString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("imf: not a scalar: %s", raw)
	}
	return n.String(), nil
}

// rawSeries is one CompactData series: "@"-prefixed keys hold dimension and
// attribute values, "Obs" holds the observations.
type rawSeries map[string]json.RawMessage

func (s rawSeries) attr(key string) (string, error) {
	raw, ok := s["@"+key]
	if !ok {
		return "", nil
	}
	return jsonString(raw)
}

func (s rawSeries) observations() ([]rawSeries, error) {
	raw, ok := s["Obs"]
	if !ok {
		return nil, nil
	}
	var list flexList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return decodeList[rawSeries](list)
}

// versionedRelease derives a release date from a dataset history code such
// as GFSR2015 or MCDREO201410: the base code followed by a year and an
// optional month.
func versionedRelease(code, base string) (int, int, bool) {
	suffix := code[len(base):]
	if len(suffix) < 4 {
		return 0, 0, false
	}
	year, err := strconv.Atoi(suffix[:4])
	if err != nil {
		return 0, 0, false
	}
	month := 1
	if len(suffix) >= 6 {
		if m, err := strconv.Atoi(suffix[len(suffix)-2:]); err == nil && m >= 1 && m <= 12 {
			month = m
		}
	}
	return year, month, true
}
