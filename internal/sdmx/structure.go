package sdmx

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
)

// Structure is the digested content of an SDMX 2.1 structure message:
// whatever subset of codelists, concepts, data structures, dataflows and
// category scheme the message carried.
type Structure struct {
	Codelists       map[string]map[string]string // codelist id -> code -> label
	Concepts        map[string]string            // concept id -> name
	DataStructures  map[string]DataStructure
	Dataflows       map[string]Dataflow
	Categories      []Category
	Categorisations map[string][]string // category id -> dataflow ids
}

type Dataflow struct {
	ID       string
	Name     string
	AgencyID string
	DSDRef   string
}

type Component struct {
	ConceptRef  string
	CodelistRef string
	Position    int
}

type DataStructure struct {
	ID         string
	Name       string
	Dimensions []Component // ordered by position
	Attributes []Component
	TimeFormat string
}

type Category struct {
	ID       string
	Name     string
	Children []Category
}

type nameXML struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

func pickName(names []nameXML) string {
	for _, lang := range []string{"en", "fr"} {
		for _, n := range names {
			if n.Lang == lang {
				return n.Value
			}
		}
	}
	if len(names) > 0 {
		return names[0].Value
	}
	return ""
}

type refXML struct {
	ID       string `xml:"id,attr"`
	AgencyID string `xml:"agencyID,attr"`
}

type codeXML struct {
	ID    string    `xml:"id,attr"`
	Names []nameXML `xml:"Name"`
}

type codelistXML struct {
	ID    string    `xml:"id,attr"`
	Codes []codeXML `xml:"Code"`
}

type conceptXML struct {
	ID    string    `xml:"id,attr"`
	Names []nameXML `xml:"Name"`
}

type componentXML struct {
	ID              string `xml:"id,attr"`
	Position        int    `xml:"position,attr"`
	ConceptIdentity struct {
		Ref refXML `xml:"Ref"`
	} `xml:"ConceptIdentity"`
	LocalRepresentation struct {
		Enumeration struct {
			Ref refXML `xml:"Ref"`
		} `xml:"Enumeration"`
	} `xml:"LocalRepresentation"`
}

type dataStructureXML struct {
	ID         string    `xml:"id,attr"`
	Names      []nameXML `xml:"Name"`
	Components struct {
		Dimensions []componentXML `xml:"DimensionList>Dimension"`
		Attributes []componentXML `xml:"AttributeList>Attribute"`
	} `xml:"DataStructureComponents"`
}

type dataflowXML struct {
	ID        string    `xml:"id,attr"`
	AgencyID  string    `xml:"agencyID,attr"`
	Names     []nameXML `xml:"Name"`
	Structure struct {
		Ref refXML `xml:"Ref"`
	} `xml:"Structure"`
}

type categoryXML struct {
	ID       string        `xml:"id,attr"`
	Names    []nameXML     `xml:"Name"`
	Children []categoryXML `xml:"Category"`
}

type categorisationXML struct {
	Source struct {
		Ref refXML `xml:"Ref"`
	} `xml:"Source"`
	Target struct {
		Ref refXML `xml:"Ref"`
	} `xml:"Target"`
}

type structureDocXML struct {
	XMLName         xml.Name            `xml:"Structure"`
	Codelists       []codelistXML       `xml:"Structures>Codelists>Codelist"`
	Concepts        []conceptXML        `xml:"Structures>Concepts>ConceptScheme>Concept"`
	DataStructures  []dataStructureXML  `xml:"Structures>DataStructures>DataStructure"`
	Dataflows       []dataflowXML       `xml:"Structures>Dataflows>Dataflow"`
	CategorySchemes []categoryXML       `xml:"Structures>CategorySchemes>CategoryScheme>Category"`
	Categorisations []categorisationXML `xml:"Structures>Categorisations>Categorisation"`
}

// ParseStructure reads an SDMX 2.1 structure message.
func ParseStructure(r io.Reader) (*Structure, error) {
	var doc structureDocXML
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("sdmx: structure message: %w", err)
	}

	s := &Structure{
		Codelists:       make(map[string]map[string]string, len(doc.Codelists)),
		Concepts:        make(map[string]string, len(doc.Concepts)),
		DataStructures:  make(map[string]DataStructure, len(doc.DataStructures)),
		Dataflows:       make(map[string]Dataflow, len(doc.Dataflows)),
		Categorisations: make(map[string][]string, len(doc.Categorisations)),
	}

	for _, cl := range doc.Codelists {
		codes := make(map[string]string, len(cl.Codes))
		for _, code := range cl.Codes {
			codes[code.ID] = pickName(code.Names)
		}
		s.Codelists[cl.ID] = codes
	}

	for _, concept := range doc.Concepts {
		s.Concepts[concept.ID] = pickName(concept.Names)
	}

	for _, dsd := range doc.DataStructures {
		out := DataStructure{
			ID:   dsd.ID,
			Name: pickName(dsd.Names),
		}
		for _, dim := range dsd.Components.Dimensions {
			out.Dimensions = append(out.Dimensions, toComponent(dim))
		}
		sort.SliceStable(out.Dimensions, func(i, j int) bool {
			return out.Dimensions[i].Position < out.Dimensions[j].Position
		})
		for _, attr := range dsd.Components.Attributes {
			out.Attributes = append(out.Attributes, toComponent(attr))
		}
		s.DataStructures[dsd.ID] = out
	}

	for _, flow := range doc.Dataflows {
		s.Dataflows[flow.ID] = Dataflow{
			ID:       flow.ID,
			Name:     pickName(flow.Names),
			AgencyID: flow.AgencyID,
			DSDRef:   flow.Structure.Ref.ID,
		}
	}

	for _, root := range doc.CategorySchemes {
		s.Categories = append(s.Categories, toCategory(root))
	}

	for _, cat := range doc.Categorisations {
		target := cat.Target.Ref.ID
		s.Categorisations[target] = append(s.Categorisations[target], cat.Source.Ref.ID)
	}

	return s, nil
}

func toComponent(c componentXML) Component {
	ref := c.ConceptIdentity.Ref.ID
	if ref == "" {
		ref = c.ID
	}
	return Component{
		ConceptRef:  ref,
		CodelistRef: c.LocalRepresentation.Enumeration.Ref.ID,
		Position:    c.Position,
	}
}

func toCategory(c categoryXML) Category {
	out := Category{ID: c.ID, Name: pickName(c.Names)}
	for _, child := range c.Children {
		out.Children = append(out.Children, toCategory(child))
	}
	return out
}

// DimensionKeys returns the ordered concept refs of the DSD dimensions.
func (d DataStructure) DimensionKeys() []string {
	keys := make([]string, 0, len(d.Dimensions))
	for _, dim := range d.Dimensions {
		keys = append(keys, dim.ConceptRef)
	}
	return keys
}

// AttributeKeys returns the concept refs of the DSD attributes.
func (d DataStructure) AttributeKeys() []string {
	keys := make([]string, 0, len(d.Attributes))
	for _, attr := range d.Attributes {
		keys = append(keys, attr.ConceptRef)
	}
	return keys
}
