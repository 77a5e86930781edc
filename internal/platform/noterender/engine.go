// Package noterender turns a saved note's section payloads into a printable
// document without knowing in advance which fields a section has. Rendering
// is pure: the same input always yields the same sections in the same order.
package noterender

import (
	"strings"

	"github.com/ehr/clinicaldocs/pkg/schemavalue"
)

// NoDataPlaceholder is the body of a section with nothing recorded.
const NoDataPlaceholder = "No data recorded"

// AdditionalInfoTitle titles the block of non-table vitals fields.
const AdditionalInfoTitle = "Additional Information"

const notApplicable = "N/A"

// metaKeys are bookkeeping keys that can appear next to the sections.
var metaKeys = map[string]bool{
	"id":             true,
	"visit_id":       true,
	"status":         true,
	"therapist_name": true,
}

// vitalSigns are the table rows of a vitals section, in display order.
var vitalSigns = []string{
	"heart_rate",
	"blood_pressure_systolic",
	"blood_pressure_diastolic",
	"respirations",
	"o2_saturation",
	"temperature",
}

const (
	vitalsAtRest         = "at_rest"
	vitalsAfterExertion  = "after_exertion"
	vitalsAdditional     = "vitals_additional"
	vitalsOutOfParameter = "vitals_out_of_parameters"
)

// BodyKind says how a section body is laid out.
type BodyKind string

const (
	BodyEmpty   BodyKind = "empty"
	BodyVitals  BodyKind = "vitals"
	BodyGeneric BodyKind = "generic"
)

// Field is one label:value pair.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func (f Field) String() string { return f.Label + ": " + f.Value }

// Group is a titled label:value grid. A group whose children were all empty
// keeps its title and carries the placeholder instead of fields.
type Group struct {
	Title       string  `json:"title"`
	Fields      []Field `json:"fields"`
	Placeholder string  `json:"placeholder,omitempty"`
}

// VitalRow compares one vital sign at rest and after exertion. A side that
// was not recorded reads "N/A".
type VitalRow struct {
	Label         string `json:"label"`
	AtRest        string `json:"at_rest"`
	AfterExertion string `json:"after_exertion"`
}

func (r VitalRow) String() string {
	return r.Label + " | " + r.AtRest + " | " + r.AfterExertion
}

// RenderedSection is the display form of one section. Placeholder is set when
// there is nothing to show; the section itself is always present.
type RenderedSection struct {
	Key         string     `json:"key"`
	Title       string     `json:"title"`
	Kind        BodyKind   `json:"kind"`
	Placeholder string     `json:"placeholder,omitempty"`
	Vitals      []VitalRow `json:"vitals,omitempty"`
	Fields      []Field    `json:"fields,omitempty"`
	Groups      []Group    `json:"groups,omitempty"`
}

// RenderDocument renders every non-meta section of sectionsData in stored
// order.
func RenderDocument(sectionsData *schemavalue.OrderedMap) []RenderedSection {
	return RenderDocumentOrdered(sectionsData, nil)
}

// RenderDocumentOrdered renders sections named in order first, matched
// loosely by name, followed by the remaining sections in stored order. Names
// in order with no data are skipped.
func RenderDocumentOrdered(sectionsData *schemavalue.OrderedMap, order []string) []RenderedSection {
	if sectionsData == nil {
		return []RenderedSection{}
	}
	entries := make([]schemavalue.Entry, 0, sectionsData.Len())
	for _, e := range sectionsData.Entries() {
		if !metaKeys[e.Key] {
			entries = append(entries, e)
		}
	}

	if len(order) > 0 {
		entries = reorder(entries, order)
	}

	out := make([]RenderedSection, 0, len(entries))
	for _, e := range entries {
		out = append(out, RenderSection(e.Key, e.Value))
	}
	return out
}

func reorder(entries []schemavalue.Entry, order []string) []schemavalue.Entry {
	used := make([]bool, len(entries))
	out := make([]schemavalue.Entry, 0, len(entries))
	for _, name := range order {
		want := normalizeName(name)
		for i, e := range entries {
			if !used[i] && normalizeName(e.Key) == want {
				used[i] = true
				out = append(out, e)
				break
			}
		}
	}
	for i, e := range entries {
		if !used[i] {
			out = append(out, e)
		}
	}
	return out
}

// RenderSection renders one section. Empty data yields the placeholder, a
// name containing "vital" gets the vitals table when its data is an object,
// anything else is grouped generically.
func RenderSection(name string, data schemavalue.Value) RenderedSection {
	sec := RenderedSection{Key: name, Title: Humanize(name)}
	switch {
	case data.IsEmpty():
		sec.Kind = BodyEmpty
	case strings.Contains(strings.ToLower(name), "vital") && data.Kind() == schemavalue.Map:
		sec.Kind = BodyVitals
		sec.Vitals, sec.Groups = renderVitals(data)
	default:
		sec.Kind = BodyGeneric
		sec.Fields, sec.Groups = renderGeneric(data)
	}
	if len(sec.Vitals) == 0 && len(sec.Fields) == 0 && len(sec.Groups) == 0 {
		sec.Kind = BodyEmpty
		sec.Placeholder = NoDataPlaceholder
	}
	return sec
}

// displayValue is the label:value text of v. ok is false for values that are
// not shown at all: null, empty strings and empty lists.
func displayValue(v schemavalue.Value) (string, bool) {
	switch v.Kind() {
	case schemavalue.Null:
		return "", false
	case schemavalue.String, schemavalue.List:
		if v.IsEmpty() {
			return "", false
		}
		return v.String(), true
	case schemavalue.Bool, schemavalue.Number, schemavalue.Map:
		return v.String(), true
	}
	return "", false
}

func renderVitals(data schemavalue.Value) ([]VitalRow, []Group) {
	atRest, _ := data.Get(vitalsAtRest)
	afterExertion, _ := data.Get(vitalsAfterExertion)

	var rows []VitalRow
	for _, key := range vitalSigns {
		rest, okRest := vitalSide(atRest, key)
		exert, okExert := vitalSide(afterExertion, key)
		if !okRest && !okExert {
			continue
		}
		rows = append(rows, VitalRow{Label: Humanize(key), AtRest: rest, AfterExertion: exert})
	}

	var extra []Field
	m, _ := data.AsMap()
	if m != nil {
		for _, e := range m.Entries() {
			switch e.Key {
			case vitalsAtRest, vitalsAfterExertion:
				// Readings that are not an object cannot fill the table.
				if e.Value.Kind() == schemavalue.Map {
					continue
				}
			case vitalsAdditional, vitalsOutOfParameter:
				continue
			}
			if s, ok := displayValue(e.Value); ok {
				extra = append(extra, Field{Label: Humanize(e.Key), Value: s})
			}
		}
		for _, key := range []string{vitalsAdditional, vitalsOutOfParameter} {
			v, present := m.Get(key)
			if !present {
				continue
			}
			if s, ok := displayValue(v); ok {
				extra = append(extra, Field{Label: Humanize(key), Value: s})
			}
		}
	}

	var groups []Group
	if len(extra) > 0 {
		groups = []Group{{Title: AdditionalInfoTitle, Fields: extra}}
	}
	return rows, groups
}

func vitalSide(side schemavalue.Value, key string) (string, bool) {
	v, ok := side.Get(key)
	if !ok {
		return notApplicable, false
	}
	s, ok := displayValue(v)
	if !ok {
		return notApplicable, false
	}
	return s, true
}

// renderGeneric splits the top-level entries into simple fields and one group
// per map-valued field. Only the group's immediate children are laid out;
// deeper values are shown via their string form.
func renderGeneric(data schemavalue.Value) ([]Field, []Group) {
	m, ok := data.AsMap()
	if !ok {
		// A payload that is not an object is a single value.
		if s, ok := displayValue(data); ok {
			return []Field{{Label: "Value", Value: s}}, nil
		}
		return nil, nil
	}

	var fields []Field
	var groups []Group
	for _, e := range m.Entries() {
		switch e.Value.Kind() {
		case schemavalue.Map:
			child, _ := e.Value.AsMap()
			g := Group{Title: Humanize(e.Key)}
			for _, ce := range child.Entries() {
				if s, ok := displayValue(ce.Value); ok {
					g.Fields = append(g.Fields, Field{Label: Humanize(ce.Key), Value: s})
				}
			}
			if len(g.Fields) == 0 {
				g.Placeholder = NoDataPlaceholder
			}
			groups = append(groups, g)
		default:
			if s, ok := displayValue(e.Value); ok {
				fields = append(fields, Field{Label: Humanize(e.Key), Value: s})
			}
		}
	}
	return fields, groups
}
