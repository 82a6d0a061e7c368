package schema

import "strings"

// FieldType is the closed enum of normalized form control types. Every raw DOM
// type maps into this enum; unrecognized types collapse to FieldTypeText.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeEmail    FieldType = "email"
	FieldTypeTel      FieldType = "tel"
	FieldTypeNumber   FieldType = "number"
	FieldTypePassword FieldType = "password"
	FieldTypeURL      FieldType = "url"
	FieldTypeDate     FieldType = "date"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeTime     FieldType = "time"
	FieldTypeMonth    FieldType = "month"
	FieldTypeWeek     FieldType = "week"
	FieldTypeColor    FieldType = "color"
	FieldTypeFile     FieldType = "file"
	FieldTypeRadio    FieldType = "radio"
	FieldTypeCheckbox FieldType = "checkbox"
	FieldTypeSelect   FieldType = "select"
	FieldTypeTextarea FieldType = "textarea"
)

// NormalizeFieldType maps a raw control type to the FieldType enum. The
// mapping is total: anything it does not recognize becomes FieldTypeText, so
// downstream code only ever switches on enum members.
func NormalizeFieldType(raw string) FieldType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "email":
		return FieldTypeEmail
	case "tel", "phone":
		return FieldTypeTel
	case "number", "range":
		return FieldTypeNumber
	case "password":
		return FieldTypePassword
	case "url":
		return FieldTypeURL
	case "date":
		return FieldTypeDate
	case "datetime", "datetime-local":
		return FieldTypeDatetime
	case "time":
		return FieldTypeTime
	case "month":
		return FieldTypeMonth
	case "week":
		return FieldTypeWeek
	case "color":
		return FieldTypeColor
	case "file":
		return FieldTypeFile
	case "radio":
		return FieldTypeRadio
	case "checkbox":
		return FieldTypeCheckbox
	case "select", "select-one", "select-multiple":
		return FieldTypeSelect
	case "textarea":
		return FieldTypeTextarea
	default:
		return FieldTypeText
	}
}

// FieldOption is one selectable value of a select control or radio/checkbox
// group.
type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FieldSchema describes one detected form control. Selector is the only link
// back to the live element: schemas cross a serialization boundary, so the
// element must be re-resolved from the selector at fill time.
type FieldSchema struct {
	Name        string        `json:"name"`
	Type        FieldType     `json:"type"`
	Label       string        `json:"label,omitempty"`
	Required    bool          `json:"required"`
	Placeholder string        `json:"placeholder,omitempty"`
	Value       string        `json:"value,omitempty"`
	Selector    string        `json:"selector"`
	Options     []FieldOption `json:"options,omitempty"`
}

// FormlessContainerID is the synthetic schema id grouping fillable controls
// that are not nested in any form element.
const FormlessContainerID = "formless_container"

// DefaultMinFormFields is the minimum field count for a candidate schema to be
// retained. Single-field widgets such as a lone search box are not forms.
const DefaultMinFormFields = 2

// FormSchema describes one detected form or the formless cluster.
type FormSchema struct {
	ID     string        `json:"id"`
	Action string        `json:"action,omitempty"`
	Method string        `json:"method,omitempty"`
	Fields []FieldSchema `json:"fields"`
}

// FieldByName returns the first field with the given name.
func (f FormSchema) FieldByName(name string) (FieldSchema, bool) {
	for _, field := range f.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldSchema{}, false
}
