package entity

import (
	"reflect"
	"strconv"
	"strings"
)

// FieldSpec describes one persisted field for the model-schema section of prompts.
type FieldSpec struct {
	Name      string   `json:"field_name"`
	Type      string   `json:"field_type"`
	Help      string   `json:"field_help_text,omitempty"`
	Default   string   `json:"field_default,omitempty"`
	Choices   []string `json:"field_choices,omitempty"`
	MaxLength int      `json:"field_max_length,omitempty"`
	Nullable  bool     `json:"field_null"`
	Unique    bool     `json:"field_unique"`
}

// fieldsOf derives field specs from the json, jsonschema and
// jsonschema_description tags of a spec struct.
func fieldsOf(spec any) []FieldSpec {
	t := reflect.TypeOf(spec)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	fields := make([]FieldSpec, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		fs := FieldSpec{
			Name:     name,
			Help:     f.Tag.Get("jsonschema_description"),
			Default:  f.Tag.Get("default"),
			Unique:   f.Tag.Get("unique") == "true",
			Nullable: f.Type.Kind() == reflect.Pointer,
		}

		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		fs.Type = typeName(ft)

		for _, opt := range strings.Split(f.Tag.Get("jsonschema"), ",") {
			key, value, _ := strings.Cut(opt, "=")
			switch key {
			case "enum":
				fs.Choices = append(fs.Choices, value)
			case "maxLength":
				fs.MaxLength, _ = strconv.Atoi(value)
			case "nullable":
				fs.Nullable = true
			}
		}

		fields = append(fields, fs)
	}
	return fields
}

func typeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "CharField"
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "IntegerField"
	case reflect.Float32, reflect.Float64:
		return "DecimalField"
	case reflect.Bool:
		return "BooleanField"
	case reflect.Slice:
		return "ArrayField"
	default:
		return t.Kind().String()
	}
}
