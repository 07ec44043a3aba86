package tools

import (
	"reflect"
	"strings"
)

// Schema 根据结构体类型生成 JSON Schema。字段名取 json 标签，description 标签作为说明，
// 未标记 omitempty 且非指针的字段视为必填。
func Schema(t reflect.Type) map[string]any {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	if t == nil || t.Kind() != reflect.Struct {
		return schema
	}

	properties := make(map[string]any)
	var required []string
	for _, field := range structFields(t) {
		properties[field.name] = field.schema
		if field.required {
			required = append(required, field.name)
		}
	}
	schema["properties"] = properties
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type schemaField struct {
	name     string
	required bool
	schema   map[string]any
}

func structFields(t reflect.Type) []schemaField {
	var fields []schemaField
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := field.Name
		if parts := strings.Split(tag, ","); parts[0] != "" {
			name = parts[0]
		}

		prop := typeSchema(field.Type)
		if description := field.Tag.Get("description"); description != "" {
			prop["description"] = description
		}
		if enum := field.Tag.Get("enum"); enum != "" {
			prop["enum"] = strings.Split(enum, ",")
		}
		fields = append(fields, schemaField{
			name:     name,
			required: !hasOmitEmpty(tag) && field.Type.Kind() != reflect.Ptr,
			schema:   prop,
		})
	}
	return fields
}

func typeSchema(t reflect.Type) map[string]any {
	switch t.Kind() {
	case reflect.Ptr:
		return typeSchema(t.Elem())
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem())}
	case reflect.Struct:
		return Schema(t)
	case reflect.Map:
		return map[string]any{"type": "object"}
	default:
		return map[string]any{"type": "string"}
	}
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

func requiredFields(schema map[string]any) []string {
	required, _ := schema["required"].([]string)
	return required
}
