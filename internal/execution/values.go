package execution

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hanpama/graphcache/internal/failure"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/pagination"
	"github.com/hanpama/graphcache/internal/schema"
)

// coerceVariableValues coerces supplied variables by their declared types
// and applies declared defaults. Nullable variables that are neither
// supplied nor defaulted are left out.
func coerceVariableValues(operation *language.OperationDefinition, variableValues map[string]any) (map[string]any, error) {
	coerced := make(map[string]any)
	for _, varDef := range operation.VariableDefinitions {
		name := varDef.Variable
		t := varDef.Type
		val, ok := variableValues[name]
		if !ok {
			val, ok = variableValues[strings.TrimPrefix(name, "$")]
		}
		if !ok {
			if varDef.DefaultValue != nil {
				val = astValueToGo(varDef.DefaultValue)
			} else if t.NonNull {
				return nil, failure.New(failure.ErrMissingVariable, nil,
					"variable $%s of required type %s was not provided", name, t.String())
			} else {
				continue
			}
		}
		if val == nil && t.NonNull {
			return nil, failure.New(failure.ErrMissingVariable, nil,
				"variable $%s of type %s cannot be null", name, t.String())
		}
		cv, err := coerceValue(val, typeRefFromAST(t))
		if err != nil {
			return nil, failure.New(failure.ErrMalformedQuery, nil,
				"variable $%s of type %s cannot be coerced: %v", name, t.String(), err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		return schema.NonNullType(typeRefFromAST(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	}
	if t.NamedType != "" {
		return schema.NamedType(t.NamedType)
	}
	if t.Elem != nil {
		return schema.ListType(typeRefFromAST(t.Elem))
	}
	return nil
}

// arguments resolves a field's argument list. Schema defaults fill in
// arguments that were not given, and values are coerced by the declared
// argument type when the schema knows the field.
func (c *collector) arguments(def *schema.Field, list language.ArgumentList) (map[string]any, error) {
	out := make(map[string]any, len(list))
	for _, arg := range list {
		v, ok, err := c.resolveValue(arg.Value)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if argDef := def.Argument(arg.Name); argDef != nil {
			v, err = coerceValue(v, argDef.Type)
			if err != nil {
				return nil, failure.New(failure.ErrMalformedQuery, nil,
					"argument %q cannot be coerced: %v", arg.Name, err)
			}
		}
		out[arg.Name] = v
	}
	if def != nil {
		for _, argDef := range def.Arguments {
			if _, ok := out[argDef.Name]; ok || argDef.DefaultValue == nil {
				continue
			}
			v, err := coerceValue(argDef.DefaultValue, argDef.Type)
			if err != nil {
				return nil, failure.New(failure.ErrMalformedQuery, nil,
					"default of argument %q cannot be coerced: %v", argDef.Name, err)
			}
			out[argDef.Name] = v
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// resolveValue converts an AST value, substituting variables at any depth.
// ok is false when the value is an unset nullable variable, which callers
// treat as omitted.
func (c *collector) resolveValue(value *language.Value) (v any, ok bool, err error) {
	if value == nil {
		return nil, true, nil
	}
	switch value.Kind {
	case language.Variable:
		name := value.Raw
		if v, found := c.vars[name]; found {
			return v, true, nil
		}
		if v, found := c.supplied[name]; found && !c.declared[name] {
			return v, true, nil
		}
		if c.declared[name] {
			return nil, false, nil
		}
		return nil, false, failure.New(failure.ErrMissingVariable, nil, "variable $%s is not defined", name)
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, child := range value.Children {
			item, _, err := c.resolveValue(child.Value)
			if err != nil {
				return nil, false, err
			}
			out[i] = item
		}
		return out, true, nil
	case language.ObjectValue:
		out := make(map[string]any, len(value.Children))
		for _, child := range value.Children {
			item, ok, err := c.resolveValue(child.Value)
			if err != nil {
				return nil, false, err
			}
			if ok {
				out[child.Name] = item
			}
		}
		return out, true, nil
	}
	return astValueToGo(value), true, nil
}

// astValueToGo converts a literal AST value to a Go value
func astValueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		iv, _ := strconv.Atoi(value.Raw)
		return iv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.NullValue:
		return nil
	case language.EnumValue:
		return value.Raw
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValueToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any)
		for _, f := range value.Children {
			m[f.Name] = astValueToGo(f.Value)
		}
		return m
	default:
		return nil
	}
}

// coerceValue coerces a value to the specified GraphQL type
func coerceValue(value any, targetType *schema.TypeRef) (any, error) {
	if targetType == nil {
		return value, nil
	}
	if targetType.IsNonNull() {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type")
		}
		return coerceValue(value, targetType.Unwrap())
	}
	if value == nil {
		return nil, nil
	}
	if targetType.IsList() {
		return coerceListValue(value, targetType)
	}

	switch targetType.GetNamedType() {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		return coerceToString(value)
	case "Boolean":
		return coerceToBoolean(value)
	case "ID":
		return coerceToID(value)
	default:
		// custom scalars, enums and input objects pass through
		return value, nil
	}
}

func coerceListValue(value any, listType *schema.TypeRef) (any, error) {
	innerType := listType.Unwrap()
	if slice, ok := value.([]any); ok {
		coercedSlice := make([]any, len(slice))
		for i, item := range slice {
			coercedItem, err := coerceValue(item, innerType)
			if err != nil {
				return nil, err
			}
			coercedSlice[i] = coercedItem
		}
		return coercedSlice, nil
	}
	// a single value becomes a list of one
	coercedItem, err := coerceValue(value, innerType)
	if err != nil {
		return nil, err
	}
	return []any{coercedItem}, nil
}

func coerceToInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), nil
		}
	case string:
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	case string:
		if floatVal, err := strconv.ParseFloat(v, 64); err == nil {
			return floatVal, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to float", value, value)
}

func coerceToString(value any) (any, error) {
	if v, ok := value.(string); ok {
		return v, nil
	}
	return fmt.Sprintf("%v", value), nil
}

func coerceToBoolean(value any) (any, error) {
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to boolean", value, value)
}

func coerceToID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return fmt.Sprintf("%v", value), nil
	}
}

// storeKey is the field name, followed by its arguments as canonical JSON
// when it has any. Paginated fields drop their window arguments.
func storeKey(name string, args map[string]any, paginated bool, words pagination.Words) (string, error) {
	keyed := args
	if paginated {
		keyed = make(map[string]any, len(args))
		for k, v := range args {
			if !words.IsWindowArgument(k) {
				keyed[k] = v
			}
		}
	}
	if len(keyed) == 0 {
		return name, nil
	}
	b, err := json.Marshal(keyed)
	if err != nil {
		return "", failure.New(failure.ErrMalformedQuery, nil, "arguments cannot be encoded: %v", err)
	}
	return name + "(" + string(b) + ")", nil
}
