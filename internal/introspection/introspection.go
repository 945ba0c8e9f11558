// Package introspection builds a schema model from the result of a
// standard introspection query, for servers whose SDL is not at hand.
package introspection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/schema"
)

type result struct {
	Data   *document `json:"data"`
	Schema *schemaJS `json:"__schema"`
}

type document struct {
	Schema *schemaJS `json:"__schema"`
}

type schemaJS struct {
	Description      *string     `json:"description"`
	QueryType        *typeRef    `json:"queryType"`
	MutationType     *typeRef    `json:"mutationType"`
	SubscriptionType *typeRef    `json:"subscriptionType"`
	Types            []fullType  `json:"types"`
	Directives       []directive `json:"directives"`
}

type fullType struct {
	Kind          string       `json:"kind"`
	Name          string       `json:"name"`
	Description   *string      `json:"description"`
	Fields        []field      `json:"fields"`
	InputFields   []inputValue `json:"inputFields"`
	Interfaces    []typeRef    `json:"interfaces"`
	EnumValues    []enumValue  `json:"enumValues"`
	PossibleTypes []typeRef    `json:"possibleTypes"`
}

type field struct {
	Name              string       `json:"name"`
	Description       *string      `json:"description"`
	Args              []inputValue `json:"args"`
	Type              *typeRef     `json:"type"`
	IsDeprecated      bool         `json:"isDeprecated"`
	DeprecationReason *string      `json:"deprecationReason"`
}

type inputValue struct {
	Name              string   `json:"name"`
	Description       *string  `json:"description"`
	Type              *typeRef `json:"type"`
	DefaultValue      *string  `json:"defaultValue"`
	IsDeprecated      bool     `json:"isDeprecated"`
	DeprecationReason *string  `json:"deprecationReason"`
}

type typeRef struct {
	Kind   string   `json:"kind"`
	Name   *string  `json:"name"`
	OfType *typeRef `json:"ofType"`
}

type enumValue struct {
	Name              string  `json:"name"`
	Description       *string `json:"description"`
	IsDeprecated      bool    `json:"isDeprecated"`
	DeprecationReason *string `json:"deprecationReason"`
}

type directive struct {
	Name         string       `json:"name"`
	Description  *string      `json:"description"`
	Locations    []string     `json:"locations"`
	Args         []inputValue `json:"args"`
	IsRepeatable bool         `json:"isRepeatable"`
}

var ErrNoSchema = errors.New("introspection: no __schema object")

// FromJSON accepts either a full response ({"data": {"__schema": ...}}) or
// the bare data object ({"__schema": ...}).
func FromJSON(data []byte) (*schema.Schema, error) {
	var r result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("introspection: %w", err)
	}
	src := r.Schema
	if src == nil && r.Data != nil {
		src = r.Data.Schema
	}
	if src == nil {
		return nil, ErrNoSchema
	}

	s := schema.NewSchema(str(src.Description)).AddBuiltins()
	if src.QueryType != nil {
		s.SetQueryType(str(src.QueryType.Name))
	}
	if src.MutationType != nil {
		s.SetMutationType(str(src.MutationType.Name))
	}
	if src.SubscriptionType != nil {
		s.SetSubscriptionType(str(src.SubscriptionType.Name))
	}
	for _, ft := range src.Types {
		if strings.HasPrefix(ft.Name, "__") {
			continue
		}
		if _, builtin := s.Types[ft.Name]; builtin {
			continue
		}
		t, err := buildType(ft)
		if err != nil {
			return nil, fmt.Errorf("introspection: type %s: %w", ft.Name, err)
		}
		s.AddType(t)
	}
	for _, d := range src.Directives {
		if _, builtin := s.Directives[d.Name]; builtin {
			continue
		}
		dir := schema.NewDirective(d.Name, str(d.Description)).
			SetRepeatable(d.IsRepeatable).
			AddLocations(d.Locations...)
		for _, a := range d.Args {
			in, err := buildInputValue(a)
			if err != nil {
				return nil, fmt.Errorf("introspection: directive @%s: %w", d.Name, err)
			}
			dir.AddArgument(in)
		}
		s.AddDirective(dir)
	}
	return s, nil
}

func buildType(ft fullType) (*schema.Type, error) {
	kind := schema.TypeKind(ft.Kind)
	switch kind {
	case schema.TypeKindScalar, schema.TypeKindObject, schema.TypeKindInterface,
		schema.TypeKindUnion, schema.TypeKindEnum, schema.TypeKindInputObject:
	default:
		return nil, fmt.Errorf("unknown kind %q", ft.Kind)
	}
	t := schema.NewType(ft.Name, kind, str(ft.Description))
	for _, ref := range ft.Interfaces {
		t.AddInterface(str(ref.Name))
	}
	for _, ref := range ft.PossibleTypes {
		t.AddPossibleType(str(ref.Name))
	}
	for _, ev := range ft.EnumValues {
		e := schema.NewEnumValue(ev.Name, str(ev.Description))
		if ev.IsDeprecated {
			e.Deprecate(str(ev.DeprecationReason))
		}
		t.AddEnumValue(e)
	}
	for _, f := range ft.Fields {
		typ, err := buildTypeRef(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		sf := schema.NewField(f.Name, str(f.Description), typ)
		for _, a := range f.Args {
			in, err := buildInputValue(a)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			sf.AddArgument(in)
		}
		if f.IsDeprecated {
			sf.Deprecate(str(f.DeprecationReason))
		}
		t.AddField(sf)
	}
	for _, iv := range ft.InputFields {
		in, err := buildInputValue(iv)
		if err != nil {
			return nil, err
		}
		t.AddInputField(in)
	}
	return t, nil
}

func buildInputValue(iv inputValue) (*schema.InputValue, error) {
	typ, err := buildTypeRef(iv.Type)
	if err != nil {
		return nil, fmt.Errorf("argument %s: %w", iv.Name, err)
	}
	in := schema.NewInputValue(iv.Name, str(iv.Description), typ)
	if iv.DefaultValue != nil {
		def, err := parseLiteral(*iv.DefaultValue)
		if err != nil {
			return nil, fmt.Errorf("argument %s: default value: %w", iv.Name, err)
		}
		in.SetDefault(def)
	}
	if iv.IsDeprecated {
		in.Deprecate(str(iv.DeprecationReason))
	}
	return in, nil
}

func buildTypeRef(ref *typeRef) (*schema.TypeRef, error) {
	if ref == nil {
		return nil, errors.New("missing type")
	}
	switch ref.Kind {
	case "NON_NULL":
		inner, err := buildTypeRef(ref.OfType)
		if err != nil {
			return nil, err
		}
		return schema.NonNullType(inner), nil
	case "LIST":
		inner, err := buildTypeRef(ref.OfType)
		if err != nil {
			return nil, err
		}
		return schema.ListType(inner), nil
	}
	if ref.Name == nil {
		return nil, fmt.Errorf("%s type reference without a name", ref.Kind)
	}
	return schema.NamedType(*ref.Name), nil
}

// parseLiteral reads a default value, which introspection reports as
// GraphQL literal text, by parsing it as a variable default.
func parseLiteral(lit string) (any, error) {
	doc, err := language.ParseQuery("query ($v: Any = " + lit + ") { __typename }")
	if err != nil {
		return nil, err
	}
	def := doc.Operations[0].VariableDefinitions[0].DefaultValue
	if def == nil {
		return nil, nil
	}
	return def.Value(nil)
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
