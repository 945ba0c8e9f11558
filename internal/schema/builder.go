package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hanpama/graphcache/internal/language"
)

func NewSchema(description string) *Schema {
	return &Schema{
		Types:       map[string]*Type{},
		Directives:  map[string]*Directive{},
		Description: description,
	}
}

func (s *Schema) SetQueryType(name string) *Schema        { s.QueryType = name; return s }
func (s *Schema) SetMutationType(name string) *Schema     { s.MutationType = name; return s }
func (s *Schema) SetSubscriptionType(name string) *Schema { s.SubscriptionType = name; return s }
func (s *Schema) AddType(t *Type) *Schema                 { s.Types[t.Name] = t; return s }
func (s *Schema) AddDirective(d *Directive) *Schema       { s.Directives[d.Name] = d; return s }

func NewType(name string, kind TypeKind, description string) *Type {
	return &Type{Name: name, Kind: kind, Description: description}
}

func (t *Type) AddField(f *Field) *Type           { t.Fields = append(t.Fields, f); return t }
func (t *Type) AddInterface(name string) *Type    { t.Interfaces = append(t.Interfaces, name); return t }
func (t *Type) AddPossibleType(name string) *Type { t.PossibleTypes = append(t.PossibleTypes, name); return t }
func (t *Type) AddEnumValue(v *EnumValue) *Type   { t.EnumValues = append(t.EnumValues, v); return t }
func (t *Type) AddInputField(v *InputValue) *Type { t.InputFields = append(t.InputFields, v); return t }

func NewField(name, description string, typ *TypeRef) *Field {
	return &Field{Name: name, Description: description, Type: typ}
}

func (f *Field) AddArgument(a *InputValue) *Field { f.Arguments = append(f.Arguments, a); return f }

func (f *Field) Deprecate(reason string) *Field {
	f.IsDeprecated = true
	f.DeprecationReason = reason
	return f
}

func NewInputValue(name, description string, typ *TypeRef) *InputValue {
	return &InputValue{Name: name, Description: description, Type: typ}
}

func (v *InputValue) SetDefault(value any) *InputValue { v.DefaultValue = value; return v }

func (v *InputValue) Deprecate(reason string) *InputValue {
	v.IsDeprecated = true
	v.DeprecationReason = reason
	return v
}

func NewEnumValue(name, description string) *EnumValue {
	return &EnumValue{Name: name, Description: description}
}

func (e *EnumValue) Deprecate(reason string) *EnumValue {
	e.IsDeprecated = true
	e.DeprecationReason = reason
	return e
}

func NewDirective(name, description string) *Directive {
	return &Directive{Name: name, Description: description}
}

func (d *Directive) SetRepeatable(r bool) *Directive        { d.IsRepeatable = r; return d }
func (d *Directive) AddArgument(a *InputValue) *Directive   { d.Arguments = append(d.Arguments, a); return d }
func (d *Directive) AddLocations(locs ...string) *Directive { d.Locations = append(d.Locations, locs...); return d }

// BuildFromSDL parses SDL and returns the corresponding Schema. A missing
// schema definition defaults the root types to Query, Mutation and
// Subscription when those types exist.
func BuildFromSDL(sdl string) (*Schema, error) {
	doc, err := language.LoadSchema("schema.graphql", sdl)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	s := NewSchema(doc.Description).AddBuiltins()
	if doc.Query != nil {
		s.SetQueryType(doc.Query.Name)
	}
	if doc.Mutation != nil {
		s.SetMutationType(doc.Mutation.Name)
	}
	if doc.Subscription != nil {
		s.SetSubscriptionType(doc.Subscription.Name)
	}

	names := make([]string, 0, len(doc.Types))
	for name, def := range doc.Types {
		if def.BuiltIn || strings.HasPrefix(name, "__") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := buildDefinition(doc.Types[name])
		if t.Kind == TypeKindInterface {
			for _, impl := range doc.PossibleTypes[name] {
				t.AddPossibleType(impl.Name)
			}
			sort.Strings(t.PossibleTypes)
		}
		s.AddType(t)
	}
	for name, dir := range doc.Directives {
		if _, builtin := s.Directives[name]; builtin || isPrelude(dir.Position) {
			continue
		}
		s.AddDirective(buildDirective(dir))
	}
	return s, nil
}

func isPrelude(pos *language.Position) bool {
	return pos != nil && pos.Src != nil && pos.Src.BuiltIn
}

func buildDefinition(def *language.Definition) *Type {
	var t *Type
	switch def.Kind {
	case language.Object:
		t = NewType(def.Name, TypeKindObject, def.Description)
	case language.Interface:
		t = NewType(def.Name, TypeKindInterface, def.Description)
	case language.Union:
		t = NewType(def.Name, TypeKindUnion, def.Description)
	case language.Enum:
		t = NewType(def.Name, TypeKindEnum, def.Description)
	case language.InputObject:
		t = NewType(def.Name, TypeKindInputObject, def.Description)
	default:
		t = NewType(def.Name, TypeKindScalar, def.Description)
	}
	for _, name := range def.Interfaces {
		t.AddInterface(name)
	}
	for _, name := range def.Types {
		t.AddPossibleType(name)
	}
	for _, v := range def.EnumValues {
		e := NewEnumValue(v.Name, v.Description)
		if reason, ok := deprecation(v.Directives); ok {
			e.Deprecate(reason)
		}
		t.AddEnumValue(e)
	}
	for _, fd := range def.Fields {
		if strings.HasPrefix(fd.Name, "__") {
			continue
		}
		if def.Kind == language.InputObject {
			in := NewInputValue(fd.Name, fd.Description, buildTypeRef(fd.Type)).SetDefault(defaultValue(fd.DefaultValue))
			if reason, ok := deprecation(fd.Directives); ok {
				in.Deprecate(reason)
			}
			t.AddInputField(in)
			continue
		}
		f := NewField(fd.Name, fd.Description, buildTypeRef(fd.Type))
		for _, arg := range fd.Arguments {
			f.AddArgument(buildArgument(arg))
		}
		if reason, ok := deprecation(fd.Directives); ok {
			f.Deprecate(reason)
		}
		t.AddField(f)
	}
	return t
}

func buildArgument(arg *language.ArgumentDefinition) *InputValue {
	in := NewInputValue(arg.Name, arg.Description, buildTypeRef(arg.Type)).SetDefault(defaultValue(arg.DefaultValue))
	if reason, ok := deprecation(arg.Directives); ok {
		in.Deprecate(reason)
	}
	return in
}

func buildDirective(dir *language.DirectiveDefinition) *Directive {
	d := NewDirective(dir.Name, dir.Description).SetRepeatable(dir.IsRepeatable)
	for _, loc := range dir.Locations {
		d.AddLocations(string(loc))
	}
	for _, arg := range dir.Arguments {
		d.AddArgument(buildArgument(arg))
	}
	return d
}

func buildTypeRef(t *language.Type) *TypeRef {
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(buildTypeRef(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		return NonNullType(ref)
	}
	return ref
}

func defaultValue(v *language.Value) any {
	if v == nil {
		return nil
	}
	out, err := v.Value(nil)
	if err != nil {
		return nil
	}
	return out
}

func deprecation(dirs language.DirectiveList) (string, bool) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return "", false
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw, true
	}
	return "", true
}
