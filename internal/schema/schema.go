package schema

// Schema represents the complete GraphQL schema
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type // All named types keyed by name
	Directives       map[string]*Directive
	Description      string
}

// GetQueryType returns the root query type (may be nil if absent)
func (s *Schema) GetQueryType() *Type { return s.Types[s.QueryType] }

// GetMutationType returns the root mutation type (may be nil if absent)
func (s *Schema) GetMutationType() *Type { return s.Types[s.MutationType] }

// GetSubscriptionType returns the root subscription type (may be nil if absent)
func (s *Schema) GetSubscriptionType() *Type { return s.Types[s.SubscriptionType] }

// Type is a named GraphQL type (object, interface, union, scalar, enum, input)
type Type struct {
	Name          string
	Kind          TypeKind
	Description   string
	Fields        []*Field      // For OBJECT and INTERFACE
	Interfaces    []string      // For OBJECT and INTERFACE (implemented/extended)
	PossibleTypes []string      // For INTERFACE and UNION
	EnumValues    []*EnumValue  // For ENUM
	InputFields   []*InputValue // For INPUT_OBJECT
}

// Field represents a field on an object or interface
type Field struct {
	Name              string
	Description       string
	Type              *TypeRef
	Arguments         []*InputValue
	IsDeprecated      bool
	DeprecationReason string
}

// TypeKind represents the kind of GraphQL type
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// TypeRef represents a reference to a type (can be wrapped)
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef // For List and NonNull
	Named  string   // For named types
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

func (t *TypeRef) IsNonNull() bool {
	return t != nil && t.Kind == TypeRefKindNonNull
}

func (t *TypeRef) IsList() bool {
	if t.Kind == TypeRefKindList {
		return true
	}
	if t.Kind == TypeRefKindNonNull && t.OfType != nil {
		return t.OfType.Kind == TypeRefKindList
	}
	return false
}

func (t *TypeRef) Unwrap() *TypeRef {
	if t.Kind == TypeRefKindNonNull || t.Kind == TypeRefKindList {
		return t.OfType
	}
	return t
}

func (t *TypeRef) GetNamedType() string {
	current := t
	for current != nil {
		if current.Named != "" {
			return current.Named
		}
		current = current.OfType
	}
	return ""
}

func (t *TypeRef) String() string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case TypeRefKindList:
		return "[" + t.OfType.String() + "]"
	case TypeRefKindNonNull:
		return t.OfType.String() + "!"
	}
	return t.Named
}

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type InputValue struct {
	Name              string
	Description       string
	Type              *TypeRef
	DefaultValue      any
	IsDeprecated      bool
	DeprecationReason string
}

type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*InputValue
	IsRepeatable bool
}

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

// ----- lookups used while building selection trees -----

// Field returns the named field of an object or interface type.
func (t *Type) Field(name string) *Field {
	if t == nil {
		return nil
	}
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Argument returns the named argument definition.
func (f *Field) Argument(name string) *InputValue {
	if f == nil {
		return nil
	}
	for _, a := range f.Arguments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// FieldType returns the field definition, or nil when either the type or
// the field is unknown. A nil receiver knows nothing.
func (s *Schema) FieldType(typeName, fieldName string) *Field {
	if s == nil {
		return nil
	}
	return s.Types[typeName].Field(fieldName)
}

func (s *Schema) IsAbstract(typeName string) bool {
	if s == nil {
		return false
	}
	t := s.Types[typeName]
	return t != nil && (t.Kind == TypeKindInterface || t.Kind == TypeKindUnion)
}

// IsLeaf reports scalars and enums. Unknown names are not leaves.
func (s *Schema) IsLeaf(typeName string) bool {
	if s == nil {
		return false
	}
	t := s.Types[typeName]
	return t != nil && (t.Kind == TypeKindScalar || t.Kind == TypeKindEnum)
}

// IsCustomScalar reports scalars other than the built-in ones. Their
// values may be any JSON.
func (s *Schema) IsCustomScalar(typeName string) bool {
	if s == nil {
		return false
	}
	t := s.Types[typeName]
	if t == nil || t.Kind != TypeKindScalar {
		return false
	}
	return !IsBuiltinScalar(typeName)
}

// Implements reports whether concrete is abstract itself, a member of the
// union abstract, or an implementation of the interface abstract.
func (s *Schema) Implements(concrete, abstract string) bool {
	if concrete == abstract {
		return true
	}
	if s == nil {
		return false
	}
	a := s.Types[abstract]
	if a == nil {
		return false
	}
	for _, name := range a.PossibleTypes {
		if name == concrete {
			return true
		}
	}
	if c := s.Types[concrete]; c != nil {
		for _, name := range c.Interfaces {
			if name == abstract {
				return true
			}
		}
	}
	return false
}

// RootTypeName returns the root type for an operation kind ("query",
// "mutation", "subscription"), falling back to the conventional name.
func (s *Schema) RootTypeName(operation string) string {
	var name, fallback string
	switch operation {
	case "query":
		fallback = "Query"
		if s != nil {
			name = s.QueryType
		}
	case "mutation":
		fallback = "Mutation"
		if s != nil {
			name = s.MutationType
		}
	case "subscription":
		fallback = "Subscription"
		if s != nil {
			name = s.SubscriptionType
		}
	}
	if name == "" {
		return fallback
	}
	return name
}
