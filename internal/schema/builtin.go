package schema

// builtinScalars are the scalars every schema has, in declaration order.
var builtinScalars = []struct{ name, description string }{
	{"String", "The `String` scalar type represents textual data, represented as UTF-8 character sequences."},
	{"Int", "The `Int` scalar type represents non-fractional signed whole numeric values."},
	{"Float", "The `Float` scalar type represents signed double-precision fractional values."},
	{"Boolean", "The `Boolean` scalar type represents `true` or `false`."},
	{"ID", "The `ID` scalar type represents a unique identifier, often used to refetch an object or as a key for caching."},
}

// IsBuiltinScalar reports the five scalars of the prelude.
func IsBuiltinScalar(name string) bool {
	for _, s := range builtinScalars {
		if s.name == name {
			return true
		}
	}
	return false
}

// conditionDirective builds @skip or @include.
func conditionDirective(name, description, argDescription string) *Directive {
	return &Directive{
		Name:        name,
		Description: description,
		Arguments: []*InputValue{
			NewInputValue("if", argDescription, NonNullType(NamedType("Boolean"))),
		},
		Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
	}
}

// AddBuiltins registers the specified scalars and the skip/include
// directives. Each schema gets its own copies.
func (s *Schema) AddBuiltins() *Schema {
	for _, b := range builtinScalars {
		s.AddType(NewType(b.name, TypeKindScalar, b.description))
	}
	return s.
		AddDirective(conditionDirective("include",
			"Directs the executor to include this field or fragment only when the `if` argument is true.",
			"Included when true.")).
		AddDirective(conditionDirective("skip",
			"Directs the executor to skip this field or fragment when the `if` argument is true.",
			"Skipped when true."))
}
