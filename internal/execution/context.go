// Package execution resolves a query document against a schema and runtime
// inputs into an immutable selection tree: fragments inlined, variables
// substituted, type conditions split into per-type branches and pagination
// intent attached to windowed fields.
package execution

import (
	"github.com/hanpama/graphcache/internal/failure"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/pagination"
	"github.com/hanpama/graphcache/internal/schema"
	"github.com/hanpama/graphcache/internal/store"
)

const DefaultIdentityField = "id"

type Options struct {
	OperationName string
	// IdentityField names the field read as each entity's identity.
	// Empty means DefaultIdentityField.
	IdentityField string
	// Words is the pagination vocabulary. The zero value means
	// pagination.Default().
	Words     pagination.Words
	Variables map[string]any
}

// Context is the resolved form of one operation. It is never modified
// after Build returns, so it may be shared between goroutines.
type Context struct {
	OperationName string
	OperationType language.Operation
	RootType      string
	RootKey       store.Key
	Selections    []*Selection
	IdentityField string
	Words         pagination.Words

	root   *Selection
	schema *schema.Schema
}

func (c *Context) Schema() *schema.Schema { return c.schema }

// Root returns the synthetic selection owning the root fields.
func (c *Context) Root() *Selection { return c.root }

// Selection is one field chosen in the query.
type Selection struct {
	Name  string
	Alias string
	// Arguments holds resolved values, variables substituted. Nil when
	// the field has none.
	Arguments map[string]any
	// StoreKey is the field's slot in a record. Window arguments of
	// paginated fields are left out so successive pages share a slot.
	StoreKey string
	Intent   *pagination.Intent
	// TypeName is the field's named type per schema, empty when unknown.
	TypeName string
	List     bool

	Selections  []*Selection
	Branches    map[string][]*Selection
	BranchOrder []string

	// Items and PageInfo point into Selections for connection fields.
	Items    *Selection
	PageInfo *Selection
}

// ResponseKey is the key the field appears under in a response.
func (s *Selection) ResponseKey() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

func (s *Selection) Leaf() bool { return len(s.Selections) == 0 && len(s.Branches) == 0 }

func (s *Selection) Paginated() bool { return s.Intent != nil }

func (s *Selection) Connection() bool { return s.Items != nil }

// Build resolves doc into a Context.
func Build(s *schema.Schema, doc *language.QueryDocument, opts Options) (*Context, error) {
	if doc == nil {
		return nil, failure.New(failure.ErrMalformedQuery, nil, "no document")
	}
	words := opts.Words
	if words.IsZero() {
		words = pagination.Default()
	}
	if err := words.Validate(); err != nil {
		return nil, err
	}
	identity := opts.IdentityField
	if identity == "" {
		identity = DefaultIdentityField
	}

	op, err := getOperation(doc, opts.OperationName)
	if err != nil {
		return nil, err
	}
	vars, err := coerceVariableValues(op, opts.Variables)
	if err != nil {
		return nil, err
	}

	c := &collector{
		schema:   s,
		document: doc,
		words:    words,
		vars:     vars,
		supplied: opts.Variables,
		declared: make(map[string]bool, len(op.VariableDefinitions)),
	}
	for _, def := range op.VariableDefinitions {
		c.declared[def.Variable] = true
	}

	rootType := s.RootTypeName(string(op.Operation))
	root := &Selection{TypeName: rootType}
	groups, err := c.collectFields(rootType, []language.SelectionSet{op.SelectionSet})
	if err != nil {
		return nil, err
	}
	if err := c.buildGroups(root, groups, nil); err != nil {
		return nil, err
	}

	return &Context{
		OperationName: op.Name,
		OperationType: op.Operation,
		RootType:      rootType,
		RootKey:       rootKey(op.Operation),
		Selections:    root.Selections,
		IdentityField: identity,
		Words:         words,
		root:          root,
		schema:        s,
	}, nil
}

func rootKey(op language.Operation) store.Key {
	switch op {
	case language.Mutation:
		return store.RootMutation
	case language.Subscription:
		return store.RootSubscription
	}
	return store.RootQuery
}

func getOperation(document *language.QueryDocument, operationName string) (*language.OperationDefinition, error) {
	if len(document.Operations) == 0 {
		return nil, failure.New(failure.ErrMalformedQuery, nil, "document has no operation")
	}
	if operationName == "" {
		if len(document.Operations) == 1 {
			return document.Operations[0], nil
		}
		return nil, failure.New(failure.ErrMalformedQuery, nil,
			"document has %d operations and no operation name was given", len(document.Operations))
	}
	for _, op := range document.Operations {
		if op.Name == operationName {
			return op, nil
		}
	}
	return nil, failure.New(failure.ErrMalformedQuery, nil, "operation %q not found", operationName)
}

// Resolve returns the selections that apply to one object of sel's type:
// the common selections plus every branch the object belongs to. A nil sel
// means the root. When typename is empty the branch is inferred from which
// response keys the object has.
func (c *Context) Resolve(sel *Selection, typename string, has func(key string) bool) ([]*Selection, error) {
	if sel == nil {
		sel = c.root
	}
	if len(sel.Branches) == 0 {
		return sel.Selections, nil
	}
	var matched []string
	if typename != "" {
		for _, cond := range sel.BranchOrder {
			if cond == typename || c.schema.Implements(typename, cond) {
				matched = append(matched, cond)
			}
		}
	} else {
		for _, cond := range sel.BranchOrder {
			if branchPresent(sel.Branches[cond], has) {
				matched = append(matched, cond)
			}
		}
		if len(matched) > 1 {
			widest := matched[0]
			for _, cond := range matched[1:] {
				if len(sel.Branches[cond]) > len(sel.Branches[widest]) {
					widest = cond
				}
			}
			for _, cond := range matched {
				if !subsetKeys(sel.Branches[cond], sel.Branches[widest]) {
					return nil, failure.New(failure.ErrUnresolvedUnionMember, nil,
						"no __typename and the object fits branches %v", matched)
				}
			}
		}
	}
	if len(matched) == 0 {
		return sel.Selections, nil
	}
	out := make([]*Selection, 0, len(sel.Selections))
	out = append(out, sel.Selections...)
	for _, cond := range matched {
		out = append(out, sel.Branches[cond]...)
	}
	return out, nil
}

func branchPresent(sels []*Selection, has func(string) bool) bool {
	if has == nil {
		return false
	}
	for _, s := range sels {
		if !has(s.ResponseKey()) {
			return false
		}
	}
	return len(sels) > 0
}

// subsetKeys reports whether every response key of a also appears in b.
func subsetKeys(a, b []*Selection) bool {
	keys := make(map[string]bool, len(b))
	for _, s := range b {
		keys[s.ResponseKey()] = true
	}
	for _, s := range a {
		if !keys[s.ResponseKey()] {
			return false
		}
	}
	return true
}
