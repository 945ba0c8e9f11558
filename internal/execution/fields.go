package execution

import (
	"github.com/hanpama/graphcache/internal/failure"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/pagination"
	"github.com/hanpama/graphcache/internal/schema"
)

type collector struct {
	schema   *schema.Schema
	document *language.QueryDocument
	words    pagination.Words
	vars     map[string]any // coerced declared variables
	supplied map[string]any
	declared map[string]bool
}

// collectedFieldMap preserves field order from the original query
type collectedFieldMap struct {
	fields []collectedField
	index  map[string]int
}

type collectedField struct {
	ResponseName string
	Fields       []*language.Field
}

func newCollectedFieldMap() *collectedFieldMap {
	return &collectedFieldMap{
		fields: make([]collectedField, 0),
		index:  make(map[string]int),
	}
}

func (cfm *collectedFieldMap) add(responseName string, field *language.Field) {
	if idx, exists := cfm.index[responseName]; exists {
		cfm.fields[idx].Fields = append(cfm.fields[idx].Fields, field)
	} else {
		cfm.index[responseName] = len(cfm.fields)
		cfm.fields = append(cfm.fields, collectedField{
			ResponseName: responseName,
			Fields:       []*language.Field{field},
		})
	}
}

func (cfm *collectedFieldMap) orderedFields() []collectedField {
	return cfm.fields
}

// fieldGroups holds the fields common to every object of a type and, per
// type condition that narrows it, the fields only objects of that type get.
type fieldGroups struct {
	common   *collectedFieldMap
	branches map[string]*collectedFieldMap
	order    []string
}

func (g *fieldGroups) of(branch string) *collectedFieldMap {
	if branch == "" {
		return g.common
	}
	m, ok := g.branches[branch]
	if !ok {
		m = newCollectedFieldMap()
		g.branches[branch] = m
		g.order = append(g.order, branch)
	}
	return m
}

// collectFields collects the fields of every set into one grouping. The
// sets are the selection sets of all fields sharing a response key.
func (c *collector) collectFields(parentType string, sets []language.SelectionSet) (*fieldGroups, error) {
	groups := &fieldGroups{common: newCollectedFieldMap(), branches: map[string]*collectedFieldMap{}}
	visitedFragments := make(map[string]bool)
	for _, set := range sets {
		if err := c.collectFieldsImpl(parentType, "", set, groups, visitedFragments); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (c *collector) collectFieldsImpl(parentType, branch string, selectionSet language.SelectionSet, groups *fieldGroups, visitedFragments map[string]bool) error {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *language.Field:
			include, err := c.shouldIncludeNode(sel.Directives)
			if err != nil {
				return err
			}
			if !include {
				continue
			}
			responseName := sel.Alias
			if responseName == "" {
				responseName = sel.Name
			}
			groups.of(branch).add(responseName, sel)

		case *language.InlineFragment:
			include, err := c.shouldIncludeNode(sel.Directives)
			if err != nil {
				return err
			}
			if !include {
				continue
			}
			next := c.narrow(parentType, branch, sel.TypeCondition)
			if err := c.collectFieldsImpl(parentType, next, sel.SelectionSet, groups, visitedFragments); err != nil {
				return err
			}

		case *language.FragmentSpread:
			include, err := c.shouldIncludeNode(sel.Directives)
			if err != nil {
				return err
			}
			if !include {
				continue
			}
			fragmentDef := c.document.Fragments.ForName(sel.Name)
			if fragmentDef == nil {
				return failure.New(failure.ErrMalformedQuery, nil, "unknown fragment %q", sel.Name)
			}
			include, err = c.shouldIncludeNode(fragmentDef.Directives)
			if err != nil {
				return err
			}
			if !include {
				continue
			}
			next := c.narrow(parentType, branch, fragmentDef.TypeCondition)
			key := next + "\x00" + sel.Name
			if visitedFragments[key] {
				continue
			}
			visitedFragments[key] = true
			if err := c.collectFieldsImpl(parentType, next, fragmentDef.SelectionSet, groups, visitedFragments); err != nil {
				return err
			}
		}
	}
	return nil
}

// narrow returns the branch fields under a type condition belong to. An
// empty branch is the common group.
func (c *collector) narrow(parentType, branch, condition string) string {
	if condition == "" {
		return branch
	}
	if branch == "" {
		if condition == parentType || c.schema.Implements(parentType, condition) {
			return ""
		}
		return condition
	}
	if condition == branch || c.schema.Implements(branch, condition) {
		return branch
	}
	return condition
}

// shouldIncludeNode evaluates @skip and @include.
func (c *collector) shouldIncludeNode(directives language.DirectiveList) (bool, error) {
	if skip := directives.ForName("skip"); skip != nil {
		v, err := c.directiveArgument(skip, "if")
		if err != nil {
			return false, err
		}
		if b, ok := v.(bool); ok && b {
			return false, nil
		}
	}
	if include := directives.ForName("include"); include != nil {
		v, err := c.directiveArgument(include, "if")
		if err != nil {
			return false, err
		}
		if b, ok := v.(bool); ok && !b {
			return false, nil
		}
	}
	return true, nil
}

func (c *collector) directiveArgument(directive *language.Directive, name string) (any, error) {
	arg := directive.Arguments.ForName(name)
	if arg == nil {
		return nil, nil
	}
	v, _, err := c.resolveValue(arg.Value)
	return v, err
}

// buildGroups turns collected fields into the selections of owner.
func (c *collector) buildGroups(owner *Selection, groups *fieldGroups, path failure.Path) error {
	common, err := c.buildSelections(owner.TypeName, groups.common, path)
	if err != nil {
		return err
	}
	owner.Selections = common
	for _, cond := range groups.order {
		sels, err := c.buildSelections(cond, groups.branches[cond], path)
		if err != nil {
			return err
		}
		if len(sels) == 0 {
			continue
		}
		if owner.Branches == nil {
			owner.Branches = map[string][]*Selection{}
		}
		owner.Branches[cond] = sels
		owner.BranchOrder = append(owner.BranchOrder, cond)
	}
	return nil
}

func (c *collector) buildSelections(parentType string, fields *collectedFieldMap, path failure.Path) ([]*Selection, error) {
	out := make([]*Selection, 0, len(fields.orderedFields()))
	for _, cf := range fields.orderedFields() {
		sel, err := c.buildSelection(parentType, cf, path.Append(cf.ResponseName))
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

func (c *collector) buildSelection(parentType string, cf collectedField, path failure.Path) (*Selection, error) {
	field := cf.Fields[0]
	sel := &Selection{Name: field.Name}
	if cf.ResponseName != field.Name {
		sel.Alias = cf.ResponseName
	}

	var def *schema.Field
	if field.Name == "__typename" {
		sel.TypeName = "String"
	} else if def = c.schema.FieldType(parentType, field.Name); def != nil {
		sel.TypeName = def.Type.GetNamedType()
		sel.List = def.Type.IsList()
	}

	args, err := c.arguments(def, field.Arguments)
	if err != nil {
		return nil, failure.Prefix(err, path)
	}
	sel.Arguments = args

	var sets []language.SelectionSet
	for _, f := range cf.Fields {
		if len(f.SelectionSet) > 0 {
			sets = append(sets, f.SelectionSet)
		}
	}
	if len(sets) > 0 {
		groups, err := c.collectFields(sel.TypeName, sets)
		if err != nil {
			return nil, failure.Prefix(err, path)
		}
		if err := c.buildGroups(sel, groups, path); err != nil {
			return nil, err
		}
	}

	intent, err := c.words.Match(args)
	if err != nil {
		return nil, failure.Prefix(err, path)
	}
	if intent != nil {
		intent, err = c.attachConnection(sel, def, intent, path)
		if err != nil {
			return nil, err
		}
	}
	sel.Intent = intent

	key, err := storeKey(sel.Name, args, intent != nil, c.words)
	if err != nil {
		return nil, failure.Prefix(err, path)
	}
	sel.StoreKey = key
	return sel, nil
}

// attachConnection locates the items and page info subfields of a
// paginated field. A windowed field of a non-list leaf type is not a
// pagination and yields a nil intent.
func (c *collector) attachConnection(sel *Selection, def *schema.Field, intent *pagination.Intent, path failure.Path) (*pagination.Intent, error) {
	var items []*Selection
	for _, sub := range sel.Selections {
		if sub.Name == c.words.Items {
			items = append(items, sub)
		}
	}
	switch {
	case len(items) > 1:
		return nil, failure.New(failure.ErrInvalidVocabulary, path,
			"paginated field selects %q %d times", c.words.Items, len(items))
	case len(items) == 1:
		sel.Items = items[0]
		if name := c.words.PageInfo.Field; name != "" {
			for _, sub := range sel.Selections {
				if sub.Name == name {
					sel.PageInfo = sub
					break
				}
			}
		}
		return intent, nil
	}
	if def == nil || def.Type.IsList() {
		return intent, nil
	}
	if c.schema.IsLeaf(sel.TypeName) {
		return nil, nil
	}
	return nil, failure.New(failure.ErrInvalidVocabulary, path,
		"paginated field of type %s has no %q subfield", def.Type, c.words.Items)
}
