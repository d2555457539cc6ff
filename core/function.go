package core

import (
	"github.com/google/uuid"
)

// FunctionID derives the deterministic identifier of a function from its
// module path and name. It is the version 5 UUID of "{module}.{name}" in
// the DNS namespace, the same value Weaviate's generate_uuid5 produces, so
// it is stable across process restarts.
func FunctionID(module, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(module+"."+name)).String()
}

// FunctionDescriptor is the static record written once per instrumented
// function.
type FunctionDescriptor struct {
	ID                string
	Name              string
	Module            string
	Doc               string
	Source            string
	SearchDescription string
	SequenceNarrative string

	// Tags holds custom properties that passed validation against the
	// configured allow-list.
	Tags map[string]any
}

// NewFunctionDescriptor builds a descriptor and derives its ID.
func NewFunctionDescriptor(module, name, doc, source, searchDescription, sequenceNarrative string, tags map[string]any) FunctionDescriptor {
	return FunctionDescriptor{
		ID:                FunctionID(module, name),
		Name:              name,
		Module:            module,
		Doc:               doc,
		Source:            source,
		SearchDescription: searchDescription,
		SequenceNarrative: sequenceNarrative,
		Tags:              tags,
	}
}

// Properties returns the store representation of the descriptor.
func (d FunctionDescriptor) Properties() map[string]any {
	props := make(map[string]any, 6+len(d.Tags))
	for k, v := range d.Tags {
		props[k] = v
	}
	props[PropFunctionName] = d.Name
	props[PropModuleName] = d.Module
	props[PropDocstring] = d.Doc
	props[PropSourceCode] = d.Source
	props[PropSearchDescription] = d.SearchDescription
	props[PropSequenceNarrative] = d.SequenceNarrative
	return props
}

// FunctionDescriptorFromProperties rebuilds a descriptor read back from the
// store. Properties that are not part of the base schema become tags.
func FunctionDescriptorFromProperties(id string, props map[string]any) FunctionDescriptor {
	d := FunctionDescriptor{
		ID:                id,
		Name:              stringProp(props, PropFunctionName),
		Module:            stringProp(props, PropModuleName),
		Doc:               stringProp(props, PropDocstring),
		Source:            stringProp(props, PropSourceCode),
		SearchDescription: stringProp(props, PropSearchDescription),
		SequenceNarrative: stringProp(props, PropSequenceNarrative),
	}
	for k, v := range props {
		switch k {
		case PropFunctionName, PropModuleName, PropDocstring, PropSourceCode,
			PropSearchDescription, PropSequenceNarrative:
			continue
		}
		if d.Tags == nil {
			d.Tags = make(map[string]any)
		}
		d.Tags[k] = v
	}
	if d.ID == "" && d.Name != "" {
		d.ID = FunctionID(d.Module, d.Name)
	}
	return d
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
