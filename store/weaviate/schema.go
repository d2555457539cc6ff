package weaviate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/store"
)

// Helpers for building Weaviate class definitions.

// ClassSchema creates a class definition with the given properties.
func ClassSchema(name, description string, properties ...map[string]any) map[string]any {
	class := map[string]any{
		"class":      name,
		"properties": properties,
		"vectorizer": "none",
	}
	if description != "" {
		class["description"] = description
	}
	return class
}

// TextProperty creates a text property with optional description.
func TextProperty(name, description string) map[string]any {
	return Property(name, store.DataTypeText, description)
}

// Property creates a property of the given data type.
func Property(name string, dataType store.DataType, description string) map[string]any {
	prop := map[string]any{
		"name":     name,
		"dataType": []string{string(dataType)},
	}
	if description != "" {
		prop["description"] = description
	}
	return prop
}

// WithVectorizer enables a vectorizer module on a class definition.
func WithVectorizer(class map[string]any, vectorizer string, vectorizeClassName bool) map[string]any {
	if vectorizer == "" || vectorizer == "none" {
		class["vectorizer"] = "none"
		return class
	}
	class["vectorizer"] = vectorizer
	moduleConfig := map[string]any{
		vectorizer: map[string]any{"vectorizeClassName": vectorizeClassName},
	}
	if vectorizer == "text2vec-openai" {
		moduleConfig["generative-openai"] = map[string]any{}
	}
	class["moduleConfig"] = moduleConfig
	return class
}

// classDefinition converts a collection spec to a class definition.
func classDefinition(spec store.CollectionSpec, vectorizer string) map[string]any {
	props := make([]map[string]any, 0, len(spec.Properties))
	for _, p := range spec.Properties {
		props = append(props, Property(p.Name, p.DataType, p.Description))
	}
	class := ClassSchema(spec.Name, spec.Description, props...)
	if spec.Vectorize {
		WithVectorizer(class, vectorizer, spec.VectorizeCollectionName)
	}
	return class
}

// CollectionExists reports whether the class is defined.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("class", name).
		Get("/v1/schema/{class}")
	if err != nil {
		return false, fmt.Errorf("get schema: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return false, nil
	case resp.IsError():
		return false, fmt.Errorf("get schema: status %d: %s", resp.StatusCode(), resp.String())
	}
	return true, nil
}

// CreateCollection defines a new class.
func (c *Client) CreateCollection(ctx context.Context, spec store.CollectionSpec) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(classDefinition(spec, c.vectorizer)).
		Post("/v1/schema")
	if err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	if resp.IsError() {
		if msgs := errorMessages(resp.Body()); len(msgs) > 0 {
			return fmt.Errorf("create class: status %d: %s", resp.StatusCode(), msgs[0])
		}
		return fmt.Errorf("create class: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("Collection created",
		zap.String("collection", spec.Name),
		zap.Int("properties", len(spec.Properties)),
	)
	return nil
}

// propertyNames returns the property names of a class as defined on the
// server.
func (c *Client) propertyNames(ctx context.Context, class string) ([]string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("class", class).
		Get("/v1/schema/{class}")
	if err != nil {
		return nil, fmt.Errorf("get schema: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get schema: status %d: %s", resp.StatusCode(), resp.String())
	}
	var names []string
	for _, n := range gjson.GetBytes(resp.Body(), "properties.#.name").Array() {
		names = append(names, n.String())
	}
	return names, nil
}
