package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"

	"github.com/becomeliminal/vectorwave-go/core"
	"github.com/becomeliminal/vectorwave-go/store"
)

// Query runs a GraphQL Get query.
func (c *Client) Query(ctx context.Context, q store.Query) ([]store.Hit, error) {
	props := q.Properties
	if len(props) == 0 {
		names, err := c.propertyNames(ctx, q.Collection)
		if err != nil {
			return nil, fmt.Errorf("resolve properties: %w", err)
		}
		props = names
	}

	gql, err := buildGetQuery(q, props)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"query": gql}).
		Post("/v1/graphql")
	if err != nil {
		return nil, fmt.Errorf("post graphql: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("post graphql: status %d: %s", resp.StatusCode(), resp.String())
	}
	return parseGetResponse(resp.Body(), q.Collection)
}

// buildGetQuery renders
//
//	{ Get { Class(limit: N, nearText: {...}, where: {...}, sort: [...]) { props _additional { id distance } } } }
func buildGetQuery(q store.Query, props []string) (string, error) {
	if q.Collection == "" {
		return "", errors.New("collection is required")
	}

	var args []string
	if q.Limit > 0 {
		args = append(args, "limit: "+strconv.Itoa(q.Limit))
	}
	if q.NearText != "" {
		args = append(args, "nearText: {concepts: ["+quote(q.NearText)+"]}")
	}
	if len(q.Filters) > 0 {
		where, err := buildWhere(q.Filters)
		if err != nil {
			return "", err
		}
		args = append(args, "where: "+where)
	}
	if q.SortBy != "" {
		order := "desc"
		if q.Ascending {
			order = "asc"
		}
		args = append(args, "sort: [{path: ["+quote(q.SortBy)+"], order: "+order+"}]")
	}

	var sb strings.Builder
	sb.WriteString("{ Get { ")
	sb.WriteString(q.Collection)
	if len(args) > 0 {
		sb.WriteString("(")
		sb.WriteString(strings.Join(args, ", "))
		sb.WriteString(")")
	}
	sb.WriteString(" { ")
	for _, p := range props {
		sb.WriteString(p)
		sb.WriteString(" ")
	}
	sb.WriteString("_additional { id distance } } } }")
	return sb.String(), nil
}

func buildWhere(filters []store.Filter) (string, error) {
	operands := make([]string, 0, len(filters))
	for _, f := range filters {
		operand, err := whereOperand(f)
		if err != nil {
			return "", err
		}
		operands = append(operands, operand)
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return "{operator: And, operands: [" + strings.Join(operands, ", ") + "]}", nil
}

func whereOperand(f store.Filter) (string, error) {
	op := f.Operator
	if op == "" {
		op = store.OpEqual
	}
	var value string
	switch v := f.Value.(type) {
	case string:
		value = "valueText: " + quote(v)
	case bool:
		value = "valueBoolean: " + strconv.FormatBool(v)
	case int:
		value = "valueInt: " + strconv.Itoa(v)
	case int64:
		value = "valueInt: " + strconv.FormatInt(v, 10)
	case float64:
		value = "valueNumber: " + strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		value = "valueDate: " + quote(core.FormatTimestamp(v))
	case core.Status:
		value = "valueText: " + quote(string(v))
	default:
		return "", fmt.Errorf("unsupported filter value %T for %q", f.Value, f.Property)
	}
	return fmt.Sprintf("{path: [%s], operator: %s, %s}", quote(f.Property), op, value), nil
}

// quote renders s as a GraphQL string literal.
func quote(s string) string {
	out, err := sonic.MarshalString(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return out
}

func parseGetResponse(body []byte, class string) ([]store.Hit, error) {
	parsed := gjson.ParseBytes(body)
	if errs := parsed.Get("errors.#.message").Array(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.String()
		}
		return nil, fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}

	items := parsed.Get("data.Get." + class).Array()
	hits := make([]store.Hit, 0, len(items))
	for _, item := range items {
		props := make(map[string]any)
		item.ForEach(func(key, value gjson.Result) bool {
			if key.String() != "_additional" {
				props[key.String()] = value.Value()
			}
			return true
		})
		hit := store.Hit{
			ID:         item.Get("_additional.id").String(),
			Properties: props,
		}
		if d := item.Get("_additional.distance"); d.Exists() && d.Type == gjson.Number {
			dist := d.Float()
			hit.Distance = &dist
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
