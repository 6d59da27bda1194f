package gapura

import (
	"context"
	"strings"
)

// GraphQLRequest is the body of a GraphQL call.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// GraphQL posts a query through the full pipeline. A transport-level 2xx with
// GraphQL-level errors becomes a Failure envelope; the partial data, when the
// server sent any, stays available on the envelope.
func (c *Client) GraphQL(ctx context.Context, path string, req GraphQLRequest, opts ...RequestOption) (*Envelope, error) {
	opts = append(opts, WithBody(req))
	env, err := c.Post(ctx, path, opts...)
	if err != nil {
		return env, err
	}

	msgs := graphQLErrors(env.Data)
	if len(msgs) == 0 {
		return env, nil
	}

	env.Success = false
	env.Kind = KindValidation
	env.Message = strings.Join(msgs, "; ")
	env.Err = &Error{
		Kind:       KindValidation,
		Message:    env.Message,
		Method:     "POST",
		StatusCode: env.StatusCode,
	}
	return env, env.Err
}

func graphQLErrors(data map[string]any) []string {
	if data == nil {
		return nil
	}
	list, ok := data["errors"].([]any)
	if !ok || len(list) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if msg, ok := entry["message"].(string); ok && msg != "" {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "GraphQL request failed")
	}
	return msgs
}
