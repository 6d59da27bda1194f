package gapura

import "context"

// PageConfig controls pagination-list flattening.
type PageConfig struct {
	// Param is the page-number query parameter. Defaults to "page".
	Param string

	// StartPage is the first page requested. Defaults to 1.
	StartPage int

	// MaxPages bounds the walk as protection against servers that never
	// return an empty page. Defaults to 100.
	MaxPages int

	// ItemsKey is the field holding the item array. Defaults to "data".
	ItemsKey string
}

func (p PageConfig) withDefaults() PageConfig {
	if p.Param == "" {
		p.Param = "page"
	}
	if p.StartPage == 0 {
		p.StartPage = 1
	}
	if p.MaxPages == 0 {
		p.MaxPages = 100
	}
	if p.ItemsKey == "" {
		p.ItemsKey = "data"
	}
	return p
}

// GetAll walks a paginated GET endpoint and flattens the per-page item
// arrays into one Success envelope. The walk stops on the first empty page,
// when the body's links carry no "next", or after MaxPages. The first
// Failure aborts the walk and is returned as-is.
func (c *Client) GetAll(ctx context.Context, path string, cfg PageConfig, opts ...RequestOption) (*Envelope, error) {
	cfg = cfg.withDefaults()

	var items []any
	pages := 0

	for page := cfg.StartPage; pages < cfg.MaxPages; page++ {
		pageOpts := make([]RequestOption, len(opts), len(opts)+1)
		copy(pageOpts, opts)
		pageOpts = append(pageOpts, withExtraQuery(cfg.Param, page))

		env, err := c.Get(ctx, path, pageOpts...)
		if err != nil {
			return env, err
		}
		pages++

		pageItems, _ := env.Data[cfg.ItemsKey].([]any)
		if len(pageItems) == 0 {
			break
		}
		items = append(items, pageItems...)

		if env.Links != nil {
			if next, ok := env.Links["next"]; !ok || next == nil {
				break
			}
		}
	}

	return &Envelope{
		Success:    true,
		StatusCode: 200,
		Data:       map[string]any{"data": items},
		Meta: map[string]any{
			"pages": pages,
			"count": len(items),
		},
	}, nil
}

// withExtraQuery adds one parameter without mutating a caller-supplied query
// map shared across pages.
func withExtraQuery(name string, value any) RequestOption {
	return func(r *Request) {
		query := make(map[string]any, len(r.Query)+1)
		for k, v := range r.Query {
			query[k] = v
		}
		query[name] = value
		r.Query = query
	}
}
