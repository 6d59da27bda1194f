package gapura

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
)

// UploadFile posts content as a multipart form field through the full
// pipeline. Extra form fields are written before the file part.
func (c *Client) UploadFile(ctx context.Context, path, field, filename string, content io.Reader, extra map[string]string, opts ...RequestOption) (*Envelope, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for k, v := range extra {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write form field %q: %w", k, err)
		}
	}

	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	opts = append(opts,
		WithBody(buf.Bytes()),
		WithHeader("Content-Type", writer.FormDataContentType()),
	)
	return c.Post(ctx, path, opts...)
}

// Download issues a GET with raw body handling and writes the payload to w,
// returning the byte count. Retry, auth and rate limiting apply as for any
// other request; caching is disabled so large payloads never enter the store.
func (c *Client) Download(ctx context.Context, path string, w io.Writer, opts ...RequestOption) (int64, error) {
	opts = append(opts, WithResponseShape(ShapeRaw), WithoutCache())
	env, err := c.Get(ctx, path, opts...)
	if err != nil {
		return 0, err
	}

	n, err := w.Write(env.Raw)
	return int64(n), err
}
