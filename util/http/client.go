package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 30 * time.Second

type HTTPClient struct {
	client *resty.Client
}

func NewHTTPClient() IClient {
	return &HTTPClient{
		client: resty.New().SetTimeout(defaultTimeout),
	}
}

func (c *HTTPClient) DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error {
	if requestParam == nil {
		return errors.New("request param is nil")
	}

	if requestParam.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestParam.Timeout)
		defer cancel()
	}

	req := c.client.R().SetContext(ctx).SetHeaders(requestParam.Header)

	switch body := requestParam.Body.(type) {
	case nil:
	case io.Reader, []byte, string:
		req.SetBody(body)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		if _, ok := requestParam.Header["Content-Type"]; !ok {
			req.SetHeader("Content-Type", "application/json")
		}
		req.SetBody(data)
	}

	resp, err := req.Execute(requestParam.Method, requestParam.RequestURI)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode() >= 400 {
		return &StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}

	if requestParam.Response == nil {
		return nil
	}

	if raw, ok := requestParam.Response.(*[]byte); ok {
		*raw = resp.Body()
		return nil
	}

	if len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), requestParam.Response); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
