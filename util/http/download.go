package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Downloader 下载远程图片字节，传输错误和 5xx 会按指数退避重试
type Downloader struct {
	cli     IClient
	retries uint64
	backoff time.Duration
	timeout time.Duration
}

func NewDownloader(cli IClient, retries uint64, backoff, timeout time.Duration) *Downloader {
	if cli == nil {
		cli = NewHTTPClient()
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Downloader{cli: cli, retries: retries, backoff: backoff, timeout: timeout}
}

func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	backoff := retry.WithMaxRetries(d.retries, retry.NewExponential(d.backoff))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := d.cli.DoHTTPRequest(ctx, &RequestParam{
			RequestURI: url,
			Method:     http.MethodGet,
			Response:   &data,
			Timeout:    d.timeout,
		})
		if err == nil {
			return nil
		}
		if retryable(ctx, err) {
			slog.Debug("download failed, retrying", "url", url, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError
	}
	return true
}
