package server

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chaos-io/pixfix/metrics"
	nhttp "github.com/chaos-io/pixfix/util/http"
)

// ErrImageNotFound 上游返回了非成功状态码
var ErrImageNotFound = errors.New("image not found")

// Fetcher 下载远程图片，按 URL 缓存最近的结果
type Fetcher struct {
	dl      *nhttp.Downloader
	cache   *lru.Cache[string, []byte]
	metrics *metrics.Metrics
}

// NewFetcher cacheSize 为 0 时不缓存
func NewFetcher(dl *nhttp.Downloader, cacheSize int, m *metrics.Metrics) (*Fetcher, error) {
	f := &Fetcher{dl: dl, metrics: m}
	if cacheSize > 0 {
		cache, err := lru.New[string, []byte](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create fetch cache: %w", err)
		}
		f.cache = cache
	}
	return f, nil
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.cache != nil {
		if data, ok := f.cache.Get(url); ok {
			f.metrics.Fetch("cache")
			return data, nil
		}
	}

	data, err := f.dl.Download(ctx, url)
	if err != nil {
		f.metrics.Fetch("error")
		var statusErr *nhttp.StatusError
		if errors.As(err, &statusErr) {
			return nil, fmt.Errorf("%w: upstream status %d", ErrImageNotFound, statusErr.Code)
		}
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	f.metrics.Fetch("remote")

	if f.cache != nil {
		f.cache.Add(url, data)
	}
	return data, nil
}
