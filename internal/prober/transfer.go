package prober

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const readChunk = 32 * 1024

// Measurement is the outcome of one batch of transfers.
type Measurement struct {
	BytesPerSecond int64
	Bytes          int64
	Elapsed        time.Duration
	Completed      int
	Failures       []error // each a *TransferError
}

// MeasureThroughput transfers every URL with at most maxConcurrent in flight,
// admitting the next URL as soon as one finishes. uploadBytes > 0 POSTs that
// many bytes to each URL; otherwise each URL is downloaded, and readTimeout
// (if positive) caps how long a body is read after its headers arrived. The
// rate is the bytes of successful transfers over the wall clock of the batch.
// A failed transfer is reported in Failures and does not stop the others.
func (p *Prober) MeasureThroughput(ctx context.Context, urls []string, maxConcurrent int, readTimeout time.Duration, uploadBytes int64) (Measurement, error) {
	if len(urls) == 0 {
		return Measurement{}, errors.New("no urls to measure")
	}
	if maxConcurrent <= 0 {
		return Measurement{}, fmt.Errorf("invalid concurrency %d", maxConcurrent)
	}

	direction := "download"
	if uploadBytes > 0 {
		direction = "upload"
	}
	p.logger.Debug("measuring throughput",
		zap.String("direction", direction),
		zap.Int("urls", len(urls)),
		zap.Int("concurrency", maxConcurrent))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		result   Measurement
		stopErr  error
		inFlight = semaphore.NewWeighted(int64(maxConcurrent))
	)

	start := time.Now()
	for _, u := range urls {
		if err := inFlight.Acquire(ctx, 1); err != nil {
			stopErr = err
			break
		}
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			defer inFlight.Release(1)

			n, err := p.transfer(ctx, u, readTimeout, uploadBytes)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, &TransferError{URL: u, Err: err})
				p.metrics.TransferFailed(hostOf(u))
				p.logger.Debug("transfer failed", zap.String("url", u), zap.Error(err))
				return
			}
			result.Bytes += n
			result.Completed++
			p.metrics.TransferBytes(direction, n)
		}(u)
	}
	wg.Wait()

	result.Elapsed = time.Since(start)
	if secs := result.Elapsed.Seconds(); secs > 0 {
		result.BytesPerSecond = int64(float64(result.Bytes) / secs)
	}
	if stopErr != nil {
		return result, fmt.Errorf("throughput measurement interrupted: %w", stopErr)
	}
	return result, nil
}

func (p *Prober) transfer(ctx context.Context, rawURL string, readTimeout time.Duration, uploadBytes int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	if uploadBytes > 0 {
		return p.upload(ctx, rawURL, uploadBytes)
	}
	return p.download(ctx, cancel, rawURL, readTimeout)
}

func (p *Prober) upload(ctx context.Context, rawURL string, size int64) (int64, error) {
	body := &countingReader{r: p.scratch.Reader(size), count: p.addProgress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return 0, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return 0, err
	}
	return size, nil
}

func (p *Prober) download(ctx context.Context, cancel context.CancelFunc, rawURL string, readTimeout time.Duration) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return 0, err
	}

	var cut atomic.Bool
	if readTimeout > 0 {
		timer := time.AfterFunc(readTimeout, func() {
			cut.Store(true)
			cancel()
		})
		defer timer.Stop()
	}

	buf := make([]byte, readChunk)
	var total int64
	for {
		n, err := resp.Body.Read(buf)
		total += int64(n)
		p.addProgress(int64(n))
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			if cut.Load() {
				return total, nil
			}
			return 0, err
		}
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid"
	}
	return u.Hostname()
}

type countingReader struct {
	r     io.Reader
	count func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.count(int64(n))
	return n, err
}
