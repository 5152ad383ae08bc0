package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/app"
	"github.com/idanyas/speedpool/internal/data"
)

const maxDiscoveryBody = 4 << 20

var constructors = map[string]func(*http.Client, *zap.Logger) app.SpeedService{
	"cloudflare": func(c *http.Client, l *zap.Logger) app.SpeedService { return NewCloudflare(c, l) },
	"fast":       func(c *http.Client, l *zap.Logger) app.SpeedService { return NewFast(c, l) },
	"speedtest":  func(c *http.Client, l *zap.Logger) app.SpeedService { return NewSpeedtest(c, l) },
}

// Names lists the known providers in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func New(name string, httpClient *http.Client, logger *zap.Logger) (app.SpeedService, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %v)", name, Names())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return ctor(httpClient, logger.With(zap.String("provider", name))), nil
}

// serverList is the candidate list a provider hands out. A refresh replaces
// it wholesale.
type serverList struct {
	mu      sync.RWMutex
	servers []*data.ServerResult
}

func (l *serverList) PossibleServers() []*data.ServerResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.servers
}

func (l *serverList) replace(servers []*data.ServerResult) {
	l.mu.Lock()
	l.servers = servers
	l.mu.Unlock()
}

func fetch(ctx context.Context, c *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", rawURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBody))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	return body, nil
}
