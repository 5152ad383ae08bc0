package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/data"
)

const cloudflareBaseURL = "https://speed.cloudflare.com"

// Cloudflare exposes the single anycast speed.cloudflare.com endpoint. The
// refresh also records which colo answered and where it is.
type Cloudflare struct {
	serverList
	client *http.Client
	logger *zap.Logger
	base   *url.URL

	mu       sync.RWMutex
	trace    map[string]string
	location *data.Location
}

func NewCloudflare(c *http.Client, logger *zap.Logger) *Cloudflare {
	base, _ := url.Parse(cloudflareBaseURL)
	return &Cloudflare{client: c, logger: logger, base: base}
}

func (cf *Cloudflare) Name() string { return "cloudflare" }

func (cf *Cloudflare) RefreshPossibleServers(ctx context.Context) error {
	trace, err := cf.fetchTrace(ctx)
	if err != nil {
		return fmt.Errorf("failed to get server trace: %w", err)
	}
	colo := trace["colo"]
	if colo == "" {
		return errors.New("server trace has no colo")
	}

	var loc *data.Location
	locs, err := cf.fetchLocations(ctx)
	if err != nil {
		cf.logger.Warn("failed to get locations", zap.Error(err))
	} else if found, ok := findLocation(colo, locs); ok {
		loc = &found
	}

	cf.mu.Lock()
	cf.trace, cf.location = trace, loc
	cf.mu.Unlock()

	cf.replace([]*data.ServerResult{{Server: cf.base.Host}})
	cf.logger.Debug("server list refreshed", zap.String("colo", colo))
	return nil
}

// Trace returns the key/value pairs of the last /cdn-cgi/trace answer.
func (cf *Cloudflare) Trace() map[string]string {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.trace
}

// Location returns where the answering colo is, if it could be found.
func (cf *Cloudflare) Location() *data.Location {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.location
}

func (cf *Cloudflare) fetchTrace(ctx context.Context) (map[string]string, error) {
	body, err := fetch(ctx, cf.client, cf.base.String()+"/cdn-cgi/trace")
	if err != nil {
		return nil, err
	}
	info := make(map[string]string)
	for _, line := range strings.Split(string(body), "\n") {
		if k, v, ok := strings.Cut(strings.TrimSpace(line), "="); ok {
			info[k] = v
		}
	}
	return info, nil
}

func (cf *Cloudflare) fetchLocations(ctx context.Context) ([]data.Location, error) {
	body, err := fetch(ctx, cf.client, cf.base.String()+"/locations")
	if err != nil {
		return nil, err
	}
	var locations []data.Location
	if err := json.Unmarshal(body, &locations); err != nil {
		return nil, fmt.Errorf("failed to parse locations: %w", err)
	}
	sort.Slice(locations, func(i, j int) bool {
		return locations[i].IATA < locations[j].IATA
	})
	return locations, nil
}

func findLocation(iata string, locs []data.Location) (data.Location, bool) {
	i := sort.Search(len(locs), func(i int) bool { return locs[i].IATA >= iata })
	if i < len(locs) && locs[i].IATA == iata {
		return locs[i], true
	}
	return data.Location{}, false
}

// ServiceLikeableSize maps megabytes to decimal megabytes.
func (cf *Cloudflare) ServiceLikeableSize(megabytes int) int64 {
	return int64(megabytes) * 1_000_000
}

func (cf *Cloudflare) SpeedURL(server *data.ServerResult, bytesPerTest int64, upload bool, token string) string {
	prefix := cf.base.Scheme + "://" + server.Server
	if upload {
		return fmt.Sprintf("%s/__up?measId=%s&r=%s", prefix, token, uuid.NewString())
	}
	return fmt.Sprintf("%s/__down?bytes=%d&measId=%s&r=%s", prefix, bytesPerTest, token, uuid.NewString())
}
