package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/data"
)

const (
	fastSiteURL  = "https://fast.com"
	fastAPIURL   = "https://api.fast.com/netflix/speedtest/v2"
	fastURLCount = 10
)

var errNoFastToken = errors.New("fast.com token not found")

// Fast uses the fast.com (Netflix) CDN targets. The API token is scraped
// from the fast.com app script once and reused.
type Fast struct {
	serverList
	client  *http.Client
	logger  *zap.Logger
	siteURL string
	apiURL  string

	tokenMu sync.Mutex
	token   string
}

func NewFast(c *http.Client, logger *zap.Logger) *Fast {
	return &Fast{client: c, logger: logger, siteURL: fastSiteURL, apiURL: fastAPIURL}
}

func (f *Fast) Name() string { return "fast" }

type fastTargets struct {
	Targets []struct {
		Name     string `json:"name"`
		URL      string `json:"url"`
		Location struct {
			City    string `json:"city"`
			Country string `json:"country"`
		} `json:"location"`
	} `json:"targets"`
}

func (f *Fast) RefreshPossibleServers(ctx context.Context) error {
	token, err := f.apiToken(ctx)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("https", "true")
	q.Set("urlCount", fmt.Sprint(fastURLCount))
	q.Set("token", token)

	body, err := fetch(ctx, f.client, f.apiURL+"?"+q.Encode())
	if err != nil {
		return fmt.Errorf("failed to list fast.com targets: %w", err)
	}

	var resp fastTargets
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse fast.com targets: %w", err)
	}

	servers := make([]*data.ServerResult, 0, len(resp.Targets))
	for _, t := range resp.Targets {
		if t.URL == "" {
			continue
		}
		servers = append(servers, &data.ServerResult{Server: t.URL})
	}
	f.replace(servers)
	f.logger.Debug("server list refreshed", zap.Int("servers", len(servers)))
	return nil
}

func (f *Fast) apiToken(ctx context.Context) (string, error) {
	f.tokenMu.Lock()
	defer f.tokenMu.Unlock()
	if f.token != "" {
		return f.token, nil
	}

	page, err := fetch(ctx, f.client, f.siteURL)
	if err != nil {
		return "", fmt.Errorf("failed to load fast.com: %w", err)
	}
	script, ok := scriptSource(string(page))
	if !ok {
		return "", fmt.Errorf("%w: no app script on page", errNoFastToken)
	}

	js, err := fetch(ctx, f.client, f.siteURL+script)
	if err != nil {
		return "", fmt.Errorf("failed to load fast.com script: %w", err)
	}
	token, ok := tokenFromScript(string(js))
	if !ok {
		return "", errNoFastToken
	}
	f.token = token
	return token, nil
}

func scriptSource(html string) (string, bool) {
	const marker = `<script src="`
	i := strings.Index(html, marker)
	if i < 0 {
		return "", false
	}
	rest := html[i+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end <= 0 {
		return "", false
	}
	return rest[:end], true
}

func tokenFromScript(js string) (string, bool) {
	i := strings.Index(js, "token:")
	if i < 0 {
		return "", false
	}
	rest := js[i+len("token:"):]
	end := strings.IndexByte(rest, ',')
	if end < 0 {
		return "", false
	}
	token := strings.TrimSpace(strings.ReplaceAll(rest[:end], `"`, ""))
	return token, token != ""
}

// ServiceLikeableSize maps megabytes to mebibytes.
func (f *Fast) ServiceLikeableSize(megabytes int) int64 {
	return int64(megabytes) * 1024 * 1024
}

// SpeedURL ignores direction and token: targets are pre-signed range URLs.
func (f *Fast) SpeedURL(server *data.ServerResult, bytesPerTest int64, _ bool, _ string) string {
	ranged := strings.Replace(server.Server, "/speedtest", fmt.Sprintf("/speedtest/range/0-%d", bytesPerTest), 1)
	return ranged + "&_rng=" + uuid.NewString()
}
