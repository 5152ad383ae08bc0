package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/data"
)

const speedtestServersURL = "https://www.speedtest.net/api/js/servers?engine=js&limit=10&https_functional=true"

// Speedtest uses the public speedtest.net server directory. Sizes are asked
// for in tens of megabits per logical megabyte.
type Speedtest struct {
	serverList
	client     *http.Client
	logger     *zap.Logger
	serversURL string
}

func NewSpeedtest(c *http.Client, logger *zap.Logger) *Speedtest {
	return &Speedtest{client: c, logger: logger, serversURL: speedtestServersURL}
}

func (s *Speedtest) Name() string { return "speedtest" }

func (s *Speedtest) RefreshPossibleServers(ctx context.Context) error {
	body, err := fetch(ctx, s.client, s.serversURL)
	if err != nil {
		return fmt.Errorf("failed to list speedtest servers: %w", err)
	}

	var entries []struct {
		Host string `json:"host"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return fmt.Errorf("failed to parse speedtest servers: %w", err)
	}

	servers := make([]*data.ServerResult, 0, len(entries))
	for _, e := range entries {
		if e.Host == "" {
			continue
		}
		servers = append(servers, &data.ServerResult{Server: e.Host})
	}
	s.replace(servers)
	s.logger.Debug("server list refreshed", zap.Int("servers", len(servers)))
	return nil
}

// ServiceLikeableSize maps megabytes to megabytes*10 megabits.
func (s *Speedtest) ServiceLikeableSize(megabytes int) int64 {
	return int64(megabytes) * 10 * 1_000_000 / 8
}

func (s *Speedtest) SpeedURL(server *data.ServerResult, bytesPerTest int64, upload bool, token string) string {
	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(server.Server)
	if upload {
		b.WriteString("/upload?")
	} else {
		fmt.Fprintf(&b, "/download?size=%d&", bytesPerTest)
	}
	fmt.Fprintf(&b, "nocache=%s&guid=%s", uuid.NewString(), strings.ToLower(token))
	return b.String()
}
