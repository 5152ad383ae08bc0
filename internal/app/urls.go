package app

import (
	"cmp"
	"slices"

	"github.com/google/uuid"

	"github.com/idanyas/speedpool/internal/data"
)

// SpeedURLs picks the maxDiffServers lowest-latency servers (stable on ties)
// and deals totalTests URLs across them round-robin. All URLs share one
// correlation token.
func (o *Orchestrator) SpeedURLs(svc SpeedService, servers []*data.ServerResult, maxDiffServers, totalTests int, bytesPerTest int64, upload bool) []data.ServerURL {
	if len(servers) == 0 || maxDiffServers <= 0 || totalTests <= 0 {
		return nil
	}

	ranked := slices.Clone(servers)
	slices.SortStableFunc(ranked, func(a, b *data.ServerResult) int {
		return cmp.Compare(a.PingAvg, b.PingAvg)
	})
	if len(ranked) > maxDiffServers {
		ranked = ranked[:maxDiffServers]
	}

	token := uuid.NewString()
	urls := make([]data.ServerURL, 0, totalTests)
	for i := 0; i < totalTests; i++ {
		s := ranked[i%len(ranked)]
		urls = append(urls, data.ServerURL{
			Server: s.Server,
			URL:    svc.SpeedURL(s, bytesPerTest, upload, token),
		})
	}
	return urls
}
