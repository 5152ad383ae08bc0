package app

import (
	"time"

	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/data"
)

// AddBadServer quarantines server for d from now, replacing any earlier entry.
func (o *Orchestrator) AddBadServer(server string, d time.Duration) {
	o.mu.Lock()
	o.bad[server] = badServerEntry{server: server, expires: o.now().Add(d)}
	n := len(o.bad)
	o.mu.Unlock()

	o.metrics.Quarantined(n)
	o.logger.Info("server quarantined", zap.String("server", server), zap.Duration("for", d))
}

// NonBannedServers returns the servers of svc that are neither quarantined
// nor marked as ping-failed. When the list is non-empty but nothing passes,
// the quarantine entries of the listed servers are dropped and the filter
// runs again. Entries of servers svc no longer lists are kept until they
// expire. It returns nil when svc has no servers.
func (o *Orchestrator) NonBannedServers(svc SpeedService) []*data.ServerResult {
	all := svc.PossibleServers()
	if len(all) == 0 {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.expireLocked()
	healthy := o.filterLocked(all)
	if len(healthy) == 0 {
		released := 0
		for _, s := range all {
			if _, ok := o.bad[s.Server]; ok {
				delete(o.bad, s.Server)
				released++
			}
		}
		if released > 0 {
			o.logger.Info("all servers quarantined, releasing them",
				zap.String("provider", svc.Name()),
				zap.Int("released", released))
			healthy = o.filterLocked(all)
		}
	}
	o.metrics.Quarantined(len(o.bad))
	return healthy
}

func (o *Orchestrator) expireLocked() {
	now := o.now()
	for server, e := range o.bad {
		if !now.Before(e.expires) {
			delete(o.bad, server)
		}
	}
}

func (o *Orchestrator) filterLocked(all []*data.ServerResult) []*data.ServerResult {
	out := make([]*data.ServerResult, 0, len(all))
	for _, s := range all {
		if s.PingFailed {
			continue
		}
		if _, banned := o.bad[s.Server]; banned {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Quarantined lists the servers with an unexpired quarantine entry.
func (o *Orchestrator) Quarantined() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expireLocked()
	out := make([]string, 0, len(o.bad))
	for server := range o.bad {
		out = append(out, server)
	}
	return out
}
