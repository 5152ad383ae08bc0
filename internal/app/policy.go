package app

import (
	"time"

	"github.com/idanyas/speedpool/internal/config"
)

// Profile sizes one throughput test.
type Profile struct {
	Servers          int
	Tests            int
	Concurrency      int
	MegabytesPerTest int
}

// Policy drives DoRationalPreTestAndTest. A calibration slower than Medium
// gets the Small final test, one slower than Slow gets none.
type Policy struct {
	Calibration     Profile
	Small           Profile
	Big             Profile
	Medium          time.Duration
	Slow            time.Duration
	PingTimes       int
	TransferTimeout time.Duration
}

func DefaultPolicy() Policy {
	return PolicyFromConfig(config.Default().Staging)
}

func PolicyFromConfig(s config.StagingConfig) Policy {
	return Policy{
		Calibration:     Profile(s.Calibration),
		Small:           Profile(s.Small),
		Big:             Profile(s.Big),
		Medium:          s.Medium,
		Slow:            s.Slow,
		PingTimes:       s.PingTimes,
		TransferTimeout: s.TransferTimeout,
	}
}
