package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"

	"github.com/idanyas/speedpool/internal/data"
)

var (
	out    io.Writer = color.Output
	errOut io.Writer = color.Error
)

func PrintHeader(jsonOutput bool, version string) {
	if jsonOutput {
		return
	}
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(out, "\n    speedpool v%s\n\n", version)
}

// PrintProvider shows which provider is used and, when known, the answering
// datacenter and client address.
func PrintProvider(name string, loc *data.Location, trace map[string]string, jsonOutput bool, hideIP bool) {
	if jsonOutput {
		return
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(out, "%s Provider: %s\n", cyan("✓"), name)

	if ip := trace["ip"]; ip != "" {
		if hideIP {
			ip = "---"
		}
		fmt.Fprintf(out, "%s Your IP: %s [%s]\n", cyan("✓"), ip, trace["loc"])
	}
	if loc != nil {
		fmt.Fprintf(out, "%s Server: %s, %s (%s) [%.4f, %.4f]\n",
			cyan("✓"),
			loc.City,
			loc.CCA2,
			loc.IATA,
			loc.Lat,
			loc.Lon,
		)
	}
	fmt.Fprintln(out)
}

// Candidates ranks servers by average ping, failed ones last.
func Candidates(servers []*data.ServerResult) []data.Candidate {
	c := make([]data.Candidate, 0, len(servers))
	for _, s := range servers {
		c = append(c, data.Candidate{Server: s.Server, PingMs: s.PingAvg, Failed: s.PingFailed})
	}
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Failed != c[j].Failed {
			return !c[i].Failed
		}
		return c[i].PingMs < c[j].PingMs
	})
	return c
}

// ShowServers prints the ping-ranked server table of --list.
func ShowServers(servers []*data.ServerResult, jsonOutput bool) {
	ranked := Candidates(servers)

	if jsonOutput {
		jsonData, err := json.MarshalIndent(ranked, "", "  ")
		if err != nil {
			fmt.Fprintf(errOut, "Error marshaling servers to JSON: %v\n", err)
			return
		}
		fmt.Fprintln(out, string(jsonData))
		return
	}

	maxServer := len("Server")
	for _, c := range ranked {
		maxServer = max(maxServer, len(c.Server))
	}
	const pingWidth = len("Ping (ms)")

	lineFmt := fmt.Sprintf("%%-%ds %%%ds %%s\n", maxServer, pingWidth)
	fmt.Fprintf(out, lineFmt, "Server", "Ping (ms)", "Status")
	fmt.Fprintf(out, "%s %s %s\n",
		strings.Repeat("-", maxServer),
		strings.Repeat("-", pingWidth),
		strings.Repeat("-", len("Status")),
	)

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	for _, c := range ranked {
		if c.Failed {
			fmt.Fprintf(out, lineFmt, c.Server, "-", red("failed"))
			continue
		}
		fmt.Fprintf(out, lineFmt, c.Server, fmt.Sprintf("%.2f", c.PingMs), green("ok"))
	}
}

// SelectProvider lets the user pick a provider, starting at current.
func SelectProvider(names []string, current string) (string, error) {
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(out, "%s Choose a speed test provider:\n", cyan("✓"))

	start := 0
	for i, n := range names {
		if n == current {
			start = i
		}
	}

	prompt := promptui.Select{
		Label: "",
		Items: names,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   `{{ "▸" | cyan }} {{ . | cyan }}`,
			Inactive: `  {{ . }}`,
		},
		CursorPos:    start,
		Size:         len(names),
		HideHelp:     true,
		Stdout:       os.Stdout,
		HideSelected: true,
	}

	i, _, err := prompt.Run()
	if err != nil {
		return "", err
	}

	// Move cursor up one line and clear
	fmt.Fprint(out, "\033[1A\033[2K\r")
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(out, "%s Provider: %s\n", green("✓"), names[i])
	return names[i], nil
}

func PrintLatency(minPing, maxPing float64, jsonOutput bool) {
	if jsonOutput {
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(out, "%s Latency: %.2f ms (Worst server: %.2f ms)\n",
		green("✓"),
		minPing,
		maxPing,
	)
}

// PrintSpeed ends a progress line with the final figure.
func PrintSpeed(name string, bytesPerSecond int64, jsonOutput bool) {
	if jsonOutput {
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(out, "\r\033[K%s %s %s\n", green("✓"), name, FormatBitRate(bytesPerSecond))
}

func PrintServerErrors(errs data.ServerErrors, quarantine time.Duration, jsonOutput bool) {
	if jsonOutput || len(errs) == 0 {
		return
	}
	yellow := color.New(color.FgYellow).FprintfFunc()
	for _, e := range errs {
		yellow(errOut, "Warning: %v\n", e)
	}
	if servers := errs.Servers(); len(servers) > 0 {
		yellow(errOut, "Warning: quarantining %s for %v\n", strings.Join(servers, ", "), quarantine)
	}
}

func OutputJSON(report *data.Report) {
	jsonData, _ := json.MarshalIndent(report, "", "  ")
	fmt.Fprintln(out, string(jsonData))
}

// Progress draws a live spinner with the running bit rate of one stage.
type Progress struct {
	name       string
	totalBytes *atomic.Int64
	start      time.Time

	mu     sync.Mutex
	done   chan struct{}
	exited chan struct{}
}

// StartProgress starts drawing until Stop. In JSON mode nothing is drawn.
func StartProgress(name string, totalBytes *atomic.Int64, start time.Time, jsonOutput bool) *Progress {
	p := &Progress{
		name:       name,
		totalBytes: totalBytes,
		start:      start,
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	if jsonOutput {
		close(p.exited)
		return p
	}
	go p.draw()
	return p
}

func (p *Progress) draw() {
	defer close(p.exited)
	cyan := color.New(color.FgCyan).SprintFunc()
	spinner := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	i := 0

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			var rate int64
			if elapsed := time.Since(p.start).Seconds(); elapsed > 0 {
				rate = int64(float64(p.totalBytes.Load()) / elapsed)
			}
			p.mu.Lock()
			fmt.Fprintf(out, "\r\033[K%s %s %s",
				cyan(spinner[i%len(spinner)]),
				p.name,
				FormatBitRate(rate),
			)
			p.mu.Unlock()
			i++
		}
	}
}

// Hold runs fn on a cleared line with no frame drawn meanwhile.
func (p *Progress) Hold(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.exited:
	default:
		fmt.Fprint(out, "\r\033[K")
	}
	fn()
}

// Stop returns once the last frame has been drawn. It is safe to call twice.
func (p *Progress) Stop() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	<-p.exited
}

func Mbps(bytesPerSecond int64) float64 {
	return float64(bytesPerSecond) * 8 / 1e6
}

// NewSpeed returns nil for a direction that was not measured.
func NewSpeed(result *data.TestResult) *data.Speed {
	if result == nil {
		return nil
	}
	return &data.Speed{Mbps: Mbps(result.BytesPerSecond), BytesPerSecond: result.BytesPerSecond}
}

// FormatBitRate renders bytes per second as a decimal bit rate.
func FormatBitRate(bytesPerSecond int64) string {
	bits := float64(bytesPerSecond) * 8
	switch {
	case bits >= 1e9:
		return fmt.Sprintf("%.2f Gbps", bits/1e9)
	case bits >= 1e6:
		return fmt.Sprintf("%.2f Mbps", bits/1e6)
	case bits >= 1e3:
		return fmt.Sprintf("%.2f Kbps", bits/1e3)
	default:
		return fmt.Sprintf("%.0f bps", bits)
	}
}
