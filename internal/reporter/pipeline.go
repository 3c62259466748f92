// Package reporter forwards sanitizer violations to the journal via a
// bounded queue and a dedicated worker goroutine (C7), with a local-disk
// spool fallback when the journal endpoint or the queue is unavailable.
package reporter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dustin/go-humanize"
	"github.com/iMAGRAY/shelldone/internal/sanitizer"
)

const (
	defaultEndpoint      = "http://127.0.0.1:17717/journal/event"
	defaultSpoolMaxBytes = 1 << 20 // 1 MiB
	queueCapacity        = 256
	postTimeout          = 200 * time.Millisecond
	spoolFileName        = "sigma_guard_spool.jsonl"
)

// JournalRequest is the shape forwarded to the configured endpoint and, on
// failure, spooled to disk as one JSON line.
type JournalRequest struct {
	Direction       sanitizer.Direction `json:"direction"`
	Reason          string              `json:"reason"`
	SequencePreview string              `json:"sequence_preview"`
	SequenceLen     int                 `json:"sequence_len"`
	OccurredAt      time.Time           `json:"occurred_at"`
}

// Pipeline is the C7 queue + worker. It implements sanitizer.Reporter.
type Pipeline struct {
	queue    chan JournalRequest
	dropped  atomic.Int64
	endpoint string
	client   *http.Client

	spoolEnabled bool
	spoolPath    string
	spoolMax     int64
	spoolMu      sync.Mutex

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	log *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Pipeline reading its configuration from the environment
// (SHELLDONE_SIGMA_REPORTER, SHELLDONE_SIGMA_SPOOL, SHELLDONE_SIGMA_SPOOL_MAX_BYTES,
// SHELLDONE_AGENTD_URL). It returns nil, false when the reporter is disabled
// entirely.
func New(cacheDir string, log *slog.Logger) (*Pipeline, bool) {
	if log == nil {
		log = slog.Default()
	}
	if envDisabled("SHELLDONE_SIGMA_REPORTER") {
		return nil, false
	}

	endpoint := defaultEndpoint
	if v := os.Getenv("SHELLDONE_AGENTD_URL"); v != "" {
		endpoint = v
	}

	spoolMax := int64(defaultSpoolMaxBytes)
	if v := os.Getenv("SHELLDONE_SIGMA_SPOOL_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			spoolMax = n
		}
	}

	p := &Pipeline{
		queue:        make(chan JournalRequest, queueCapacity),
		endpoint:     endpoint,
		client:       &http.Client{Timeout: postTimeout},
		spoolEnabled: !envDisabled("SHELLDONE_SIGMA_SPOOL"),
		spoolPath:    filepath.Join(cacheDir, spoolFileName),
		spoolMax:     spoolMax,
		limiters:     map[string]*rate.Limiter{},
		log:          log,
		stop:         make(chan struct{}),
	}
	return p, true
}

func envDisabled(name string) bool {
	v := os.Getenv(name)
	return v == "0" || v == "false"
}

// Report implements sanitizer.Reporter: it converts a Violation to a
// JournalRequest and offers it to the queue without blocking.
func (p *Pipeline) Report(v sanitizer.Violation) {
	p.TrySend(JournalRequest{
		Direction:       v.Direction,
		Reason:          v.Reason,
		SequencePreview: v.SequencePreview,
		SequenceLen:     v.SequenceLen,
		OccurredAt:      v.OccurredAt,
	})
}

// TrySend offers req to the queue. On a full (or disconnected) queue it
// increments the drop counter and, if spooling is enabled, appends req to
// the disk spool.
func (p *Pipeline) TrySend(req JournalRequest) {
	select {
	case p.queue <- req:
	default:
		p.dropped.Add(1)
		p.logThrottled("queue_full", "reporter: queue full, dropping or spooling violation")
		if p.spoolEnabled {
			p.appendSpool(req)
		}
	}
}

// Dropped returns the number of requests dropped due to a full queue.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

func (p *Pipeline) logThrottled(category, msg string, args ...any) {
	p.limiterMu.Lock()
	lim, ok := p.limiters[category]
	if !ok {
		lim = rate.NewLimiter(rate.Every(5*time.Second), 1)
		p.limiters[category] = lim
	}
	p.limiterMu.Unlock()

	if lim.Allow() {
		p.log.Warn(msg, args...)
	}
}

func (p *Pipeline) appendSpool(req JournalRequest) {
	p.spoolMu.Lock()
	defer p.spoolMu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		return
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(p.spoolPath), 0o755); err != nil {
		p.logThrottled("spool_write", "reporter: cannot create spool dir", "error", err)
		return
	}
	f, err := os.OpenFile(p.spoolPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		p.logThrottled("spool_write", "reporter: cannot open spool file", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		p.logThrottled("spool_write", "reporter: cannot write spool file", "error", err)
		return
	}
	p.trimSpoolLocked()
}

// trimSpoolLocked keeps the newest lines whose total byte count is within
// spoolMax. Caller must hold spoolMu.
func (p *Pipeline) trimSpoolLocked() {
	info, err := os.Stat(p.spoolPath)
	if err != nil || info.Size() <= p.spoolMax {
		return
	}
	p.logThrottled("spool_trim", "reporter: spool over limit, trimming oldest entries",
		"size", humanize.Bytes(uint64(info.Size())), "limit", humanize.Bytes(uint64(p.spoolMax)))
	data, err := os.ReadFile(p.spoolPath)
	if err != nil {
		return
	}

	lines := splitLines(data)
	var kept [][]byte
	var total int64
	for i := len(lines) - 1; i >= 0; i-- {
		total += int64(len(lines[i])) + 1
		if total > p.spoolMax {
			break
		}
		kept = append([][]byte{lines[i]}, kept...)
	}

	var buf []byte
	for _, l := range kept {
		buf = append(buf, l...)
		buf = append(buf, '\n')
	}
	tmp := p.spoolPath + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, p.spoolPath)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
