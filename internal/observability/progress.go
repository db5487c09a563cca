package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/jittakal/dumpshard/internal/pipeline"
)

// Ensure implementation satisfies interface at compile time.
var _ pipeline.ProgressReporter = (*Progress)(nil)

// Progress modes.
const (
	ProgressAuto = "auto"
	ProgressBar  = "bar"
	ProgressLog  = "log"
	ProgressNone = "none"
)

// ProgressConfig contains progress reporting configuration.
type ProgressConfig struct {
	Mode     string
	Interval time.Duration
	// Output receives progress bars. Defaults to stdout.
	Output io.Writer
}

// ResourceUsage is a sample of process resource usage.
type ResourceUsage struct {
	CPUPercent    float64
	RSSBytes      uint64
	SystemMemUsed float64
}

// String formats the sample for progress output.
func (u ResourceUsage) String() string {
	return fmt.Sprintf("cpu %.0f%% rss %s mem %.0f%%", u.CPUPercent, formatBytes(u.RSSBytes), u.SystemMemUsed)
}

// Progress reports per-file progress as terminal bars or periodic log lines.
type Progress struct {
	mode     string
	interval time.Duration
	logger   *slog.Logger
	bars     *mpb.Progress
	proc     *process.Process

	mu     sync.Mutex
	files  map[string]*fileProgress
	usage  ResourceUsage
	sample time.Time

	stop chan struct{}
	done chan struct{}
}

// NewProgress creates a progress reporter. Mode "auto" selects bars when
// the output is a terminal and log lines otherwise.
func NewProgress(cfg ProgressConfig, logger *slog.Logger) *Progress {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}

	mode := cfg.Mode
	if mode == "" || mode == ProgressAuto {
		mode = ProgressLog
		if isTerminal(cfg.Output) {
			mode = ProgressBar
		}
	}

	p := &Progress{
		mode:     mode,
		interval: cfg.Interval,
		logger:   logger,
		files:    make(map[string]*fileProgress),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		p.proc = proc
	}

	switch mode {
	case ProgressBar:
		refresh := cfg.Interval / 4
		if refresh < 50*time.Millisecond {
			refresh = 50 * time.Millisecond
		}
		p.bars = mpb.New(
			mpb.WithWidth(80),
			mpb.WithOutput(cfg.Output),
			mpb.WithRefreshRate(refresh),
		)
		close(p.done)
	case ProgressLog:
		go p.logLoop()
	default:
		close(p.done)
	}

	return p
}

// Mode returns the resolved progress mode.
func (p *Progress) Mode() string {
	return p.mode
}

// Track starts tracking a file of size raw bytes.
func (p *Progress) Track(path string, size int64) pipeline.ProgressTracker {
	fp := &fileProgress{
		parent: p,
		name:   filepath.Base(path),
		size:   size,
		start:  time.Now(),
	}

	if p.bars != nil {
		fp.bar = p.bars.AddBar(size,
			mpb.PrependDecorators(
				decor.Name(fp.name, decor.WCSyncSpaceR),
				decor.Percentage(decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done!"),
				decor.Any(func(decor.Statistics) string {
					return " " + p.Usage().String()
				}),
			),
		)
	}

	p.mu.Lock()
	p.files[path] = fp
	p.mu.Unlock()
	return fp
}

// Usage returns the latest resource usage sample, refreshing it at most
// once per interval.
func (p *Progress) Usage() ResourceUsage {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.sample) < p.interval {
		return p.usage
	}
	p.sample = time.Now()

	if p.proc != nil {
		if cpu, err := p.proc.CPUPercent(); err == nil {
			p.usage.CPUPercent = cpu
		}
		if info, err := p.proc.MemoryInfo(); err == nil {
			p.usage.RSSBytes = info.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		p.usage.SystemMemUsed = vm.UsedPercent
	}
	return p.usage
}

// Close stops reporting and waits for bars to render their final state.
func (p *Progress) Close() {
	select {
	case <-p.stop:
		return
	default:
		close(p.stop)
	}
	<-p.done
	if p.bars != nil {
		p.bars.Wait()
	}
}

func (p *Progress) logLoop() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.logActive()
		}
	}
}

func (p *Progress) logActive() {
	p.mu.Lock()
	active := make([]*fileProgress, 0, len(p.files))
	for _, fp := range p.files {
		if !fp.isFinished() {
			active = append(active, fp)
		}
	}
	p.mu.Unlock()

	sort.Slice(active, func(i, j int) bool { return active[i].name < active[j].name })
	usage := p.Usage()

	for _, fp := range active {
		s := fp.snapshot()
		p.logger.Info("progress",
			"file", fp.name,
			"records", s.records,
			"percent", fmt.Sprintf("%.1f", s.percent),
			"elapsed", s.elapsed.Round(time.Second).String(),
			"remaining", s.remaining.Round(time.Second).String(),
			"per_record", s.perRecord.String(),
			"cpu_percent", fmt.Sprintf("%.0f", usage.CPUPercent),
			"rss", formatBytes(usage.RSSBytes),
		)
	}
}

// fileProgress tracks one input file.
type fileProgress struct {
	parent *Progress
	name   string
	size   int64
	start  time.Time
	bar    *mpb.Bar

	mu       sync.Mutex
	raw      int64
	records  int64
	finished bool
}

type progressSnapshot struct {
	records   int64
	percent   float64
	elapsed   time.Duration
	remaining time.Duration
	perRecord time.Duration
}

// Update records raw bytes consumed and records read so far.
func (f *fileProgress) Update(raw int64, records int64) {
	f.mu.Lock()
	f.raw = raw
	f.records = records
	f.mu.Unlock()

	if f.bar != nil {
		f.bar.SetCurrent(raw)
	}
}

// Finish completes the bar or logs the final state of the file.
func (f *fileProgress) Finish(state string) {
	f.mu.Lock()
	if f.finished {
		f.mu.Unlock()
		return
	}
	f.finished = true
	f.mu.Unlock()

	if f.bar != nil {
		if state == string(pipeline.StateDraining) || state == string(pipeline.StateDone) {
			f.bar.SetTotal(-1, true)
		} else {
			f.bar.Abort(false)
		}
		return
	}

	if f.parent.mode == ProgressLog {
		s := f.snapshot()
		f.parent.logger.Info("file finished",
			"file", f.name,
			"state", state,
			"records", s.records,
			"elapsed", s.elapsed.Round(time.Millisecond).String(),
		)
	}
}

func (f *fileProgress) isFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

// snapshot estimates remaining time from the consumed share of the file.
func (f *fileProgress) snapshot() progressSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := progressSnapshot{
		records: f.records,
		elapsed: time.Since(f.start),
	}
	if f.size > 0 {
		s.percent = float64(f.raw) / float64(f.size) * 100
	}
	if f.raw > 0 && f.size > f.raw {
		s.remaining = time.Duration(float64(s.elapsed) * float64(f.size-f.raw) / float64(f.raw))
	}
	if f.records > 0 {
		s.perRecord = s.elapsed / time.Duration(f.records)
	}
	return s
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
