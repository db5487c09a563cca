package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestProgress_LogMode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p := NewProgress(ProgressConfig{Mode: ProgressLog, Interval: time.Hour, Output: &bytes.Buffer{}}, logger)
	defer p.Close()

	if p.Mode() != ProgressLog {
		t.Fatalf("Mode() = %s, want log", p.Mode())
	}

	tracker := p.Track("/dumps/RC_2020-01.zst", 1000)
	tracker.Update(250, 40)
	p.logActive()

	out := buf.String()
	for _, want := range []string{"file=RC_2020-01.zst", "records=40", "percent=25.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("progress output should contain %q, got: %s", want, out)
		}
	}

	buf.Reset()
	tracker.Finish("DRAINING")
	p.logActive()
	if strings.Contains(buf.String(), "msg=progress") {
		t.Error("finished files should not be reported as active")
	}
	if !strings.Contains(buf.String(), "file finished") {
		t.Errorf("expected final log line, got: %s", buf.String())
	}
}

func TestProgress_AutoModeWithoutTerminal(t *testing.T) {
	p := NewProgress(ProgressConfig{Mode: ProgressAuto, Output: &bytes.Buffer{}}, nil)
	defer p.Close()

	if p.Mode() != ProgressLog {
		t.Errorf("Mode() = %s, want log for non-terminal output", p.Mode())
	}
}

func TestProgress_BarMode(t *testing.T) {
	var out bytes.Buffer
	p := NewProgress(ProgressConfig{Mode: ProgressBar, Interval: 200 * time.Millisecond, Output: &out}, nil)

	tracker := p.Track("/dumps/RS_2020-01.zst", 100)
	tracker.Update(100, 10)
	tracker.Finish("DRAINING")

	failed := p.Track("/dumps/RS_2020-02.zst", 100)
	failed.Update(10, 1)
	failed.Finish("FAILED")

	p.Close()
	p.Close()
}

func TestFileProgress_Snapshot(t *testing.T) {
	fp := &fileProgress{
		name:  "a",
		size:  200,
		start: time.Now().Add(-10 * time.Second),
	}
	fp.Update(100, 50)

	s := fp.snapshot()
	if s.percent != 50 {
		t.Errorf("percent = %v, want 50", s.percent)
	}
	if s.remaining < 9*time.Second || s.remaining > 11*time.Second {
		t.Errorf("remaining = %v, want about 10s", s.remaining)
	}
	if s.perRecord < 190*time.Millisecond || s.perRecord > 220*time.Millisecond {
		t.Errorf("perRecord = %v, want about 200ms", s.perRecord)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		512:           "512B",
		2048:          "2.0KiB",
		5 * (1 << 20): "5.0MiB",
		3 * (1 << 30): "3.0GiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %s, want %s", in, got, want)
		}
	}
}
