// Package source implements resumable record sources over dump files.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/internal/validator"
	"github.com/jittakal/dumpshard/pkg/record"
	"github.com/jittakal/dumpshard/pkg/source"
)

// Ensure implementation satisfies interface at compile time.
var _ source.Source = (*Reader)(nil)

// Codec identifies the container format of an input file.
type Codec string

const (
	CodecPlain Codec = "plain"
	CodecZstd  Codec = "zstd"
	CodecGzip  Codec = "gzip"
)

// DefaultMaxLineBytes is the default upper bound of a single record line.
const DefaultMaxLineBytes = 16 << 20

// zstdMaxWindow allows frames produced with --long=31.
const zstdMaxWindow = 1 << 31

// Rejection reasons.
const (
	ReasonMalformed = "malformed_json"
	ReasonInvalid   = "invalid_record"
	ReasonOversized = "line_too_long"
	ReasonCodec     = "codec_error"
)

// MetricsCollector defines metrics operations for record sources.
type MetricsCollector interface {
	IncRecordsRead(codec string)
	IncRecordsRejected(reason string)
}

// Options configures a Reader.
type Options struct {
	MaxLineBytes int
	Logger       *slog.Logger
	Metrics      MetricsCollector
	// OnReject is called for every skipped line. It must not retain the line slice.
	OnReject func(record.Rejection)
}

// Reader reads line-delimited JSON records from a plain, zstd or gzip file.
//
// Offsets are measured in the decoded line stream. For plain files that is
// the file offset and resuming seeks directly. Compressed files resume by
// decoding from the start and discarding lines up to the requested offset.
type Reader struct {
	path    string
	codec   Codec
	file    *os.File
	size    int64
	counter *countingReader
	zdec    *zstd.Decoder
	gzdec   *gzip.Reader
	br      *bufio.Reader

	offset  int64
	lineBuf []byte
	stats   source.Stats
	ended   bool
	closed  bool
	mu      sync.Mutex

	validator *validator.RecordValidator
	opts      Options
}

// DetectCodec returns the codec implied by the file extension.
func DetectCodec(path string) Codec {
	switch {
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		return CodecZstd
	case strings.HasSuffix(path, ".gz"):
		return CodecGzip
	default:
		return CodecPlain
	}
}

// Open opens path and positions the reader at startOffset.
func Open(path string, startOffset int64, opts Options) (*Reader, error) {
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &apperrors.SourceError{Path: path, Op: "open", Err: err}
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &apperrors.SourceError{Path: path, Op: "stat", Err: err}
	}

	r := &Reader{
		path:      path,
		codec:     DetectCodec(path),
		file:      file,
		size:      info.Size(),
		validator: validator.NewRecordValidator(),
		opts:      opts,
	}

	if err := r.init(startOffset); err != nil {
		file.Close()
		return nil, err
	}

	opts.Logger.Debug("opened record source",
		"file", path,
		"codec", r.codec,
		"start_offset", startOffset,
		"size", r.size,
	)

	return r, nil
}

func (r *Reader) init(startOffset int64) error {
	if startOffset < 0 {
		startOffset = 0
	}

	switch r.codec {
	case CodecPlain:
		if startOffset > r.size {
			startOffset = r.size
		}
		if _, err := r.file.Seek(startOffset, io.SeekStart); err != nil {
			return &apperrors.SourceError{Path: r.path, Op: "seek", Err: err}
		}
		r.counter = &countingReader{r: r.file, n: startOffset}
		r.br = bufio.NewReaderSize(r.counter, 1<<20)
		r.offset = startOffset
		return nil

	case CodecZstd:
		r.counter = &countingReader{r: r.file}
		dec, err := zstd.NewReader(r.counter,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxWindow(zstdMaxWindow),
		)
		if err != nil {
			return &apperrors.SourceError{Path: r.path, Op: "decoder", Err: err}
		}
		r.zdec = dec
		r.br = bufio.NewReaderSize(dec, 1<<20)

	case CodecGzip:
		r.counter = &countingReader{r: r.file}
		dec, err := gzip.NewReader(r.counter)
		if err != nil {
			return &apperrors.SourceError{Path: r.path, Op: "decoder", Err: err}
		}
		r.gzdec = dec
		r.br = bufio.NewReaderSize(dec, 1<<20)
	}

	return r.discard(startOffset)
}

// discard replays the decoded stream up to offset. Offsets always fall on
// line boundaries produced by an earlier run, so whole lines are skipped.
func (r *Reader) discard(offset int64) error {
	if offset == 0 {
		return nil
	}

	start := time.Now()
	for r.offset < offset {
		_, _, err := r.readLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}

	r.opts.Logger.Info("resumed compressed source",
		"file", r.path,
		"offset", r.offset,
		"requested_offset", offset,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Next returns the next well-formed record or io.EOF.
func (r *Reader) Next(ctx context.Context) (record.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return record.Record{}, apperrors.ErrSourceClosed
	}

	for {
		if err := ctx.Err(); err != nil {
			return record.Record{}, err
		}

		lineStart := r.offset
		line, oversized, err := r.readLine()
		if err != nil {
			return record.Record{}, err
		}

		if oversized {
			r.stats.Oversized++
			r.opts.Logger.Debug("skipping record",
				"file", r.path,
				"offset", lineStart,
				"reason", ReasonOversized,
				"error", fmt.Errorf("%w: limit %d bytes", apperrors.ErrLineTooLong, r.opts.MaxLineBytes),
			)
			r.reject(lineStart, ReasonOversized, nil)
			continue
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		rec, reason, err := r.parse(line)
		if err != nil {
			switch reason {
			case ReasonMalformed:
				r.stats.Malformed++
			default:
				r.stats.Invalid++
			}
			r.opts.Logger.Debug("skipping record",
				"file", r.path,
				"offset", lineStart,
				"reason", reason,
				"error", err,
			)
			r.reject(lineStart, reason, line)
			continue
		}

		rec.Raw = append([]byte(nil), line...)
		rec.EndOffset = r.offset
		r.stats.Records++
		if r.opts.Metrics != nil {
			r.opts.Metrics.IncRecordsRead(string(r.codec))
		}
		return rec, nil
	}
}

// readLine reads one line without its terminator. Lines longer than
// MaxLineBytes are consumed and reported as oversized.
func (r *Reader) readLine() ([]byte, bool, error) {
	if r.ended {
		return nil, false, io.EOF
	}

	r.lineBuf = r.lineBuf[:0]
	oversized := false
	read := 0

	for {
		chunk, err := r.br.ReadSlice('\n')
		read += len(chunk)
		r.offset += int64(len(chunk))

		if !oversized {
			if len(r.lineBuf)+len(chunk) > r.opts.MaxLineBytes+2 {
				oversized = true
				r.lineBuf = r.lineBuf[:0]
			} else {
				r.lineBuf = append(r.lineBuf, chunk...)
			}
		}

		switch {
		case err == nil:
			return trimEOL(r.lineBuf), oversized, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if read == 0 {
				r.ended = true
				return nil, false, io.EOF
			}
			return trimEOL(r.lineBuf), oversized, nil
		default:
			recovered, rerr := r.recover(err)
			if rerr != nil {
				return nil, false, rerr
			}
			if !recovered {
				r.ended = true
				return nil, false, io.EOF
			}
			// The partial line before the corrupted span is dropped.
			r.lineBuf = r.lineBuf[:0]
			oversized = false
			read = 0
		}
	}
}

// recover handles a mid-stream read error. I/O failures of the underlying
// file are returned. Codec failures are counted and, for zstd, decoding
// resumes at the next frame magic number after the bytes already consumed.
func (r *Reader) recover(readErr error) (bool, error) {
	if r.counter.err != nil && !errors.Is(r.counter.err, io.EOF) {
		return false, &apperrors.SourceError{Path: r.path, Op: "read", Err: r.counter.err}
	}

	r.stats.CodecErrors++
	decodeErr := &apperrors.DecodeError{Path: r.path, Offset: r.counter.n, Err: readErr}
	r.opts.Logger.Warn("codec error in source",
		"file", r.path,
		"offset", r.offset,
		"raw_offset", r.counter.n,
		"error", decodeErr,
	)
	r.reject(r.offset, ReasonCodec, nil)

	if r.codec != CodecZstd {
		return false, nil
	}

	next, err := findFrame(r.file, r.counter.n)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, &apperrors.SourceError{Path: r.path, Op: "read", Err: err}
	}

	if _, err := r.file.Seek(next, io.SeekStart); err != nil {
		return false, &apperrors.SourceError{Path: r.path, Op: "seek", Err: err}
	}
	r.counter = &countingReader{r: r.file, n: next}
	if err := r.zdec.Reset(r.counter); err != nil {
		return false, &apperrors.SourceError{Path: r.path, Op: "decoder", Err: err}
	}
	r.br.Reset(r.zdec)

	r.opts.Logger.Info("resynchronized zstd stream",
		"file", r.path,
		"raw_offset", next,
	)
	return true, nil
}

func (r *Reader) parse(line []byte) (record.Record, string, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return record.Record{}, ReasonMalformed, fmt.Errorf("line is not a JSON object")
	}
	// jsonparser only scans for keys; the whole line must still be valid JSON.
	if !json.Valid(trimmed) {
		return record.Record{}, ReasonMalformed, fmt.Errorf("line is not valid JSON")
	}

	var (
		rec        record.Record
		hasCreated bool
		parseErr   error
	)

	jsonparser.EachKey(trimmed, func(idx int, value []byte, vt jsonparser.ValueType, err error) {
		if err != nil {
			parseErr = err
			return
		}
		switch idx {
		case 0:
			if vt == jsonparser.String {
				rec.Subreddit, err = jsonparser.ParseString(value)
			}
		case 1:
			rec.CreatedUTC, err = parseTimestamp(value, vt)
			hasCreated = err == nil
		case 2:
			if vt == jsonparser.String {
				rec.ID, err = jsonparser.ParseString(value)
			}
		}
		if err != nil && parseErr == nil {
			parseErr = err
		}
	}, fieldPaths...)

	if parseErr != nil {
		return record.Record{}, ReasonMalformed, parseErr
	}
	if !hasCreated {
		return record.Record{}, ReasonInvalid, &apperrors.ValidationError{
			RecordID: rec.ID,
			Field:    "created_utc",
			Reason:   "required field is missing",
		}
	}
	if err := r.validator.Validate(rec); err != nil {
		return record.Record{}, ReasonInvalid, err
	}

	return rec, "", nil
}

var fieldPaths = [][]string{
	{"subreddit"},
	{"created_utc"},
	{"id"},
}

// parseTimestamp accepts integers, floats and numeric strings.
func parseTimestamp(value []byte, vt jsonparser.ValueType) (int64, error) {
	s := string(value)
	switch vt {
	case jsonparser.Number:
	case jsonparser.String:
		unquoted, err := jsonparser.ParseString(value)
		if err != nil {
			return 0, err
		}
		s = strings.TrimSpace(unquoted)
	default:
		return 0, fmt.Errorf("created_utc has unsupported type %s", vt)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid created_utc %q: %w", s, err)
	}
	return int64(f), nil
}

func (r *Reader) reject(offset int64, reason string, line []byte) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.IncRecordsRejected(reason)
	}
	if r.opts.OnReject == nil {
		return
	}

	rej := record.Rejection{
		Path:   r.path,
		Offset: offset,
		Reason: reason,
		Time:   time.Now().UTC(),
	}
	if line != nil {
		rej.Line = string(line)
	}
	r.opts.OnReject(rej)
}

// Offset returns the decoded offset consumed so far.
func (r *Reader) Offset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// Position returns the raw bytes consumed from the file and the file size.
func (r *Reader) Position() (int64, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter.n, r.size
}

// Stats returns counters for consumed and skipped lines.
func (r *Reader) Stats() source.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Codec returns the container format of the source.
func (r *Reader) Codec() Codec {
	return r.codec
}

// Path returns the path of the source file.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the decoder and the underlying file.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.zdec != nil {
		r.zdec.Close()
	}
	if r.gzdec != nil {
		r.gzdec.Close()
	}
	return r.file.Close()
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// countingReader counts bytes read from the underlying file and remembers
// the last error it returned.
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil {
		c.err = err
	}
	return n, err
}

// NewOpener returns a source.Opener that opens files with opts.
func NewOpener(opts Options) source.Opener {
	return func(path string, startOffset int64) (source.Source, error) {
		return Open(path, startOffset, opts)
	}
}
