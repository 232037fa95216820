package staging

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/logship/internal/ids"
	"github.com/cuemby/logship/pkg/apperror"
	"github.com/cuemby/logship/pkg/log"
	"github.com/cuemby/logship/pkg/metrics"
)

// Record is a single semi-structured event as decoded from the
// ingest request body. Its keys are resolved against the stream's
// schema by the caller before Append is invoked.
type Record = map[string]any

// EngineConfig configures a staging Engine.
type EngineConfig struct {
	Dir              string
	Hostname         string
	CapBytes         int64
	HighWatermark    float64 // fraction of CapBytes, default 0.8
	LowWatermark     float64 // fraction of CapBytes, default 0.6
	RotationInterval time.Duration // default 1 minute
	RotationBytes    int64         // default 128 MiB
}

func (c *EngineConfig) setDefaults() {
	if c.HighWatermark == 0 {
		c.HighWatermark = 0.8
	}
	if c.LowWatermark == 0 {
		c.LowWatermark = 0.6
	}
	if c.RotationInterval == 0 {
		c.RotationInterval = time.Minute
	}
	if c.RotationBytes == 0 {
		c.RotationBytes = 128 << 20
	}
}

// Engine is the staging engine: it owns every Open and Rotated file on
// this node, groups incoming records into the right file, rotates on
// age/size/shutdown/schema-change, and recovers crash-torn files at
// startup.
type Engine struct {
	cfg EngineConfig

	mu        sync.Mutex
	open      map[groupKey]*StagingFile
	rotated   map[string][]*StagingFile // by stream, files awaiting conversion

	bytesInUse int64 // atomic
	full       int32 // atomic bool: backpressure latched until low watermark

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine constructs an Engine rooted at cfg.Dir. Call Recover before
// accepting traffic to replay any files left by a prior crash.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	cfg.setDefaults()
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, apperror.Wrap(apperror.KindFatal, "create staging directory", err)
	}
	return &Engine{
		cfg:     cfg,
		open:    make(map[groupKey]*StagingFile),
		rotated: make(map[string][]*StagingFile),
		stopCh:  make(chan struct{}),
	}, nil
}

// BytesInUse implements metrics.StagingStater.
func (e *Engine) BytesInUse() int64 { return atomic.LoadInt64(&e.bytesInUse) }

// OpenFileCount implements metrics.StagingStater.
func (e *Engine) OpenFileCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}

// Start launches the background rotation-check loop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.rotationLoop()
}

// Stop rotates every remaining Open file (so nothing is left mid-write
// at shutdown) and halts the rotation loop.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	_ = e.rotateAll()
}

func (e *Engine) rotationLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.checkRotations()
		}
	}
}

func (e *Engine) checkRotations() {
	e.mu.Lock()
	due := make([]*StagingFile, 0)
	for key, f := range e.open {
		if f.Age() >= e.cfg.RotationInterval || f.Size() >= e.cfg.RotationBytes {
			due = append(due, f)
			delete(e.open, key)
		}
	}
	e.mu.Unlock()

	for _, f := range due {
		e.rotateFile(f)
	}
}

func (e *Engine) rotateFile(f *StagingFile) {
	stream := f.name.Stream
	if err := f.rotate(); err != nil {
		log.WithStream(stream).Error().Err(err).Str("path", f.Path()).Msg("failed to rotate staging file")
		return
	}
	e.mu.Lock()
	e.rotated[stream] = append(e.rotated[stream], f)
	e.mu.Unlock()
	log.WithStream(stream).Debug().Str("path", f.Path()).Msg("rotated staging file")
}

func (e *Engine) rotateAll() error {
	e.mu.Lock()
	all := make([]*StagingFile, 0, len(e.open))
	for key, f := range e.open {
		all = append(all, f)
		delete(e.open, key)
	}
	e.mu.Unlock()

	for _, f := range all {
		e.rotateFile(f)
	}
	return nil
}

// OnSchemaChange rotates every Open file for stream. Called by the
// ingest path after schema.Registry.Reconcile reports did_change, so
// that no further rows are appended to a file whose fingerprint no
// longer matches the stream's current schema.
func (e *Engine) OnSchemaChange(stream string) {
	e.mu.Lock()
	var affected []*StagingFile
	for key, f := range e.open {
		if key.stream == stream {
			affected = append(affected, f)
			delete(e.open, key)
		}
	}
	e.mu.Unlock()

	for _, f := range affected {
		e.rotateFile(f)
	}
}

// AppendRequest is one ingest batch destined for a single stream.
// PartitionOf is invoked per record to compute its minute bucket and
// custom partition values; grouping and file selection happen inside
// Append.
type AppendRequest struct {
	Stream      string
	Fingerprint uint64
	Records     []Record
	PartitionOf func(Record) (minute int64, customParts []string)
}

// Append groups req.Records by partition key and writes each group as
// one length-prefixed block to its Open StagingFile, creating the file
// if this is the first write for that group. It returns StagingFull if
// the engine is over its high watermark and has not yet dropped back
// below the low watermark.
func (e *Engine) Append(ctx context.Context, req AppendRequest) error {
	if e.isFull() {
		metrics.IngestRejectedTotal.WithLabelValues("staging_full").Inc()
		return apperror.New(apperror.KindStagingFull, "staging directory over capacity")
	}

	groups := make(map[groupKey][]Record)
	for _, rec := range req.Records {
		minute, customs := req.PartitionOf(rec)
		key := groupKey{
			stream:      req.Stream,
			minute:      minute,
			customParts: joinParts(customs),
			fingerprint: req.Fingerprint,
		}
		groups[key] = append(groups[key], rec)
	}

	var totalBytes int64
	for key, recs := range groups {
		f, err := e.fileFor(key)
		if err != nil {
			return err
		}
		block, err := json.Marshal(recs)
		if err != nil {
			return apperror.Wrap(apperror.KindFatal, "encode row-group block", err)
		}
		if err := f.Append(block); err != nil {
			return err
		}
		totalBytes += int64(len(block))
	}

	atomic.AddInt64(&e.bytesInUse, totalBytes)
	metrics.IngestRecordsTotal.WithLabelValues(req.Stream).Add(float64(len(req.Records)))
	metrics.IngestBytesTotal.WithLabelValues(req.Stream).Add(float64(totalBytes))
	e.refreshBackpressure()
	return nil
}

func (e *Engine) fileFor(key groupKey) (*StagingFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if f, ok := e.open[key]; ok {
		return f, nil
	}

	var customs []string
	if key.customParts != "" {
		customs = splitParts(key.customParts)
	}
	name := Name{
		Hostname:    e.cfg.Hostname,
		Stream:      key.stream,
		Minute:      key.minute,
		CustomParts: customs,
		Fingerprint: key.fingerprint,
		ULID:        ids.New(),
	}
	f, err := createStagingFile(e.cfg.Dir, name)
	if err != nil {
		return nil, err
	}
	e.open[key] = f
	return f, nil
}

func (e *Engine) isFull() bool {
	return atomic.LoadInt32(&e.full) == 1
}

func (e *Engine) refreshBackpressure() {
	inUse := atomic.LoadInt64(&e.bytesInUse)
	if e.cfg.CapBytes <= 0 {
		return
	}
	ratio := float64(inUse) / float64(e.cfg.CapBytes)
	switch {
	case ratio >= e.cfg.HighWatermark:
		atomic.StoreInt32(&e.full, 1)
	case ratio <= e.cfg.LowWatermark:
		atomic.StoreInt32(&e.full, 0)
	}
}

// ReleaseBytes decrements the tracked byte usage, called once a
// tombstoned file has actually been deleted from disk.
func (e *Engine) ReleaseBytes(n int64) {
	atomic.AddInt64(&e.bytesInUse, -n)
	e.refreshBackpressure()
}

// ClaimRotated renames every currently-Rotated file for stream to
// Claimed, tagged with epoch, and returns them grouped by fingerprint
// so the conversion engine can convert each group as a unit.
func (e *Engine) ClaimRotated(stream, epoch string) (map[uint64][]*StagingFile, error) {
	e.mu.Lock()
	files := e.rotated[stream]
	e.rotated[stream] = nil
	e.mu.Unlock()

	byFingerprint := make(map[uint64][]*StagingFile)
	for _, f := range files {
		if err := f.claim(epoch); err != nil {
			log.WithStream(stream).Error().Err(err).Str("path", f.Path()).Msg("failed to claim staging file")
			continue
		}
		byFingerprint[f.name.Fingerprint] = append(byFingerprint[f.name.Fingerprint], f)
	}
	return byFingerprint, nil
}

// Release returns claimed files to stream's Rotated pool. The
// conversion pipeline calls this when it fails to convert or upload a
// claimed group, so the files are retried on the pipeline's next tick
// instead of sitting invisible until the engine's next Recover.
func (e *Engine) Release(stream string, files []*StagingFile) {
	kept := make([]*StagingFile, 0, len(files))
	for _, f := range files {
		if err := f.unclaim(); err != nil {
			log.WithStream(stream).Error().Err(err).Str("path", f.Path()).Msg("failed to release claimed staging file back to rotated; it will only be retried after a restart")
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return
	}
	e.mu.Lock()
	e.rotated[stream] = append(e.rotated[stream], kept...)
	e.mu.Unlock()
}

// Tombstone marks f as converted and safe for async deletion, then
// removes it from disk and releases its bytes from the usage counter.
func (e *Engine) Tombstone(f *StagingFile) error {
	size := f.Size()
	if err := f.tombstone(); err != nil {
		return err
	}
	if err := f.remove(); err != nil {
		return err
	}
	e.ReleaseBytes(size)
	return nil
}

func joinParts(parts []string) string {
	sanitized := make([]string, len(parts))
	for i, p := range parts {
		sanitized[i] = sanitizePartValue(p)
	}
	out := ""
	for i, p := range sanitized {
		if i > 0 {
			out += customPartSeparator
		}
		out += p
	}
	return out
}

func splitParts(joined string) []string {
	if joined == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(joined); i++ {
		if string(joined[i]) == customPartSeparator {
			out = append(out, joined[start:i])
			start = i + 1
		}
	}
	out = append(out, joined[start:])
	return out
}
