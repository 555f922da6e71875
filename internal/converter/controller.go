// Package converter runs conversion jobs: it validates a request, drives each
// requested format through encoding and optional compression, and exposes
// pause, resume and cancel on the single active job.
package converter

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"frame-converter-go/internal/compressor"
	"frame-converter-go/internal/encoder"
	"frame-converter-go/internal/frames"
	"frame-converter-go/internal/logger"
	"frame-converter-go/internal/progress"
	"frame-converter-go/internal/scanner"
	"frame-converter-go/internal/statistics"
)

// Options wires a Controller. Nil fields get working defaults.
type Options struct {
	Logger     *logrus.Logger
	Scanner    *scanner.Scanner
	Encoders   map[encoder.Format]encoder.Encoder
	Local      compressor.Compressor
	Remote     compressor.Compressor
	Hub        *progress.Hub
	Stats      *statistics.Statistics
	SizePolicy frames.SizePolicy
}

// Controller owns at most one active Job.
type Controller struct {
	logger   *logrus.Logger
	scanner  *scanner.Scanner
	encoders map[encoder.Format]encoder.Encoder
	local    compressor.Compressor
	remote   compressor.Compressor
	hub      *progress.Hub
	stats    *statistics.Statistics
	policy   frames.SizePolicy

	mu  sync.Mutex
	job *Job
}

// New returns a Controller.
func New(opts Options) *Controller {
	c := &Controller{
		logger:   opts.Logger,
		scanner:  opts.Scanner,
		encoders: opts.Encoders,
		local:    opts.Local,
		remote:   opts.Remote,
		hub:      opts.Hub,
		stats:    opts.Stats,
		policy:   opts.SizePolicy,
	}
	if c.logger == nil {
		c.logger = logger.Discard()
	}
	if c.scanner == nil {
		c.scanner = scanner.New(c.logger, scanner.Options{})
	}
	if c.encoders == nil {
		c.encoders = encoder.New(encoder.Settings{APNGCompressionLevel: -1, GIFDither: true})
	}
	if c.local == nil {
		c.local = compressor.NewLocalCompressor()
	}
	if c.hub == nil {
		c.hub = progress.NewHub(0)
	}
	if c.stats == nil {
		c.stats = statistics.NewStatistics()
	}
	if c.policy == "" {
		c.policy = frames.PolicyPad
	}
	return c
}

// Stats returns the controller's counters.
func (c *Controller) Stats() *statistics.Statistics { return c.stats }

// Subscribe returns a progress channel and a function that ends the subscription.
func (c *Controller) Subscribe() (<-chan progress.Event, func()) {
	return c.hub.Subscribe()
}

// Close cancels the active job, waits for it to finish and stops the
// progress hub. Subscriber channels are closed.
func (c *Controller) Close() {
	c.mu.Lock()
	job := c.job
	c.mu.Unlock()
	if job != nil && !job.State().Terminal() {
		_ = job.requestCancel()
		<-job.Done()
	}

	c.hub.Close()
	if dropped := c.hub.Dropped(); dropped > 0 {
		c.logger.WithField("dropped_events", dropped).Warn("Progress events were dropped for slow subscribers")
	}
}

// Scan probes input frames and leaves job state and progress untouched.
func (c *Controller) Scan(ctx context.Context, mode scanner.InputMode, inputPath string, inputPaths []string) (*scanner.ScanResult, error) {
	if mode != scanner.ModeFolder && mode != scanner.ModeFile {
		return nil, validationErrorf("unknown input mode %q", mode)
	}
	res, err := c.scanner.Scan(ctx, mode, inputPath, inputPaths)
	if err != nil {
		return nil, newError(classify(err), "scan", err)
	}
	c.stats.AddFramesScanned(res.Total)
	c.logger.WithFields(logrus.Fields{
		"mode":          mode,
		"frames":        res.Total,
		"all_same_size": res.AllSameSize,
	}).Debug("Scan requested")
	if cache := c.scanner.Cache(); cache != nil {
		st := cache.Stats()
		c.stats.SetCacheStats(st.Hits, st.Misses)
	}
	return res, nil
}

// plan is a validated request ready to run.
type plan struct {
	req        Request
	files      []string
	size       image.Point
	outputName string
}

func (p *plan) outputPath(f encoder.Format) string {
	return filepath.Join(p.req.OutputDir, p.outputName+"."+f.Extension())
}

// prepare validates req against the file system. Every failure is a
// ValidationError, and nothing is written besides the output directory.
func (c *Controller) prepare(ctx context.Context, req Request) (*plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.UseRemoteCompression && !req.UseLocalCompression && c.remote == nil {
		return nil, validationErrorf("remote compression is not configured")
	}
	for _, f := range req.Formats {
		if _, ok := c.encoders[f]; !ok {
			return nil, validationErrorf("no encoder registered for %s", f)
		}
	}

	scan, err := c.scanner.Scan(ctx, req.InputMode, req.InputPath, req.InputPaths)
	if err != nil {
		return nil, newError(KindValidation, "validate", err)
	}
	if scan.Total == 0 {
		return nil, validationErrorf("no readable frames found")
	}

	first := scan.Files[0]
	if !scan.AllSameSize && c.policy == frames.PolicyReject {
		return nil, validationErrorf("frames have mixed dimensions; expected %dx%d for every frame", first.Width, first.Height)
	}

	if err := ensureOutputDir(req.OutputDir); err != nil {
		return nil, err
	}

	p := &plan{
		req:        req,
		files:      make([]string, len(scan.Files)),
		size:       image.Pt(int(first.Width), int(first.Height)),
		outputName: req.OutputName,
	}
	for i, f := range scan.Files {
		p.files[i] = f.Path
	}
	if p.outputName == "" {
		p.outputName = DeriveOutputName(first.Path, first.Width, first.Height)
	}
	return p, nil
}

func (c *Controller) activeLocked() bool {
	return c.job != nil && !c.job.State().Terminal()
}

// Start validates req and launches a job in the background. The job stops
// when ctx is cancelled or Cancel is called. A previous terminal job is
// replaced.
func (c *Controller) Start(ctx context.Context, req Request) (*Job, error) {
	c.mu.Lock()
	busy := c.activeLocked()
	c.mu.Unlock()
	if busy {
		return nil, newError(KindAlreadyRunning, "start", errors.New("a conversion is already in progress"))
	}

	p, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.activeLocked() {
		c.mu.Unlock()
		return nil, newError(KindAlreadyRunning, "start", errors.New("a conversion is already in progress"))
	}
	jobCtx, cancel := context.WithCancel(ctx)
	job := newJob(p.req, cancel)
	c.job = job
	c.mu.Unlock()

	stop := context.AfterFunc(jobCtx, job.wake)
	c.stats.IncrementJobsStarted()
	logger.ForJob(c.logger, job.ID).WithFields(logrus.Fields{
		"frames":  len(p.files),
		"formats": p.req.Formats,
		"output":  p.req.OutputDir,
		"name":    p.outputName,
	}).Info("Conversion started")

	go func() {
		defer stop()
		defer cancel()
		c.run(jobCtx, job, p)
	}()
	return job, nil
}

// Convert runs req to completion and returns one result per requested
// format. The error is non-nil when the request is rejected or the job is
// cancelled.
func (c *Controller) Convert(ctx context.Context, req Request) ([]ConvertResult, error) {
	job, err := c.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	results := job.Wait()
	if job.State() == StateCancelled {
		return results, newError(KindCancelled, "convert", context.Canceled)
	}
	return results, nil
}

func (c *Controller) current(op string) (*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return nil, newError(KindInvalidState, op, errors.New("no active job"))
	}
	return c.job, nil
}

// Pause suspends the running job at its next frame boundary.
func (c *Controller) Pause() error {
	job, err := c.current("pause")
	if err != nil {
		return err
	}
	if err := job.pause(); err != nil {
		return err
	}
	logger.ForJob(c.logger, job.ID).Info("Conversion paused")
	return nil
}

// Resume continues a paused job from the frame where it stopped.
func (c *Controller) Resume() error {
	job, err := c.current("resume")
	if err != nil {
		return err
	}
	if err := job.resume(); err != nil {
		return err
	}
	logger.ForJob(c.logger, job.ID).Info("Conversion resumed")
	return nil
}

// Cancel stops a running or paused job. Files of formats already finished
// are kept; the in-flight format's output is removed.
func (c *Controller) Cancel() error {
	job, err := c.current("cancel")
	if err != nil {
		return err
	}
	if err := job.requestCancel(); err != nil {
		return err
	}
	logger.ForJob(c.logger, job.ID).Info("Conversion cancel requested")
	return nil
}

// Status returns a snapshot of the current or most recent job.
func (c *Controller) Status() JobSummary {
	c.mu.Lock()
	job := c.job
	c.mu.Unlock()
	if job == nil {
		return JobSummary{State: StateIdle, Results: []ConvertResult{}}
	}
	return job.Summary()
}

func (c *Controller) publish(job *Job, e progress.Event) {
	job.record(e)
	c.hub.Publish(e)
}

func (c *Controller) run(ctx context.Context, job *Job, p *plan) {
	log := logger.ForJob(c.logger, job.ID)

	formats := p.req.Formats
	next := 0
	cancelled := false
	for ; next < len(formats); next++ {
		if err := job.checkpoint(ctx); err != nil {
			cancelled = true
			break
		}
		res := c.convertFormat(ctx, job, p, formats[next])
		job.results.Add(res)
		if ctx.Err() != nil {
			next++
			cancelled = true
			break
		}
	}

	if cancelled {
		job.results.AddCancelled(formats[next:], p.outputPath)
	}

	var state State
	switch {
	case cancelled:
		state = StateCancelled
		c.stats.IncrementJobsCancelled()
	case job.results.Succeeded() > 0:
		state = StateCompleted
		c.stats.IncrementJobsCompleted()
	default:
		state = StateFailed
		c.stats.IncrementJobsFailed()
	}
	c.stats.Finalize()

	c.publish(job, progress.NewEvent(progress.PhaseFinished, len(formats), len(formats)))
	job.finish(state)
	log.WithFields(logrus.Fields{
		"state":     state,
		"succeeded": job.results.Succeeded(),
		"requested": len(formats),
	}).Info("Conversion finished")
}

// convertFormat encodes, writes and optionally compresses one format. It
// always returns a result; on cancellation any file it wrote is removed.
func (c *Controller) convertFormat(ctx context.Context, job *Job, p *plan, format encoder.Format) (res ConvertResult) {
	path := p.outputPath(format)
	res = ConvertResult{Format: string(format), Path: path}
	log := logger.ForFormat(c.logger, job.ID, string(format), path)
	name := strings.ToUpper(string(format))

	written := false
	defer func() {
		if res.ErrorKind == KindCancelled {
			c.removeOutput(path, written)
		}
		c.stats.RecordFormat(string(format), res.Success, derefSize(res.OriginalSize), derefSize(res.CompressedSize))
		if !res.Success {
			c.stats.AddError(path, string(format), res.Error)
			log.WithField("kind", res.ErrorKind).Warn("Format failed: " + res.Error)
		}
	}()

	c.publish(job, progress.NewEvent(fmt.Sprintf("Starting %s conversion", name), 0, 0).WithFormat(string(format)).WithFile(path))

	src := frames.NewSource(p.files, p.size, c.policy)
	phase := "Encoding " + name
	data, err := c.encoders[format].Encode(ctx, src, encoder.Options{
		FPS:       p.req.FPS,
		LoopCount: p.req.LoopCount,
		Progress: func(current, total int) {
			c.publish(job, progress.NewEvent(phase, current, total).WithFormat(string(format)).WithFile(path))
			logger.ForFrame(log, current-1, total, p.files[current-1]).Trace("Frame encoded")
		},
		Checkpoint: job.checkpoint,
	})
	if err != nil {
		res.fail(err)
		return res
	}
	c.stats.AddFramesEncoded(src.Len())

	if err := compressor.WriteFileAtomic(path, data, 0644); err != nil {
		res.fail(newError(KindIO, "write", err))
		return res
	}
	written = true
	res.OriginalSize = sizePtr(len(data))
	res.CompressedSize = sizePtr(len(data))

	comp := c.compressorFor(p.req)
	if comp == nil {
		res.Success = true
		log.WithField("bytes", len(data)).Info("Format written")
		return res
	}

	if err := job.checkpoint(ctx); err != nil {
		res.fail(err)
		return res
	}
	c.publish(job, progress.NewEvent(progress.PhaseCompressing, 1, 1).WithFormat(string(format)).WithFile(path))

	out, outcome, cerr := compressor.Run(ctx, comp, data, format, p.req.CompressionQuality)
	if ctx.Err() != nil {
		res.fail(ctx.Err())
		return res
	}
	c.stats.RecordCompression(cerr)

	res.Success = true
	switch {
	case cerr != nil:
		res.Error = cerr.Error()
		res.ErrorKind = KindCompression
		log.WithError(cerr).Warn("Compression failed, keeping uncompressed output")
	case outcome.Action == "compressed":
		if err := compressor.WriteFileAtomic(path, out, 0644); err != nil {
			res.Error = err.Error()
			res.ErrorKind = KindCompression
			log.WithError(err).Warn("Writing compressed output failed, keeping uncompressed output")
			break
		}
		res.CompressedSize = sizePtr(len(out))
		log.WithFields(logrus.Fields{
			"original_size":   outcome.OriginalSize,
			"compressed_size": outcome.CompressedSize,
			"saved_percent":   fmt.Sprintf("%.1f", outcome.PercentageSaved),
		}).Info("Output compressed")
	default:
		log.Info("Compressed output not smaller, kept original")
	}

	c.publish(job, progress.NewEvent(progress.PhaseCompressed, 1, 1).WithFormat(string(format)).WithFile(path))
	return res
}

func (c *Controller) compressorFor(req Request) compressor.Compressor {
	switch {
	case req.UseLocalCompression:
		return c.local
	case req.UseRemoteCompression:
		return c.remote
	default:
		return nil
	}
}

func (c *Controller) removeOutput(path string, written bool) {
	if written {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.WithField(logger.FieldFile, path).WithError(err).Warn("Failed to remove cancelled output")
		}
	}
	for _, tmp := range compressor.TempFiles(path) {
		os.Remove(tmp)
	}
}

func derefSize(p *uint64) int64 {
	if p == nil {
		return 0
	}
	return int64(*p)
}
