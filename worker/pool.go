package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"audio-converter/config"
	"audio-converter/models"
	"audio-converter/services"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type RecordStore interface {
	FetchPending(ctx context.Context, limit int, afterID int64) ([]models.ConversionRecord, error)
	IsPending(ctx context.Context, id int64) (bool, error)
	MarkComplete(ctx context.Context, id int64, artifactURL, documentID string) error
	RecordFailure(ctx context.Context, id int64, errorMsg string, maxAttempts int) (bool, error)
}

type AudioFetcher interface {
	Fetch(ctx context.Context, locator string) (services.Audio, error)
}

type Transcriber interface {
	Decode(ctx context.Context, audio services.Audio) ([]float32, error)
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (services.Summary, error)
}

type Publisher interface {
	Publish(ctx context.Context, artifact services.Artifact) (string, error)
}

type Registrar interface {
	Register(ctx context.Context, reg services.Registration) (string, error)
}

// StatusRecorder mirrors progress somewhere observable. Failures are logged
// and never affect the record.
type StatusRecorder interface {
	SetStatus(ctx context.Context, id int64, st services.RecordStatus) error
}

// Locker grants exclusive processing leases across concurrent runs.
type Locker interface {
	Claim(ctx context.Context, id int64, owner string) (bool, error)
	Release(ctx context.Context, id int64, owner string) error
}

type EventPublisher interface {
	Completed(evt services.ConversionEvent) error
	Failed(evt services.ConversionEvent) error
}

// Dependencies are the pipeline's collaborators. Status, Locker and Events
// are optional.
type Dependencies struct {
	Store       RecordStore
	Fetcher     AudioFetcher
	Transcriber Transcriber
	Summarizer  Summarizer
	Publisher   Publisher
	Registrar   Registrar
	Status      StatusRecorder
	Locker      Locker
	Events      EventPublisher
}

type Pool struct {
	config *config.Config
	deps   Dependencies
	log    *logrus.Entry
	now    func() time.Time
}

func NewPool(cfg *config.Config, deps Dependencies, log *logrus.Entry) *Pool {
	return &Pool{
		config: cfg,
		deps:   deps,
		log:    log.WithField("component", "worker"),
		now:    time.Now,
	}
}

// Run drains the queue once, or keeps draining every PollInterval until ctx
// is cancelled. onDrain is called with each drain's report.
func (p *Pool) Run(ctx context.Context, onDrain func(*models.BatchReport)) error {
	for {
		rep, err := p.Drain(ctx)
		if onDrain != nil && rep != nil {
			onDrain(rep)
		}
		if p.config.PollInterval <= 0 {
			return err
		}
		// A daemon survives a failed drain and tries again next tick.
		if err != nil {
			p.log.WithError(err).Error("Drain failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.config.PollInterval):
		}
	}
}

// Drain processes pending records batch by batch and stops at the first
// empty batch. The cursor only moves forward, so a record left pending by a
// failure is not fetched again in the same drain.
func (p *Pool) Drain(ctx context.Context) (*models.BatchReport, error) {
	rep := &models.BatchReport{
		RunID:     uuid.NewString(),
		StartedAt: p.now(),
	}
	log := p.log.WithField("run_id", rep.RunID)
	log.WithFields(logrus.Fields{
		"batch_size":   p.config.BatchSize,
		"worker_count": p.config.WorkerCount,
	}).Info("Starting drain")

	var cursor int64
	for {
		if err := ctx.Err(); err != nil {
			rep.FinishedAt = p.now()
			log.Info("Drain interrupted")
			return rep, nil
		}

		records, err := withTimeout(ctx, p.config.StoreTimeout, func(ctx context.Context) ([]models.ConversionRecord, error) {
			return p.deps.Store.FetchPending(ctx, p.config.BatchSize, cursor)
		})
		if err != nil {
			rep.FinishedAt = p.now()
			return rep, fmt.Errorf("fetch pending records: %w", err)
		}
		if len(records) == 0 {
			break
		}

		rep.Batches++
		log.WithFields(logrus.Fields{"batch": rep.Batches, "records": len(records)}).Info("Processing batch")
		rep.Outcomes = append(rep.Outcomes, p.ProcessBatch(ctx, rep.RunID, records)...)
		cursor = records[len(records)-1].ID
	}

	rep.FinishedAt = p.now()
	succeeded, failed, skipped := rep.Counts()
	log.WithFields(logrus.Fields{
		"batches":     rep.Batches,
		"succeeded":   succeeded,
		"failed":      failed,
		"skipped":     skipped,
		"duration_ms": rep.FinishedAt.Sub(rep.StartedAt).Milliseconds(),
	}).Info("No pending records found, drain finished")
	return rep, nil
}

// ProcessBatch runs every record of a batch through the pipeline with at most
// WorkerCount records in flight. Outcomes keep the batch order.
func (p *Pool) ProcessBatch(ctx context.Context, runID string, records []models.ConversionRecord) []models.Outcome {
	outcomes := make([]models.Outcome, len(records))

	workers := p.config.WorkerCount
	if workers <= 1 {
		for i := range records {
			outcomes[i] = p.processRecord(ctx, runID, 0, records[i])
		}
		return outcomes
	}

	jobs := make(chan int)
	sent := 0
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = p.processRecord(ctx, runID, workerID, records[i])
			}
		}(w)
	}
dispatch:
	for sent < len(records) {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- sent:
			sent++
		}
	}
	close(jobs)
	wg.Wait()

	for i := sent; i < len(records); i++ {
		outcomes[i] = p.interrupted(records[i])
	}
	return outcomes
}

func (p *Pool) interrupted(rec models.ConversionRecord) models.Outcome {
	return models.Outcome{
		RecordID:  rec.ID,
		OwnerID:   rec.OwnerID,
		Stage:     models.StageQueued,
		Skipped:   true,
		StartedAt: p.now(),
	}
}

func (p *Pool) processRecord(ctx context.Context, runID string, workerID int, rec models.ConversionRecord) models.Outcome {
	if ctx.Err() != nil {
		return p.interrupted(rec)
	}

	out := models.Outcome{
		RecordID:  rec.ID,
		OwnerID:   rec.OwnerID,
		Stage:     models.StageQueued,
		StartedAt: p.now(),
	}
	log := p.log.WithFields(logrus.Fields{
		"run_id":    runID,
		"worker_id": workerID,
		"record_id": rec.ID,
	})

	if p.deps.Locker != nil {
		ok, err := p.deps.Locker.Claim(ctx, rec.ID, runID)
		if err != nil {
			log.WithError(err).Warn("Failed to claim record, skipping")
		}
		if !ok {
			out.Skipped = true
			out.Duration = time.Since(out.StartedAt)
			log.Info("Record is held by another run, skipping")
			return out
		}
		defer func() {
			if err := p.deps.Locker.Release(context.WithoutCancel(ctx), rec.ID, runID); err != nil {
				log.WithError(err).Warn("Failed to release record lease")
			}
		}()

		// The batch may be stale: another run can finish the record between
		// our fetch and our claim.
		pending, err := withTimeout(ctx, p.config.StoreTimeout, func(ctx context.Context) (bool, error) {
			return p.deps.Store.IsPending(ctx, rec.ID)
		})
		if err != nil {
			log.WithError(err).Warn("Failed to re-check record status, skipping")
		}
		if !pending {
			out.Skipped = true
			out.Duration = time.Since(out.StartedAt)
			log.Info("Record is no longer pending, skipping")
			return out
		}
	}

	log.WithField("audio_location", rec.AudioLocation).Info("Processing record")
	p.setStatus(ctx, log, rec.ID, services.RecordStatus{Status: models.StatusPending, Stage: models.StageQueued})

	err := p.runStages(ctx, rec, &out)
	out.Duration = time.Since(out.StartedAt)

	if err != nil {
		out.Err = err
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// Shutdown, not a failure of the record. It stays pending with
			// its attempts untouched.
			out.Skipped = true
			log.WithField("stage", out.Stage).WithError(err).Info("Record interrupted by shutdown")
			return out
		}
		p.handleFailure(ctx, log, runID, rec, out)
		return out
	}

	p.setStatus(ctx, log, rec.ID, services.RecordStatus{Status: models.StatusComplete, Stage: out.Stage})
	p.publishEvent(log, true, p.event(runID, rec, out))
	log.WithFields(logrus.Fields{
		"artifact_url": out.ArtifactURL,
		"document_id":  out.DocumentID,
		"duration_ms":  out.Duration.Milliseconds(),
	}).Info("Record processed and updated successfully")
	return out
}

// runStages drives one record from fetch to commit. out.Stage always holds
// the last stage that completed.
func (p *Pool) runStages(ctx context.Context, rec models.ConversionRecord, out *models.Outcome) error {
	cfg := p.config

	audio, err := withTimeout(ctx, cfg.FetchTimeout, func(ctx context.Context) (services.Audio, error) {
		return p.deps.Fetcher.Fetch(ctx, rec.AudioLocation)
	})
	if err != nil {
		return classify(models.KindFetch, err)
	}
	out.Stage = models.StageFetched

	// Decoding and transcription share one deadline.
	transcribeCtx, cancel := stageContext(ctx, cfg.TranscribeTimeout)
	defer cancel()

	samples, err := p.deps.Transcriber.Decode(transcribeCtx, audio)
	if err != nil {
		return classify(models.KindDecode, err)
	}
	out.Stage = models.StageDecoded

	transcript, err := p.deps.Transcriber.Transcribe(transcribeCtx, samples)
	if err != nil {
		return classify(models.KindTranscription, err)
	}
	out.Stage = models.StageTranscribed

	summary, err := withTimeout(ctx, cfg.SummarizeTimeout, func(ctx context.Context) (services.Summary, error) {
		return p.deps.Summarizer.Summarize(ctx, transcript)
	})
	if err != nil {
		return classify(models.KindSummarization, err)
	}
	out.Stage = models.StageSummarized

	artifact := services.BuildArtifact(rec.ID, cfg.S3KeyPrefix, summary, transcript)
	out.ArtifactName = artifact.Name
	out.Stage = models.StageComposed

	artifactURL, err := withTimeout(ctx, cfg.UploadTimeout, func(ctx context.Context) (string, error) {
		return p.deps.Publisher.Publish(ctx, artifact)
	})
	if err != nil {
		return classify(models.KindPublish, err)
	}
	out.ArtifactURL = artifactURL
	out.Stage = models.StagePublished

	documentID, err := withTimeout(ctx, cfg.RegisterTimeout, func(ctx context.Context) (string, error) {
		return p.deps.Registrar.Register(ctx, services.Registration{
			URL:      artifactURL,
			FileName: artifact.Name,
			OwnerID:  rec.OwnerID,
		})
	})
	if err != nil {
		return classify(models.KindRegistration, err)
	}
	if documentID == "" {
		return models.StageErrorf(models.KindRegistration, "registration returned an empty document id")
	}
	out.DocumentID = documentID
	out.Stage = models.StageRegistered

	_, err = withTimeout(ctx, cfg.StoreTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.deps.Store.MarkComplete(ctx, rec.ID, artifactURL, documentID)
	})
	if err != nil {
		return classify(models.KindStore, err)
	}
	out.Stage = models.StageCommitted

	return nil
}

func (p *Pool) handleFailure(ctx context.Context, log *logrus.Entry, runID string, rec models.ConversionRecord, out models.Outcome) {
	kind := models.KindOf(out.Err)
	log.WithFields(logrus.Fields{
		"stage":      out.Stage,
		"error_kind": kind,
	}).WithError(out.Err).Errorf("Skipping record %d due to %s error", rec.ID, kind)

	p.setStatus(ctx, log, rec.ID, services.RecordStatus{
		Status: models.StatusPending,
		Stage:  out.Stage,
		Error:  out.Err.Error(),
	})
	p.publishEvent(log, false, p.event(runID, rec, out))

	if p.config.MaxAttempts <= 0 {
		return
	}
	storeCtx, cancel := stageContext(context.WithoutCancel(ctx), p.config.StoreTimeout)
	defer cancel()
	failed, err := p.deps.Store.RecordFailure(storeCtx, rec.ID, out.Err.Error(), p.config.MaxAttempts)
	if err != nil {
		log.WithError(err).Warn("Failed to record attempt")
		return
	}
	if failed {
		log.WithField("max_attempts", p.config.MaxAttempts).Warn("Record moved to failed after reaching max attempts")
		p.setStatus(ctx, log, rec.ID, services.RecordStatus{
			Status: models.StatusFailed,
			Stage:  out.Stage,
			Error:  out.Err.Error(),
		})
	}
}

func (p *Pool) setStatus(ctx context.Context, log *logrus.Entry, id int64, st services.RecordStatus) {
	if p.deps.Status == nil {
		return
	}
	if err := p.deps.Status.SetStatus(context.WithoutCancel(ctx), id, st); err != nil {
		log.WithError(err).Warn("Failed to update status mirror")
	}
}

func (p *Pool) event(runID string, rec models.ConversionRecord, out models.Outcome) services.ConversionEvent {
	evt := services.ConversionEvent{
		RunID:       runID,
		RecordID:    rec.ID,
		OwnerID:     rec.OwnerID,
		Stage:       out.Stage,
		ArtifactURL: out.ArtifactURL,
		DocumentID:  out.DocumentID,
		DurationMs:  out.Duration.Milliseconds(),
		HappenedAt:  p.now().Unix(),
	}
	if out.Err != nil {
		evt.ErrorKind = models.KindOf(out.Err)
		evt.Error = out.Err.Error()
	}
	return evt
}

func (p *Pool) publishEvent(log *logrus.Entry, completed bool, evt services.ConversionEvent) {
	if p.deps.Events == nil {
		return
	}
	var err error
	if completed {
		err = p.deps.Events.Completed(evt)
	} else {
		err = p.deps.Events.Failed(evt)
	}
	if err != nil {
		log.WithError(err).Warn("Failed to publish conversion event")
	}
}

// stageContext bounds ctx by timeout. A zero timeout means no deadline.
func stageContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := stageContext(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// classify makes sure err carries a kind, defaulting to the failing stage's.
func classify(kind models.ErrorKind, err error) error {
	var se *models.StageError
	if errors.As(err, &se) {
		return err
	}
	return models.NewStageError(kind, err)
}
