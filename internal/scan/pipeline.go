// Package scan runs the menu scan pipeline: read the photo, reuse what
// earlier scans already learned, translate the rest, illustrate the
// highlights, and write the results back for the next scan. Progress is
// published as an ordered event stream through a Sink.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/internal/match"
	"github.com/menulens/api/internal/objstore"
	"github.com/menulens/api/pkg/dishkey"
	"github.com/menulens/api/pkg/models"
)

const (
	// translateChunkSize bounds one translation call so partial menus reach
	// the client while later chunks are still in flight.
	translateChunkSize = 20

	maxTop3      = 3
	imageWorkers = 2
)

// PipelineStore is the slice of the store the pipeline reads and writes.
type PipelineStore interface {
	FetchDishKnowledge(ctx context.Context, language string, dishKeys []string) (map[string]*models.DishKnowledge, error)
	UpsertDishKnowledge(ctx context.Context, rows []*models.DishKnowledge) (int, error)
	InsertScanRecord(ctx context.Context, rec *models.ScanRecord) (bool, error)
}

// Pipeline executes scan jobs. It is stateless across runs and safe for
// concurrent use; per-run state lives in a session.
type Pipeline struct {
	cfg      *config.Config
	provider models.VisionProvider
	fallback models.VisionProvider
	matcher  *match.Matcher
	store    PipelineStore
	objects  objstore.Store
}

// NewPipeline wires a pipeline. fallback may be nil; matcher and objects
// must not be.
func NewPipeline(cfg *config.Config, provider, fallback models.VisionProvider, matcher *match.Matcher, store PipelineStore, objects objstore.Store) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		provider: provider,
		fallback: fallback,
		matcher:  matcher,
		store:    store,
		objects:  objects,
	}
}

// Params carries one job's inputs into a run.
type Params struct {
	JobID     uuid.UUID
	ImageJPEG []byte
	Language  string
	Location  *models.GeoPoint
	// Resume seeds the run with items recovered from a prior attempt's
	// event log so a retried job keeps its ids and translations.
	Resume []models.MenuItem
}

// Outcome summarizes a finished run for the job layer.
type Outcome struct {
	Status    string
	Items     []models.MenuItem
	Summary   models.ScanSummary
	ErrorCode string
}

// scanError is a classified scan-level failure destined for an error event.
type scanError struct {
	code        string
	message     string
	detail      string
	recoverable bool
}

// session is the per-run state. The pipeline emits from a single goroutine;
// only budget accounting is touched concurrently.
type session struct {
	p         *Pipeline
	b         *Budget
	sink      Sink
	params    Params
	items     *ItemList
	sessionID string

	match        *match.Result
	prefetched   map[string]*models.DishKnowledge
	failure      *scanError
	usedCache    bool
	usedFallback bool
}

// Run executes one scan and emits its events through sink. A returned error
// means our own infrastructure failed (the event log is unreachable) and
// the job should be retried; every scan-level failure instead ends the log
// with an error event, and every run that returns nil ends it with exactly
// one done event.
func (p *Pipeline) Run(ctx context.Context, params Params, sink Sink) (*Outcome, error) {
	s := &session{
		p:         p,
		b:         NewBudget(p.cfg.Budget),
		sink:      sink,
		params:    params,
		items:     NewItemList(),
		sessionID: params.JobID.String(),
	}
	s.items.Restore(params.Resume)

	if err := s.execute(ctx); err != nil {
		return nil, err
	}

	items := s.items.Items()
	resolved := s.items.ResolvedCount()
	status := models.JobStatusCompleted
	switch {
	case resolved == 0:
		status = models.JobStatusFailed
	case resolved < len(items):
		status = models.JobStatusPartial
	}

	// A run can die without a classified failure when the budget starves
	// every translation; name the cause before reporting.
	if status == models.JobStatusFailed && s.failure == nil {
		if s.b.Exceeded() {
			s.failure = &scanError{code: models.ErrCodeVLMTimeout, message: msgErrVLMTimeout, recoverable: true}
		} else {
			s.failure = &scanError{code: models.ErrCodeVLMFailed, message: msgErrVLMFailed, recoverable: true}
		}
	}

	outcome := &Outcome{
		Status: status,
		Items:  items,
		Summary: models.ScanSummary{
			ElapsedMS:         s.b.ElapsedMS(),
			ItemsCount:        len(items),
			UsedCache:         s.usedCache,
			UsedFallback:      s.usedFallback,
			UnknownItemsCount: len(items) - resolved,
		},
	}

	if status == models.JobStatusFailed {
		outcome.ErrorCode = s.failure.code
		payload := models.ErrorPayload{
			Code:        s.failure.code,
			Message:     s.failure.message,
			Detail:      s.failure.detail,
			Recoverable: s.failure.recoverable,
		}
		if err := sink.Emit(ctx, models.EventError, payload); err != nil {
			return nil, err
		}
	}

	done := models.DonePayload{Status: status, SessionID: s.sessionID, Summary: outcome.Summary}
	if err := sink.Emit(ctx, models.EventDone, done); err != nil {
		return nil, err
	}

	slog.Info("scan finished",
		"job_id", params.JobID,
		"status", status,
		"items", len(items),
		"unresolved", len(items)-resolved,
		"elapsed_ms", outcome.Summary.ElapsedMS,
		"used_cache", s.usedCache,
		"used_fallback", s.usedFallback)
	return outcome, nil
}

// execute walks the phases. It returns an error only for infrastructure
// failures; scan-level failures land in s.failure.
func (s *session) execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scan pipeline panic",
				"job_id", s.params.JobID, "panic", r, "stack", string(debug.Stack()))
			s.failure = &scanError{code: models.ErrCodeInternal, message: msgErrInternal, recoverable: true}
			err = nil
		}
	}()

	if err := s.enter(ctx, PhaseExtracting, msgExtracting, progressExtracting); err != nil {
		return err
	}

	s.match = s.p.matcher.Match(ctx, s.params.ImageJPEG, s.params.Location)

	// Extraction always reads the current photo; prior scans only resolve
	// dishes this image actually shows. A resumed attempt is the exception,
	// it keeps the list its earlier run already published.
	if s.items.Len() == 0 {
		if done, err := s.extract(ctx); done || err != nil {
			return err
		}
	}

	if err := s.enter(ctx, PhaseReusing, msgReusing, progressReusing); err != nil {
		return err
	}
	s.applyKnowledge(ctx)
	if err := s.emitMenu(ctx, false); err != nil {
		return err
	}

	if unresolved := s.items.Unresolved(); len(unresolved) > 0 {
		if err := s.enter(ctx, PhaseEnriching, msgEnriching, progressEnriching); err != nil {
			return err
		}
		if err := s.translate(ctx, unresolved); err != nil {
			return err
		}
	}

	if err := s.improve(ctx); err != nil {
		return err
	}

	if err := s.enter(ctx, PhaseFinalizing, msgFinalizing, progressFinalizing); err != nil {
		return err
	}
	s.items.NormalizeTop3(maxTop3)
	targets := s.markImageTargets()
	if err := s.emitMenu(ctx, true); err != nil {
		return err
	}
	if err := s.generateImages(ctx, targets); err != nil {
		return err
	}
	s.record(ctx)
	return nil
}

// extract reads dish names off the photo while a parallel lookup warms the
// knowledge cache for dishes the matcher expects on this menu. done means
// the scan failed and the failure is recorded.
func (s *session) extract(ctx context.Context) (done bool, err error) {
	g, gctx := errgroup.WithContext(ctx)

	if keys := s.match.PriorityKeys; len(keys) > 0 {
		g.Go(func() error {
			rows, err := s.p.store.FetchDishKnowledge(gctx, s.params.Language, keys)
			if err != nil {
				slog.Warn("knowledge prefetch failed", "job_id", s.params.JobID, "error", err)
				return nil
			}
			s.prefetched = rows
			return nil
		})
	}

	var res *models.ExtractResult
	g.Go(func() error {
		return s.visionCall(gctx, func(cctx context.Context, prov models.VisionProvider) error {
			r, err := prov.ExtractDishNames(cctx, models.ExtractRequest{
				ImageJPEG: s.params.ImageJPEG,
				Language:  s.params.Language,
			})
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		s.failure = classifyVisionError(err)
		return true, nil
	}

	for _, name := range res.DishNames {
		if key := dishkey.Normalize(name); key != "" {
			s.items.Ensure(key, name)
		}
	}
	if s.items.Len() == 0 {
		s.failure = &scanError{
			code:        models.ErrCodeVLMFailed,
			message:     msgErrVLMFailed,
			detail:      "no dishes found in image",
			recoverable: true,
		}
		return true, nil
	}
	return false, nil
}

// applyKnowledge fills unresolved items from what earlier scans learned.
// The byte-identical prior scan goes first, then the prefetched knowledge
// rows and one lookup for whatever is left. A store failure leaves the
// items for the model.
func (s *session) applyKnowledge(ctx context.Context) {
	if rec := s.match.Exact; rec != nil && rec.Language == s.params.Language {
		if s.items.FillFromRecord(rec.Items) > 0 {
			s.usedCache = true
		}
	}

	for key, k := range s.prefetched {
		if s.items.ApplyKnowledge(key, k) {
			s.usedCache = true
		}
	}

	unresolved := s.items.Unresolved()
	if len(unresolved) == 0 {
		return
	}
	keys := make([]string, 0, len(unresolved))
	for _, ref := range unresolved {
		if _, ok := s.prefetched[ref.DishKey]; !ok {
			keys = append(keys, ref.DishKey)
		}
	}
	if len(keys) == 0 {
		return
	}

	rows, err := s.p.store.FetchDishKnowledge(ctx, s.params.Language, keys)
	if err != nil {
		slog.Warn("knowledge lookup failed", "job_id", s.params.JobID, "error", err)
		return
	}
	for key, k := range rows {
		if s.items.ApplyKnowledge(key, k) {
			s.usedCache = true
		}
	}
}

// translate asks the model for the dishes the knowledge base could not
// cover. Chunks are skipped once the hard cap is hit, and a failed chunk
// leaves its items unresolved rather than failing the scan.
func (s *session) translate(ctx context.Context, refs []models.DishRef) error {
	for start := 0; start < len(refs); start += translateChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.b.Exceeded() {
			slog.Warn("translation stopped at hard cap",
				"job_id", s.params.JobID, "translated", start, "total", len(refs))
			break
		}

		end := start + translateChunkSize
		if end > len(refs) {
			end = len(refs)
		}
		chunk := refs[start:end]

		var res *models.TranslateResult
		err := s.visionCall(ctx, func(cctx context.Context, prov models.VisionProvider) error {
			r, err := prov.TranslateDishes(cctx, models.TranslateRequest{
				Language: s.params.Language,
				Dishes:   chunk,
			})
			if err != nil {
				return err
			}
			res = r
			return nil
		})
		if err != nil {
			slog.Warn("translation chunk failed",
				"job_id", s.params.JobID, "chunk_start", start, "error", err)
			continue
		}

		for _, t := range res.Items {
			s.items.ApplyTranslation(t)
		}
		if err := s.emitMenu(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

// improve spends leftover budget on one more pass over resolved items that
// came back without a description or tags.
func (s *session) improve(ctx context.Context) error {
	sparse := s.items.Sparse()
	if len(sparse) == 0 || s.b.Exceeded() || s.b.Remaining() <= s.p.cfg.Vision.CallTimeout {
		return nil
	}
	if len(sparse) > translateChunkSize {
		sparse = sparse[:translateChunkSize]
	}

	if err := s.enter(ctx, PhaseImproving, msgImproving, progressImproving); err != nil {
		return err
	}

	var res *models.TranslateResult
	err := s.visionCall(ctx, func(cctx context.Context, prov models.VisionProvider) error {
		r, err := prov.TranslateDishes(cctx, models.TranslateRequest{
			Language: s.params.Language,
			Dishes:   sparse,
		})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		slog.Warn("improvement pass failed", "job_id", s.params.JobID, "error", err)
		return nil
	}

	for _, t := range res.Items {
		s.items.ApplyTranslation(t)
	}
	return s.emitMenu(ctx, false)
}

// markImageTargets flags the highlighted dishes for illustration so the
// final list already shows their placeholders. Nothing is marked once the
// budget is spent.
func (s *session) markImageTargets() []models.MenuItem {
	if s.b.Exceeded() {
		return nil
	}
	for _, t := range s.items.Top3() {
		s.items.MutateByID(t.ID, func(it *models.MenuItem) {
			it.ImageStatus = models.ImageStatusPending
			it.ImagePrompt = imagePrompt(it.OriginalName)
		})
	}
	return s.items.Top3()
}

type imageResult struct {
	itemID string
	status string
	url    string
}

// generateImages renders the dish illustrations with a small worker pool,
// patching each item as its result arrives. A generation failure marks the
// item failed and never fails the scan.
func (s *session) generateImages(ctx context.Context, targets []models.MenuItem) error {
	if len(targets) == 0 {
		return nil
	}

	// Two messages per item; full buffering keeps workers from blocking if
	// the consumer bails on an emit error.
	results := make(chan imageResult, 2*len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageWorkers)
	for _, target := range targets {
		t := target
		g.Go(func() error {
			s.generateOne(gctx, t, results)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	for res := range results {
		s.items.MutateByID(res.itemID, func(it *models.MenuItem) {
			it.ImageStatus = res.status
			if res.url != "" {
				it.ImageURL = res.url
			}
		})
		if err := s.sink.Emit(ctx, models.EventImageUpdate, models.ImageUpdatePayload{
			SessionID:   s.sessionID,
			ItemID:      res.itemID,
			ImageStatus: res.status,
			ImageURL:    res.url,
		}); err != nil {
			return err
		}
	}
	return nil
}

// generateOne renders and stores one illustration, reporting the generating
// and terminal states on results.
func (s *session) generateOne(ctx context.Context, item models.MenuItem, results chan<- imageResult) {
	results <- imageResult{itemID: item.ID, status: models.ImageStatusGenerating}

	callCtx, cancel := s.b.ModelCallContext(ctx, s.p.cfg.Vision.ImageTimeout)
	defer cancel()

	img, err := s.provider().GenerateDishImage(callCtx, models.ImageRequest{Prompt: item.ImagePrompt})
	if err != nil {
		slog.Warn("dish image generation failed",
			"job_id", s.params.JobID, "item_id", item.ID, "error", err)
		results <- imageResult{itemID: item.ID, status: models.ImageStatusFailed}
		return
	}

	key := fmt.Sprintf("gen/%s/%s.jpg", s.params.JobID, item.ID)
	if _, err := s.p.objects.Put(ctx, key, img, "image/jpeg"); err != nil {
		slog.Warn("dish image store failed",
			"job_id", s.params.JobID, "item_id", item.ID, "error", err)
		results <- imageResult{itemID: item.ID, status: models.ImageStatusFailed}
		return
	}

	url := strings.TrimRight(s.p.cfg.Server.PublicBaseURL, "/") + "/assets/" + key
	results <- imageResult{itemID: item.ID, status: models.ImageStatusReady, url: url}
}

// record persists what the scan learned: knowledge rows for every resolved
// dish, and the scan's own record for future matching. Both are best
// effort.
func (s *session) record(ctx context.Context) {
	if rows := s.items.KnowledgeRows(s.params.Language, s.sessionID); len(rows) > 0 {
		if n, err := s.p.store.UpsertDishKnowledge(ctx, rows); err != nil {
			slog.Warn("knowledge write-back failed", "job_id", s.params.JobID, "error", err)
		} else {
			slog.Debug("knowledge written", "job_id", s.params.JobID, "rows", n)
		}
	}

	rec := &models.ScanRecord{
		ScanID:         s.sessionID,
		ImageHash:      s.match.ImageHash,
		EmbeddingID:    s.match.EmbeddingID,
		GeoCell:        s.match.GeoCell,
		SourceLanguage: s.sourceLanguage(),
		Language:       s.params.Language,
		Items:          s.items.RecordItems(),
	}
	if _, err := s.p.store.InsertScanRecord(ctx, rec); err != nil {
		slog.Warn("scan record write failed", "job_id", s.params.JobID, "error", err)
	}
}

// sourceLanguage guesses the menu's own language from its dish names.
func (s *session) sourceLanguage() string {
	var names []string
	for _, it := range s.items.Items() {
		names = append(names, it.OriginalName)
	}
	if len(names) == 0 {
		return ""
	}
	return whatlanggo.DetectLang(strings.Join(names, " ")).Iso6391()
}

// enter advances the budget phase and announces it.
func (s *session) enter(ctx context.Context, phase Phase, message string, progress int) error {
	if s.b.Phase() != phase {
		if err := s.b.Advance(phase); err != nil {
			return err
		}
	}
	return s.emitStatus(ctx, message, &progress)
}

func (s *session) emitStatus(ctx context.Context, message string, progress *int) error {
	return s.sink.Emit(ctx, models.EventStatus, models.StatusPayload{
		Step:      string(s.b.Phase()),
		Message:   message,
		Progress:  progress,
		SessionID: s.sessionID,
	})
}

// emitMenu publishes the cumulative item list. Intermediate lists are
// throttled; the final list always goes out.
func (s *session) emitMenu(ctx context.Context, final bool) error {
	if !s.b.ShouldEmit(final) {
		return nil
	}
	err := s.sink.Emit(ctx, models.EventMenuData, models.MenuDataPayload{
		SessionID: s.sessionID,
		Items:     s.items.Items(),
		IsPartial: !final,
	})
	if err != nil {
		return err
	}
	s.b.MarkEmitted()
	return nil
}

// provider returns the model the session currently trusts. Once a call
// fell back, the session stays on the fallback.
func (s *session) provider() models.VisionProvider {
	if s.usedFallback {
		return s.p.fallback
	}
	return s.p.provider
}

// visionCall runs fn against the current provider under a budget-derived
// deadline, then once more against the fallback when the failure is one a
// different model could survive.
func (s *session) visionCall(ctx context.Context, fn func(context.Context, models.VisionProvider) error) error {
	callCtx, cancel := s.b.ModelCallContext(ctx, s.p.cfg.Vision.CallTimeout)
	err := fn(callCtx, s.provider())
	cancel()
	if err == nil || !s.shouldFallback(ctx, err) {
		return err
	}

	s.switchToFallback(ctx, err)

	callCtx, cancel = s.b.ModelCallContext(ctx, s.p.cfg.Vision.CallTimeout)
	err = fn(callCtx, s.p.fallback)
	cancel()
	return err
}

func (s *session) shouldFallback(ctx context.Context, err error) bool {
	if s.p.fallback == nil || s.usedFallback {
		return false
	}
	if ctx.Err() != nil || s.b.Exceeded() {
		return false
	}
	// The photo being unusable is not a model problem.
	if errors.Is(err, models.ErrNotMenu) || errors.Is(err, models.ErrTooBlurry) {
		return false
	}
	return true
}

// switchToFallback moves the session to the fallback model and tells the
// user once. The banner is cosmetic; a failed write only logs.
func (s *session) switchToFallback(ctx context.Context, cause error) {
	s.usedFallback = true
	slog.Warn("switching to fallback model",
		"job_id", s.params.JobID, "fallback", s.p.fallback.Name(), "error", cause)
	if err := s.emitStatus(ctx, fmt.Sprintf(msgFallback, s.p.fallback.Name()), nil); err != nil {
		slog.Warn("fallback status emit failed", "job_id", s.params.JobID, "error", err)
	}
}

// classifyVisionError maps a model failure to the error event the client
// sees.
func classifyVisionError(err error) *scanError {
	switch {
	case errors.Is(err, models.ErrNotMenu):
		return &scanError{code: models.ErrCodeNotMenu, message: msgErrNotMenu, recoverable: false}
	case errors.Is(err, models.ErrTooBlurry):
		return &scanError{code: models.ErrCodeTooBlurry, message: msgErrTooBlurry, recoverable: false}
	case errors.Is(err, models.ErrInferenceTimeout), errors.Is(err, context.DeadlineExceeded):
		return &scanError{code: models.ErrCodeVLMTimeout, message: msgErrVLMTimeout, recoverable: true}
	default:
		return &scanError{
			code:        models.ErrCodeVLMFailed,
			message:     msgErrVLMFailed,
			detail:      err.Error(),
			recoverable: true,
		}
	}
}
