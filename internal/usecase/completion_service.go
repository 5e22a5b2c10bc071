package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/macrolens/larder/internal/catalog"
	"github.com/macrolens/larder/internal/domain"
	"github.com/macrolens/larder/internal/textnorm"
)

// Completion outcomes reported to the Observer.
const (
	OutcomeApplied  = "applied"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// DensityResolver supplies grams per milliliter for mass/volume conversion.
type DensityResolver interface {
	Resolve(ctx context.Context, category, name string) (float64, error)
}

// Observer receives pipeline measurements. metrics.Recorder implements it.
type Observer interface {
	ObservePlanDuration(d time.Duration)
	ObserveCompletion(outcome string)
	ObserveDepleted(records int)
	ObserveShortfalls(candidates int)
}

type nopObserver struct{}

func (nopObserver) ObservePlanDuration(time.Duration) {}
func (nopObserver) ObserveCompletion(string)          {}
func (nopObserver) ObserveDepleted(int)               {}
func (nopObserver) ObserveShortfalls(int)             {}

// CompletionServiceConfig holds configuration for the completion pipeline
type CompletionServiceConfig struct {
	Match              MatchConfig
	Epsilon            float64
	Parallelism        int
	EnableDebugLogging bool
}

// CompletionService runs Parse, Match, Convert, Plan, Transaction and
// Shortfall for one "I cooked this" event.
type CompletionService struct {
	parser      *LineParser
	matcher     *MatchingService
	converter   *UnitConverter
	planner     *AllocationPlanner
	transaction *CompletionTransaction
	shortfalls  *ShortfallResolver
	densities   DensityResolver
	store       domain.InventoryStore
	observer    Observer
	parallelism int
	log         *zap.Logger
}

// ServiceOption customizes a CompletionService.
type ServiceOption func(*CompletionService)

// WithObserver reports measurements to o.
func WithObserver(o Observer) ServiceOption {
	return func(s *CompletionService) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithTransactionOptions forwards options to the completion transaction.
func WithTransactionOptions(opts ...TransactionOption) ServiceOption {
	return func(s *CompletionService) {
		for _, opt := range opts {
			opt(s.transaction)
		}
	}
}

// NewCompletionService wires the pipeline. densities may be nil, in which
// case only catalog densities are used.
func NewCompletionService(
	cat *catalog.Catalog,
	store domain.InventoryStore,
	densities DensityResolver,
	config CompletionServiceConfig,
	log *zap.Logger,
	opts ...ServiceOption,
) *CompletionService {
	if log == nil {
		log = zap.NewNop()
	}
	parallelism := config.Parallelism
	if parallelism <= 0 {
		parallelism = 8
	}
	matcher := NewMatchingService(config.Match, log)
	if densities == nil {
		densities = NewDensityService(cat, nil, nil, matcher, DensityServiceConfig{}, log)
	}

	s := &CompletionService{
		parser:      NewLineParser(cat, log, config.EnableDebugLogging),
		matcher:     matcher,
		converter:   NewUnitConverter(cat),
		planner:     NewAllocationPlanner(config.Epsilon, log),
		transaction: NewCompletionTransaction(store, config.Epsilon, log),
		shortfalls:  NewShortfallResolver(),
		densities:   densities,
		store:       store,
		observer:    nopObserver{},
		parallelism: parallelism,
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lineResult is the read-only outcome of parse, match and convert for one line.
type lineResult struct {
	ingredient domain.RequiredIngredient
	parsed     bool
	candidates []SizedCandidate
}

// prepared is a fully planned request, ready for the transaction.
type prepared struct {
	response *domain.CompletionResponse
	plans    []domain.AllocationPlan
	records  map[string]domain.InventoryRecord
}

// Plan computes the default (or overridden) plans without touching inventory.
func (s *CompletionService) Plan(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.response, nil
}

// Complete plans the request and applies it atomically. On a conflict the
// returned response still carries plans, shortfalls and unmatched lines, with
// Conflicts listing the stale records, alongside a *domain.ConflictError.
func (s *CompletionService) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if req.RecipeReference == "" {
		s.observer.ObserveCompletion(OutcomeInvalid)
		return nil, fmt.Errorf("%w: recipeReference is required", domain.ErrInvalidRequest)
	}

	p, err := s.prepare(ctx, req)
	if err != nil {
		s.observer.ObserveCompletion(outcomeFor(err))
		return nil, err
	}
	resp := p.response

	batch, err := s.transaction.Apply(ctx, req.RecipeReference, p.plans, p.records)
	if err != nil {
		s.observer.ObserveCompletion(outcomeFor(err))
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			resp.Conflicts = append([]string(nil), conflict.RecordIDs...)
			return resp, err
		}
		return nil, err
	}

	resp.AllocationsApplied = batch.Applied
	resp.AuditEntries = batch.Audit

	depleted := 0
	for _, a := range batch.Applied {
		if a.Deleted {
			depleted++
		}
	}
	s.observer.ObserveCompletion(OutcomeApplied)
	s.observer.ObserveDepleted(depleted)
	s.observer.ObserveShortfalls(len(resp.Shortfalls))

	s.log.Info("recipe completed",
		zap.String("recipe_reference", req.RecipeReference),
		zap.Int("records_mutated", len(batch.Applied)),
		zap.Int("records_depleted", depleted),
		zap.Int("shortfalls", len(resp.Shortfalls)),
	)
	return resp, nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidOverride),
		errors.Is(err, domain.ErrOverAllocation):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

func (s *CompletionService) prepare(ctx context.Context, req domain.CompletionRequest) (*prepared, error) {
	start := time.Now()
	defer func() { s.observer.ObservePlanDuration(time.Since(start)) }()

	snapshot, err := s.snapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	records, err := indexSnapshot(snapshot)
	if err != nil {
		return nil, err
	}

	lines, err := s.analyzeLines(ctx, req.IngredientLines, snapshot)
	if err != nil {
		return nil, err
	}

	overrides := newOverrideSet(req.ClientOverrides)
	ledger := NewLedger()
	resp := &domain.CompletionResponse{
		RecipeReference:      req.RecipeReference,
		Plans:                []domain.AllocationPlan{},
		AllocationsApplied:   []domain.AppliedAllocation{},
		Shortfalls:           []domain.ShortfallCandidate{},
		UnmatchedIngredients: []string{},
		UnparsedLines:        []string{},
	}
	var unmatched []domain.RequiredIngredient

	// Allocation runs in line order against one ledger, so ingredients that
	// share a record see what earlier lines already claimed.
	for i, line := range lines {
		if !line.parsed {
			resp.UnparsedLines = append(resp.UnparsedLines, req.IngredientLines[i])
			continue
		}
		ing := line.ingredient

		if len(line.candidates) == 0 {
			resp.UnmatchedIngredients = append(resp.UnmatchedIngredients, ing.CanonicalName)
			unmatched = append(unmatched, ing)
		}
		for _, c := range line.candidates {
			if !c.Consumable {
				resp.UnusableCandidates = append(resp.UnusableCandidates, domain.UnusableCandidate{
					Ingredient: ing.CanonicalName,
					RecordID:   c.RecordID(),
					Name:       c.Candidate.Record.Name,
					Unit:       c.RecordUnit,
					Reason:     c.Reason,
				})
			}
		}

		var plan domain.AllocationPlan
		if override, ok := overrides.take(ing); ok {
			plan, err = s.planner.ApplyOverride(ing, line.candidates, override, ledger)
			if err != nil {
				return nil, err
			}
		} else {
			plan = s.planner.Plan(ing, line.candidates, ledger)
		}
		resp.Plans = append(resp.Plans, plan)
	}

	if unused := overrides.unused(); len(unused) > 0 {
		return nil, &domain.OverrideError{Ingredient: unused[0], Reason: "no ingredient line with this name"}
	}

	resp.Shortfalls = s.shortfalls.Resolve(resp.Plans, unmatched)
	return &prepared{response: resp, plans: resp.Plans, records: records}, nil
}

// analyzeLines parses, matches and sizes every line concurrently. Results
// keep line order.
func (s *CompletionService) analyzeLines(ctx context.Context, lines []string, snapshot []domain.InventoryRecord) ([]lineResult, error) {
	results := make([]lineResult, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for i, line := range lines {
		g.Go(func() error {
			ing, err := s.parser.ParseLine(line)
			if err != nil {
				var perr *domain.ParseError
				if errors.As(err, &perr) {
					s.log.Debug("unparsed ingredient line", zap.String("line", line), zap.String("reason", perr.Reason))
					return nil
				}
				return err
			}

			candidates, err := s.matcher.FindCandidates(gctx, ing.CanonicalName, snapshot)
			if err != nil {
				return err
			}

			results[i] = lineResult{
				ingredient: ing,
				parsed:     true,
				candidates: s.converter.Size(ing, candidates, s.densityFunc(gctx)),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// densityFunc resolves by ingredient name first, then by the record's own name.
func (s *CompletionService) densityFunc(ctx context.Context) DensityFunc {
	return func(ing domain.RequiredIngredient, rec domain.InventoryRecord) float64 {
		if d, err := s.densities.Resolve(ctx, rec.Category, ing.CanonicalName); err == nil {
			return d
		}
		if d, err := s.densities.Resolve(ctx, rec.Category, rec.Name); err == nil {
			return d
		}
		return 0
	}
}

// snapshot returns the caller's records, or the household's stored records
// when the request carries none.
func (s *CompletionService) snapshot(ctx context.Context, req domain.CompletionRequest) ([]domain.InventoryRecord, error) {
	if len(req.InventorySnapshot) > 0 || req.HouseholdID == "" || s.store == nil {
		return req.InventorySnapshot, nil
	}
	records, err := s.store.ListRecords(ctx, req.HouseholdID)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return records, nil
}

func indexSnapshot(snapshot []domain.InventoryRecord) (map[string]domain.InventoryRecord, error) {
	records := make(map[string]domain.InventoryRecord, len(snapshot))
	for _, r := range snapshot {
		switch {
		case r.RecordID == "":
			return nil, fmt.Errorf("%w: inventory record without recordId", domain.ErrInvalidRequest)
		case r.Quantity <= 0:
			return nil, fmt.Errorf("%w: record %s quantity must be positive", domain.ErrInvalidRequest, r.RecordID)
		}
		if _, dup := records[r.RecordID]; dup {
			return nil, fmt.Errorf("%w: record %s appears twice in the snapshot", domain.ErrInvalidRequest, r.RecordID)
		}
		records[r.RecordID] = r
	}
	return records, nil
}

// overrideSet hands each client override to the first ingredient it names,
// by canonical name or by raw line.
type overrideSet struct {
	overrides []domain.ClientOverride
	keys      []string
	used      []bool
}

func newOverrideSet(overrides []domain.ClientOverride) *overrideSet {
	set := &overrideSet{
		overrides: overrides,
		keys:      make([]string, len(overrides)),
		used:      make([]bool, len(overrides)),
	}
	for i, o := range overrides {
		set.keys[i] = textnorm.Normalize(o.Ingredient)
	}
	return set
}

func (o *overrideSet) take(ing domain.RequiredIngredient) (domain.ClientOverride, bool) {
	raw := textnorm.Normalize(ing.RawText)
	for i, key := range o.keys {
		if o.used[i] {
			continue
		}
		if key == ing.CanonicalName || key == raw {
			o.used[i] = true
			return o.overrides[i], true
		}
	}
	return domain.ClientOverride{}, false
}

func (o *overrideSet) unused() []string {
	var out []string
	for i, used := range o.used {
		if !used {
			out = append(out, o.overrides[i].Ingredient)
		}
	}
	return out
}
