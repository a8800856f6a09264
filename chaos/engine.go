// chaos/engine.go
//
// Package chaos implements a small chaos-engineering harness: register a
// hypothesis as a ChaosExperiment, run it against a steady-state metric,
// inject a fault, observe, then roll back and check the hypothesis held.
// Every run's outcome is itself appended to the event store, under a
// per-experiment aggregate stream, so game-day history survives process
// restarts the same way reservation or wallet history does.
package chaos

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libranexus/internal/circulation"
	"libranexus/pkg/eventstore"
)

// ChaosExperiment defines a chaos engineering test.
type ChaosExperiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
	BlastRadius float64 // 0.0 to 1.0 (percentage of system affected)
}

// Metric defines a measurable system property.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

// Threshold is the pass/fail bound for a Metric sample.
type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action represents a fault injection or recovery action.
type Action struct {
	Type       string
	Target     string
	Parameters map[string]interface{}
	Execute    func(context.Context) error
}

// Assertion validates an experiment's final outcome.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// ExperimentResult captures one experiment's execution data. It doubles as
// the payload persisted to the event store — see (*ChaosEngine).persistResult.
type ExperimentResult struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
	ViolationRate    float64                `json:"violation_rate"`
}

// MetricViolation records one sample that breached its Threshold.
type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

// DataPoint is one timestamped metric sample.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ErrorEvent records a fault or query error observed during a run.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// maxTolerableViolationRate bounds how much of an observation window may
// breach threshold before a hypothesis is rejected outright, independent of
// what the final sample looked like. A system that spends 40% of a run
// broken and happens to recover one second before the window closes did not
// validate the hypothesis.
const maxTolerableViolationRate = 0.25

// ChaosEngine orchestrates chaos experiments against the running services.
type ChaosEngine struct {
	tracer       trace.Tracer
	db           *sql.DB
	store        *eventstore.Store
	reservations circulation.Service
	experiments  []ChaosExperiment
	results      []ExperimentResult
	mu           sync.Mutex
}

// NewChaosEngine wraps db for experiments that query read-model tables,
// store for persisting run history to the event log, and reservations for
// experiments that exercise circulation's version-fenced reservation path
// directly rather than through stub goroutines. store and reservations may
// both be nil: history persistence and reservation-backed experiments
// degrade to no-ops rather than panicking, so a caller wiring only a raw db
// connection (tests, ad hoc scripts) still gets a usable engine.
func NewChaosEngine(db *sql.DB, store *eventstore.Store, reservations circulation.Service) *ChaosEngine {
	return &ChaosEngine{
		tracer:       otel.Tracer("libranexus/chaos"),
		db:           db,
		store:        store,
		reservations: reservations,
		experiments:  make([]ChaosExperiment, 0),
		results:      make([]ExperimentResult, 0),
	}
}

// RegisterExperiment adds an experiment to the suite.
func (ce *ChaosEngine) RegisterExperiment(exp ChaosExperiment) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.experiments = append(ce.experiments, exp)
}

// GetExperiments returns the list of registered experiments.
func (ce *ChaosEngine) GetExperiments() []ChaosExperiment {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	return ce.experiments
}

// RunExperiment executes one chaos experiment end to end: validate steady
// state, inject the fault, sample metrics for Duration, roll back, check the
// hypothesis, then persist the result. A steady-state failure aborts before
// injection and is persisted like any other outcome.
func (ce *ChaosEngine) RunExperiment(ctx context.Context, exp ChaosExperiment) (*ExperimentResult, error) {
	ctx, span := ce.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	result := &ExperimentResult{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	span.AddEvent("validating_steady_state")
	if valid, violations := ce.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.SteadyStateValid = false
		result.Violations = violations
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		ce.recordResult(*result)
		ce.persistResult(ctx, *result)
		return result, errors.New("steady state invalid - aborting experiment")
	}
	result.SteadyStateValid = true

	ce.inject(ctx, span, exp, result)

	samples := ce.sampleMetrics(ctx, exp)
	result.Observations = samples.observations
	result.Violations = append(result.Violations, samples.violations...)
	result.ErrorEvents = append(result.ErrorEvents, samples.errors...)
	result.MTTR = samples.mttr
	result.ViolationRate = samples.violationRate()

	ce.rollback(ctx, span, exp)

	span.AddEvent("validating_assertions")
	result.HypothesisHeld = result.ViolationRate <= maxTolerableViolationRate &&
		ce.validateAssertions(exp.Validation, result)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	ce.recordResult(*result)
	ce.persistResult(ctx, *result)

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
		attribute.Float64("violation_rate", result.ViolationRate),
	)
	return result, nil
}

func (ce *ChaosEngine) inject(ctx context.Context, span trace.Span, exp ChaosExperiment, result *ExperimentResult) {
	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(), Error: err.Error(), Component: action.Target,
			})
			span.RecordError(err)
		}
	}
}

func (ce *ChaosEngine) rollback(ctx context.Context, span trace.Span, exp ChaosExperiment) {
	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
		}
	}
}

// sampleWindow accumulates metric samples over an observation period.
type sampleWindow struct {
	observations map[string][]DataPoint
	violations   []MetricViolation
	errors       []ErrorEvent
	mttr         *time.Duration
	sampleCount  int
	violationN   int
}

func (w *sampleWindow) violationRate() float64 {
	if w.sampleCount == 0 {
		return 0
	}
	return float64(w.violationN) / float64(w.sampleCount)
}

// sampleMetrics polls every steady-state metric once a second for
// exp.Duration, tracking mean-time-to-recovery: the gap between the first
// threshold breach and the first sample that clears it again.
func (ce *ChaosEngine) sampleMetrics(ctx context.Context, exp ChaosExperiment) *sampleWindow {
	window := &sampleWindow{observations: make(map[string][]DataPoint)}

	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	recoveryStart := time.Time{}
	recovered := false

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-observationCtx.Done():
			return window
		case <-ticker.C:
			for _, metric := range exp.SteadyState {
				value, err := metric.Query(ctx)
				if err != nil {
					window.errors = append(window.errors, ErrorEvent{
						Timestamp: time.Now(), Error: err.Error(), Component: metric.Name,
					})
					continue
				}

				window.sampleCount++
				window.observations[metric.Name] = append(window.observations[metric.Name],
					DataPoint{Timestamp: time.Now(), Value: value})

				if !ce.evaluateThreshold(value, metric.Threshold) {
					window.violationN++
					if recoveryStart.IsZero() {
						recoveryStart = time.Now()
					}
					window.violations = append(window.violations, MetricViolation{
						MetricName: metric.Name, Expected: metric.Threshold.Value, Actual: value, Timestamp: time.Now(),
					})
				} else if !recoveryStart.IsZero() && !recovered {
					mttr := time.Since(recoveryStart)
					window.mttr = &mttr
					recovered = true
				}
			}
		}
	}
}

func (ce *ChaosEngine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	violations := make([]MetricViolation, 0)
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			violations = append(violations, MetricViolation{MetricName: metric.Name, Expected: metric.Threshold.Value, Actual: -1, Timestamp: time.Now()})
			continue
		}
		if !ce.evaluateThreshold(value, metric.Threshold) {
			violations = append(violations, MetricViolation{MetricName: metric.Name, Expected: metric.Threshold.Value, Actual: value, Timestamp: time.Now()})
		}
	}
	return len(violations) == 0, violations
}

func (ce *ChaosEngine) evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

func (ce *ChaosEngine) validateAssertions(assertions []Assertion, result *ExperimentResult) bool {
	for _, assertion := range assertions {
		observations, exists := result.Observations[assertion.Metric]
		if !exists || len(observations) == 0 {
			return false
		}
		finalValue := observations[len(observations)-1].Value
		if !assertion.Condition(finalValue) {
			return false
		}
	}
	return true
}

func (ce *ChaosEngine) recordResult(result ExperimentResult) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.results = append(ce.results, result)
}

// experimentAggregateID names the event stream a given experiment's run
// history lives under.
func experimentAggregateID(name string) string {
	return "chaos-experiment-" + name
}

// persistResult appends result to its experiment's event stream as a
// CHAOS_EXPERIMENT_RESULT event. ce.store may be nil (ad hoc/test engines);
// persistence failures are logged, never fatal to the run itself — a chaos
// harness that crashes because its own bookkeeping write failed has found
// the wrong kind of fault.
func (ce *ChaosEngine) persistResult(ctx context.Context, result ExperimentResult) {
	if ce.store == nil {
		return
	}

	aggregateID := experimentAggregateID(result.ExperimentName)
	current, err := ce.store.GetCurrentVersion(ctx, aggregateID)
	if err != nil {
		log.Printf("chaos: read current version for %s: %v", aggregateID, err)
		return
	}

	event, err := eventstore.NewEvent(aggregateID, "CHAOS_EXPERIMENT_RESULT", 1, result)
	if err != nil {
		log.Printf("chaos: marshal result for %s: %v", aggregateID, err)
		return
	}

	if err := ce.store.AppendBatch(ctx, aggregateID, []eventstore.DomainEvent{event}, current); err != nil {
		log.Printf("chaos: append result for %s: %v", aggregateID, err)
	}
}

// History replays an experiment's persisted CHAOS_EXPERIMENT_RESULT events
// from the store, oldest first. Returns nil if no store is wired or no runs
// have been persisted yet.
func (ce *ChaosEngine) History(ctx context.Context, experimentName string) ([]ExperimentResult, error) {
	if ce.store == nil {
		return nil, nil
	}

	events, err := ce.store.GetEventsForAggregate(ctx, experimentAggregateID(experimentName))
	if err != nil {
		return nil, fmt.Errorf("chaos: load history for %s: %w", experimentName, err)
	}

	history := make([]ExperimentResult, 0, len(events))
	for _, e := range events {
		var result ExperimentResult
		if err := json.Unmarshal(e.Payload, &result); err != nil {
			return nil, fmt.Errorf("chaos: decode history entry %d for %s: %w", e.Version, experimentName, err)
		}
		history = append(history, result)
	}
	return history, nil
}

// GameDay orchestrates a series of chaos experiments in one sitting.
type GameDay struct {
	Name         string
	Date         time.Time
	Scenarios    []ChaosExperiment
	Participants []string
	Runbooks     map[string]string
}

// ExecuteGameDay runs every scenario in order, pausing briefly between runs.
func (ce *ChaosEngine) ExecuteGameDay(ctx context.Context, gameDay GameDay) error {
	ctx, span := ce.tracer.Start(ctx, "chaos.game_day", trace.WithAttributes(attribute.String("gameday.name", gameDay.Name)))
	defer span.End()

	fmt.Printf("Starting game day: %s (%s)\n", gameDay.Name, gameDay.Date)
	for i, scenario := range gameDay.Scenarios {
		fmt.Printf("experiment %d/%d: %s — %s\n", i+1, len(gameDay.Scenarios), scenario.Name, scenario.Hypothesis)
		result, err := ce.RunExperiment(ctx, scenario)
		if err != nil {
			fmt.Printf("experiment failed: %v\n", err)
			continue
		}
		ce.printExperimentResult(result)
		time.Sleep(30 * time.Second)
	}
	return nil
}

func (ce *ChaosEngine) printExperimentResult(result *ExperimentResult) {
	if result.HypothesisHeld {
		fmt.Println("hypothesis held")
	} else {
		fmt.Println("hypothesis violated")
	}
	for _, v := range result.Violations {
		fmt.Printf("  violation: %s expected %.2f got %.2f\n", v.MetricName, v.Expected, v.Actual)
	}
	if result.MTTR != nil {
		fmt.Printf("  mttr: %s\n", *result.MTTR)
	}
	fmt.Printf("  violation rate: %.1f%%\n", result.ViolationRate*100)
	fmt.Printf("  duration: %s\n", result.Duration)
}
