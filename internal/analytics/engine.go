package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/alarm"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/iot"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrProjectList is returned when the project list cannot be fetched. It is
// the only failure that aborts a computation.
var ErrProjectList = errors.New("failed to fetch project list")

// Failure kinds
const (
	KindMeters = "meters"
	KindSales  = "sales"
	KindEnergy = "energy"
)

// Platform is the admin view of the meter platform
type Platform interface {
	Projects(ctx context.Context) ([]iot.Project, error)
	Meters(ctx context.Context, projectID string) ([]iot.RawMeter, error)
	Sales(ctx context.Context, meterID, start, end string) ([]iot.SaleRecord, error)
	Energy(ctx context.Context, meterID, start, end string) ([]iot.EnergyRecord, error)
}

// PowerLog persists the live power time series
type PowerLog interface {
	AppendPowerReading(ctx context.Context, reading *db.PowerReading) error
	DeletePowerReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListPowerReadings(ctx context.Context, from, to time.Time) ([]db.PowerReading, error)
}

// Config tunes an Engine
type Config struct {
	BatchSize          int
	PowerBreakdownTopN int
	// PowerRetention prunes older power readings after each append; zero keeps all.
	PowerRetention time.Duration
}

// Query selects the period and projects to aggregate
type Query struct {
	StartDate  string
	EndDate    string
	ProjectIDs []string
}

// Computation is a Report plus how long it took
type Computation struct {
	Report  Report
	Elapsed time.Duration
}

// Engine computes dashboard analytics from the meter platform
type Engine struct {
	platform   Platform
	powerLog   PowerLog
	classifier *alarm.Classifier
	cfg        Config
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewEngine creates an analytics engine
func NewEngine(platform Platform, powerLog PowerLog, classifier *alarm.Classifier, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PowerBreakdownTopN <= 0 {
		cfg.PowerBreakdownTopN = 20
	}
	return &Engine{
		platform:   platform,
		powerLog:   powerLog,
		classifier: classifier,
		cfg:        cfg,
		now:        time.Now,
		metrics:    m,
		logger:     logger,
	}
}

type meterData struct {
	sales  []iot.SaleRecord
	energy []iot.EnergyRecord
}

// Compute aggregates revenue, energy and meter health for the query period
func (e *Engine) Compute(ctx context.Context, q Query) (*Computation, error) {
	started := e.now()

	projects, err := e.platform.Projects(ctx)
	if err != nil {
		e.logger.Error("project list fetch failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProjectList, err)
	}
	projects = filterProjects(projects, q.ProjectIDs)

	acc := NewAccumulator()
	meters := e.loadMeters(ctx, projects, acc)
	for _, m := range meters {
		acc.AddMeter(m)
	}

	start := q.StartDate + " 00:00:00"
	end := q.EndDate + " 23:59:59"

	tasks := make([]Task[meterData], 0, 2*len(meters))
	for _, m := range meters {
		m := m
		tasks = append(tasks,
			func(ctx context.Context) (meterData, error) {
				sales, err := e.platform.Sales(ctx, m.ID, start, end)
				return meterData{sales: sales}, err
			},
			func(ctx context.Context) (meterData, error) {
				energy, err := e.platform.Energy(ctx, m.ID, start, end)
				return meterData{energy: energy}, err
			},
		)
	}

	outcomes := RunBatches(ctx, tasks, e.cfg.BatchSize)
	for i, outcome := range outcomes {
		m := meters[i/2]
		kind := KindSales
		if i%2 == 1 {
			kind = KindEnergy
		}

		if !outcome.OK() {
			e.metrics.UpstreamFailure(kind)
			e.logger.Warn("meter data fetch failed, treating as no data",
				zap.String("meter_id", m.ID),
				zap.String("kind", kind),
				zap.Error(outcome.Err))
			acc.AddFailure(Failure{Kind: kind, MeterID: m.ID, Reason: outcome.Err.Error()})
			continue
		}

		if kind == KindSales {
			acc.AddSales(m, outcome.Value.sales)
		} else {
			acc.AddEnergy(m, outcome.Value.energy)
		}
	}

	if acc.Online() > 0 {
		e.recordPower(ctx, acc.LivePower())
	}

	elapsed := e.now().Sub(started)
	e.metrics.AnalyticsDuration(elapsed)

	report := acc.Report()
	e.logger.Info("analytics computed",
		zap.String("start_date", q.StartDate),
		zap.String("end_date", q.EndDate),
		zap.Int("projects", len(projects)),
		zap.Int("meters", report.MeterStatus.Total),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("elapsed", elapsed))

	return &Computation{Report: report, Elapsed: elapsed}, nil
}

// loadMeters fetches every project's meters concurrently. A project whose
// list cannot be fetched contributes no meters.
func (e *Engine) loadMeters(ctx context.Context, projects []iot.Project, acc *Accumulator) []Meter {
	perProject := make([][]iot.RawMeter, len(projects))
	errs := make([]error, len(projects))

	var g errgroup.Group
	for i, p := range projects {
		i, p := i, p
		g.Go(func() error {
			perProject[i], errs[i] = e.platform.Meters(ctx, p.ID.String())
			return nil
		})
	}
	_ = g.Wait()

	var meters []Meter
	for i, p := range projects {
		if errs[i] != nil {
			e.metrics.UpstreamFailure(KindMeters)
			e.logger.Warn("meter list fetch failed, project skipped",
				zap.String("project_id", p.ID.String()),
				zap.Error(errs[i]))
			acc.AddFailure(Failure{Kind: KindMeters, ProjectID: p.ID.String(), Reason: errs[i].Error()})
			continue
		}
		for _, raw := range perProject[i] {
			meters = append(meters, e.toMeter(raw, p))
		}
	}
	return meters
}

func (e *Engine) toMeter(raw iot.RawMeter, p iot.Project) Meter {
	tel := raw.Telemetry()
	projectID := raw.ProjectID.String()
	if projectID == "" {
		projectID = p.ID.String()
	}
	projectName := raw.ProjectName
	if projectName == "" {
		projectName = p.Name
	}
	threshold := e.classifier.Threshold(float64(raw.AlarmA))

	return Meter{
		ID:          raw.ID.String(),
		RoomNo:      raw.RoomNo.String(),
		ProjectID:   projectID,
		ProjectName: projectName,
		Telemetry:   tel,
		Threshold:   threshold,
		Status:      e.classifier.Classify(tel.Balance, threshold, tel.Online()),
	}
}

// recordPower appends one row of the live power series. Failures are logged.
func (e *Engine) recordPower(ctx context.Context, live []MeterPower) {
	now := e.now()
	reading := &db.PowerReading{
		ID:               uuid.New(),
		RecordedAt:       now,
		ActiveMeterCount: len(live),
	}

	byProject := make(map[string]*db.PowerBreakdown)
	for _, m := range live {
		reading.TotalPower += m.Power
		p, ok := byProject[m.ProjectID]
		if !ok {
			p = &db.PowerBreakdown{ID: m.ProjectID, Name: m.ProjectName}
			byProject[m.ProjectID] = p
		}
		p.Power += m.Power

		if len(reading.ByMeter) < e.cfg.PowerBreakdownTopN {
			reading.ByMeter = append(reading.ByMeter, db.PowerBreakdown{ID: m.MeterID, Name: m.RoomNo, Power: m.Power})
		}
	}

	for _, p := range byProject {
		reading.ByProject = append(reading.ByProject, *p)
	}
	sort.Slice(reading.ByProject, func(i, j int) bool {
		if reading.ByProject[i].Power != reading.ByProject[j].Power {
			return reading.ByProject[i].Power > reading.ByProject[j].Power
		}
		return reading.ByProject[i].ID < reading.ByProject[j].ID
	})
	if len(reading.ByProject) > e.cfg.PowerBreakdownTopN {
		reading.ByProject = reading.ByProject[:e.cfg.PowerBreakdownTopN]
	}

	if err := e.powerLog.AppendPowerReading(ctx, reading); err != nil {
		e.logger.Error("failed to record power reading", zap.Error(err))
		return
	}

	if e.cfg.PowerRetention > 0 {
		pruned, err := e.powerLog.DeletePowerReadingsBefore(ctx, now.Add(-e.cfg.PowerRetention))
		if err != nil {
			e.logger.Warn("failed to prune power readings", zap.Error(err))
			return
		}
		if pruned > 0 {
			e.logger.Debug("pruned power readings", zap.Int64("rows", pruned))
		}
	}
}

// PowerHistory returns power readings recorded in [from, to)
func (e *Engine) PowerHistory(ctx context.Context, from, to time.Time) ([]db.PowerReading, error) {
	return e.powerLog.ListPowerReadings(ctx, from, to)
}

func filterProjects(projects []iot.Project, ids []string) []iot.Project {
	if len(ids) == 0 {
		return projects
	}
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	var out []iot.Project
	for _, p := range projects {
		if _, ok := keep[p.ID.String()]; ok {
			out = append(out, p)
		}
	}
	return out
}
