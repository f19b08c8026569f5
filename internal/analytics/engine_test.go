package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/alarm"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/iot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePlatform struct {
	projects     []iot.Project
	projectsErr  error
	meters       map[string][]iot.RawMeter
	metersErr    map[string]error
	sales        map[string][]iot.SaleRecord
	energy       map[string][]iot.EnergyRecord
	failingSales map[string]bool

	mu      sync.Mutex
	windows []string
}

func (p *fakePlatform) Projects(ctx context.Context) ([]iot.Project, error) {
	return p.projects, p.projectsErr
}

func (p *fakePlatform) Meters(ctx context.Context, projectID string) ([]iot.RawMeter, error) {
	if err := p.metersErr[projectID]; err != nil {
		return nil, err
	}
	return p.meters[projectID], nil
}

func (p *fakePlatform) Sales(ctx context.Context, meterID, start, end string) ([]iot.SaleRecord, error) {
	p.mu.Lock()
	p.windows = append(p.windows, start+"|"+end)
	p.mu.Unlock()
	if p.failingSales[meterID] {
		return nil, errors.New("upstream timeout")
	}
	return p.sales[meterID], nil
}

func (p *fakePlatform) Energy(ctx context.Context, meterID, start, end string) ([]iot.EnergyRecord, error) {
	return p.energy[meterID], nil
}

type memoryPowerLog struct {
	mu       sync.Mutex
	readings []db.PowerReading
	cutoffs  []time.Time
}

func (l *memoryPowerLog) AppendPowerReading(ctx context.Context, r *db.PowerReading) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readings = append(l.readings, *r)
	return nil
}

func (l *memoryPowerLog) DeletePowerReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cutoffs = append(l.cutoffs, cutoff)
	return 0, nil
}

func (l *memoryPowerLog) ListPowerReadings(ctx context.Context, from, to time.Time) ([]db.PowerReading, error) {
	return l.readings, nil
}

func newTestEngine(p Platform, log PowerLog, cfg Config) *Engine {
	return NewEngine(p, log, alarm.NewClassifier(100), cfg, nil, zap.NewNop())
}

var period = Query{StartDate: "2024-03-01", EndDate: "2024-03-07"}

func TestCompute_TwoProjectsOneSale(t *testing.T) {
	platform := &fakePlatform{
		projects: []iot.Project{{ID: "p1", Name: "Lekki"}, {ID: "p2", Name: "Ikeja"}},
		meters: map[string][]iot.RawMeter{
			"p1": {{ID: "X", RoomNo: "101", Balance: 500}},
			"p2": {{ID: "Y", RoomNo: "201", Balance: 500}},
		},
		sales: map[string][]iot.SaleRecord{
			"X": {{SaleMoney: 5000, CreateTime: "2024-03-02 14:00:00"}},
		},
	}
	engine := newTestEngine(platform, &memoryPowerLog{}, Config{BatchSize: 10})

	result, err := engine.Compute(context.Background(), period)
	require.NoError(t, err)

	report := result.Report
	assert.Equal(t, 5000.0, report.TotalRevenue)
	require.Len(t, report.RevenueByProject, 1)
	assert.Equal(t, "p1", report.RevenueByProject[0].ProjectID)
	assert.Equal(t, "Lekki", report.RevenueByProject[0].ProjectName)
	assert.Equal(t, 5000.0, report.RevenueByProject[0].Revenue)
	assert.Equal(t, []DayValue{{Date: "2024-03-02", Value: 5000}}, report.RevenueByDay)

	for _, w := range platform.windows {
		assert.Equal(t, "2024-03-01 00:00:00|2024-03-07 23:59:59", w)
	}
}

func TestCompute_OfflineWinsOverAlarm(t *testing.T) {
	platform := &fakePlatform{
		projects: []iot.Project{{ID: "p1"}},
		meters: map[string][]iot.RawMeter{
			"p1": {{ID: "M", Balance: 10, AlarmA: 100, UnConnect: 1}},
		},
	}
	engine := newTestEngine(platform, &memoryPowerLog{}, Config{})

	result, err := engine.Compute(context.Background(), period)
	require.NoError(t, err)

	s := result.Report.MeterStatus
	assert.Equal(t, StatusCounts{Offline: 1, Total: 1}, s)
	assert.Empty(t, result.Report.LowBalanceMeters)
}

func TestCompute_FailingMeterEqualsRemovedMeter(t *testing.T) {
	meters := []iot.RawMeter{}
	sales := map[string][]iot.SaleRecord{}
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"} {
		meters = append(meters, iot.RawMeter{ID: iot.ID(id), Balance: 500})
		sales[id] = []iot.SaleRecord{{SaleMoney: 1000, CreateTime: "2024-03-03"}}
	}

	failing := &fakePlatform{
		projects:     []iot.Project{{ID: "p1"}},
		meters:       map[string][]iot.RawMeter{"p1": meters},
		sales:        sales,
		failingSales: map[string]bool{"m3": true},
	}
	withFailure, err := newTestEngine(failing, &memoryPowerLog{}, Config{BatchSize: 2}).Compute(context.Background(), period)
	require.NoError(t, err)

	withoutSales := map[string][]iot.SaleRecord{}
	for id, s := range sales {
		if id != "m3" {
			withoutSales[id] = s
		}
	}
	removed := &fakePlatform{
		projects: []iot.Project{{ID: "p1"}},
		meters:   map[string][]iot.RawMeter{"p1": meters},
		sales:    withoutSales,
	}
	baseline, err := newTestEngine(removed, &memoryPowerLog{}, Config{BatchSize: 2}).Compute(context.Background(), period)
	require.NoError(t, err)

	assert.Equal(t, 6000.0, withFailure.Report.TotalRevenue)
	assert.Equal(t, baseline.Report.TotalRevenue, withFailure.Report.TotalRevenue)
	assert.Equal(t, baseline.Report.RevenueByDay, withFailure.Report.RevenueByDay)
	assert.Equal(t, baseline.Report.TopRevenue, withFailure.Report.TopRevenue)

	require.Len(t, withFailure.Report.Failures, 1)
	assert.Equal(t, Failure{Kind: KindSales, MeterID: "m3", Reason: "upstream timeout"}, withFailure.Report.Failures[0])
}

func TestCompute_ProjectListFailureIsFatal(t *testing.T) {
	platform := &fakePlatform{projectsErr: errors.New("connection refused")}
	log := &memoryPowerLog{}

	_, err := newTestEngine(platform, log, Config{}).Compute(context.Background(), period)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProjectList)
	assert.Empty(t, log.readings)
}

func TestCompute_MeterListFailureDegradesProject(t *testing.T) {
	platform := &fakePlatform{
		projects: []iot.Project{{ID: "p1"}, {ID: "p2"}},
		meters: map[string][]iot.RawMeter{
			"p2": {{ID: "Y", Balance: 500}},
		},
		metersErr: map[string]error{"p1": errors.New("bad gateway")},
	}

	result, err := newTestEngine(platform, &memoryPowerLog{}, Config{}).Compute(context.Background(), period)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Report.MeterStatus.Total)
	require.Len(t, result.Report.Failures, 1)
	assert.Equal(t, KindMeters, result.Report.Failures[0].Kind)
	assert.Equal(t, "p1", result.Report.Failures[0].ProjectID)
}

func TestCompute_ProjectFilter(t *testing.T) {
	platform := &fakePlatform{
		projects: []iot.Project{{ID: "p1"}, {ID: "p2"}},
		meters: map[string][]iot.RawMeter{
			"p1": {{ID: "X", Balance: 500}},
			"p2": {{ID: "Y", Balance: 500}, {ID: "Z", Balance: 500}},
		},
	}
	q := period
	q.ProjectIDs = []string{"p2"}

	result, err := newTestEngine(platform, &memoryPowerLog{}, Config{}).Compute(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Report.MeterStatus.Total)
}

func TestCompute_RecordsPowerReadingWhenOnline(t *testing.T) {
	platform := &fakePlatform{
		projects: []iot.Project{{ID: "p1", Name: "Lekki"}, {ID: "p2", Name: "Ikeja"}},
		meters: map[string][]iot.RawMeter{
			"p1": {{ID: "A", Balance: 500, Power: 2}, {ID: "B", Balance: 500, Power: 1}},
			"p2": {{ID: "C", Balance: 500, Power: 4}, {ID: "D", Balance: 500, Power: 7, UnConnect: 1}},
		},
	}
	log := &memoryPowerLog{}
	engine := newTestEngine(platform, log, Config{PowerBreakdownTopN: 2, PowerRetention: 48 * time.Hour})
	fixed := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return fixed }

	_, err := engine.Compute(context.Background(), period)
	require.NoError(t, err)

	require.Len(t, log.readings, 1)
	r := log.readings[0]
	assert.Equal(t, 7.0, r.TotalPower)
	assert.Equal(t, 3, r.ActiveMeterCount)
	require.Len(t, r.ByMeter, 2)
	assert.Equal(t, "C", r.ByMeter[0].ID)
	require.Len(t, r.ByProject, 2)
	assert.Equal(t, "p2", r.ByProject[0].ID)
	assert.Equal(t, []time.Time{fixed.Add(-48 * time.Hour)}, log.cutoffs)
}

func TestCompute_NoPowerReadingWhenAllOffline(t *testing.T) {
	platform := &fakePlatform{
		projects: []iot.Project{{ID: "p1"}},
		meters: map[string][]iot.RawMeter{
			"p1": {{ID: "A", UnConnect: 1}},
		},
	}
	log := &memoryPowerLog{}

	_, err := newTestEngine(platform, log, Config{}).Compute(context.Background(), period)
	require.NoError(t, err)
	assert.Empty(t, log.readings)
}
