package analytics

import (
	"sort"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/alarm"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/iot"
)

// rankLimit caps topConsumers and topRevenue
const rankLimit = 10

// Meter is a flattened meter record with its derived status
type Meter struct {
	ID          string
	RoomNo      string
	ProjectID   string
	ProjectName string
	Telemetry   iot.Telemetry
	Threshold   float64
	Status      alarm.Status
}

// StatusCounts holds the per-bucket meter counts. Every meter lands in
// exactly one of Normal, Offline and Alarm.
type StatusCounts struct {
	Normal  int `json:"normal"`
	Offline int `json:"offline"`
	Alarm   int `json:"alarm"`
	Total   int `json:"total"`
}

type DayValue struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type ProjectRevenue struct {
	ProjectID   string  `json:"projectId"`
	ProjectName string  `json:"projectName"`
	Revenue     float64 `json:"revenue"`
}

type MeterValue struct {
	MeterID     string  `json:"meterId"`
	RoomNo      string  `json:"roomNo"`
	ProjectName string  `json:"projectName"`
	Value       float64 `json:"value"`
}

type LowBalanceMeter struct {
	MeterID     string  `json:"meterId"`
	RoomNo      string  `json:"roomNo"`
	ProjectName string  `json:"projectName"`
	Balance     float64 `json:"balance"`
	Threshold   float64 `json:"threshold"`
}

type MeterRef struct {
	MeterID     string `json:"meterId"`
	RoomNo      string `json:"roomNo"`
	ProjectName string `json:"projectName"`
}

type ForcedMeter struct {
	MeterID     string `json:"meterId"`
	RoomNo      string `json:"roomNo"`
	ProjectName string `json:"projectName"`
	ControlMode string `json:"controlMode"`
}

type MeterPower struct {
	MeterID     string  `json:"meterId"`
	RoomNo      string  `json:"roomNo"`
	ProjectID   string  `json:"projectId"`
	ProjectName string  `json:"projectName"`
	Power       float64 `json:"power"`
}

// Failure records an upstream call that was absorbed as "no data"
type Failure struct {
	Kind      string `json:"kind"`
	ProjectID string `json:"projectId,omitempty"`
	MeterID   string `json:"meterId,omitempty"`
	Reason    string `json:"reason"`
}

// Report is the response body of an analytics computation
type Report struct {
	TotalRevenue     float64           `json:"totalRevenue"`
	TotalEnergy      float64           `json:"totalEnergy"`
	LivePower        float64           `json:"livePower"`
	ActiveMeters     int               `json:"activeMeters"`
	MeterStatus      StatusCounts      `json:"meterStatus"`
	RevenueByDay     []DayValue        `json:"revenueByDay"`
	RevenueByProject []ProjectRevenue  `json:"revenueByProject"`
	EnergyByDay      []DayValue        `json:"energyByDay"`
	TopConsumers     []MeterValue      `json:"topConsumers"`
	TopRevenue       []MeterValue      `json:"topRevenue"`
	LowBalanceMeters []LowBalanceMeter `json:"lowBalanceMeters"`
	OfflineMeters    []MeterRef        `json:"offlineMeters"`
	ForcedModeMeters []ForcedMeter     `json:"forcedModeMeters"`
	LivePowerByMeter []MeterPower      `json:"livePowerByMeter"`
	Failures         []Failure         `json:"failures"`
}

// Accumulator reduces meters, sales and energy records into a Report. It is
// used by one computation at a time.
type Accumulator struct {
	totalRevenue float64
	totalEnergy  float64
	livePower    float64
	status       StatusCounts

	revenueByDay     map[string]float64
	revenueByProject map[string]*ProjectRevenue
	revenueByMeter   map[string]*MeterValue
	energyByDay      map[string]float64
	energyByMeter    map[string]*MeterValue

	lowBalance []LowBalanceMeter
	offline    []MeterRef
	forced     []ForcedMeter
	live       []MeterPower
	failures   []Failure
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{
		revenueByDay:     make(map[string]float64),
		revenueByProject: make(map[string]*ProjectRevenue),
		revenueByMeter:   make(map[string]*MeterValue),
		energyByDay:      make(map[string]float64),
		energyByMeter:    make(map[string]*MeterValue),
	}
}

// AddMeter counts a meter's status and live power
func (a *Accumulator) AddMeter(m Meter) {
	a.status.Total++
	ref := MeterRef{MeterID: m.ID, RoomNo: m.RoomNo, ProjectName: m.ProjectName}

	switch m.Status {
	case alarm.StatusOffline:
		a.status.Offline++
		a.offline = append(a.offline, ref)
	case alarm.StatusAlarm:
		a.status.Alarm++
		a.lowBalance = append(a.lowBalance, LowBalanceMeter{
			MeterID:     m.ID,
			RoomNo:      m.RoomNo,
			ProjectName: m.ProjectName,
			Balance:     m.Telemetry.Balance,
			Threshold:   m.Threshold,
		})
	default:
		a.status.Normal++
	}

	if m.Telemetry.Forced() {
		a.forced = append(a.forced, ForcedMeter{
			MeterID:     m.ID,
			RoomNo:      m.RoomNo,
			ProjectName: m.ProjectName,
			ControlMode: m.Telemetry.ControlMode,
		})
	}

	if m.Telemetry.Online() && m.Telemetry.Power > 0 {
		a.livePower += m.Telemetry.Power
		a.live = append(a.live, MeterPower{
			MeterID:     m.ID,
			RoomNo:      m.RoomNo,
			ProjectID:   m.ProjectID,
			ProjectName: m.ProjectName,
			Power:       m.Telemetry.Power,
		})
	}
}

// AddSales sums a meter's positive sales into the revenue views
func (a *Accumulator) AddSales(m Meter, sales []iot.SaleRecord) {
	for _, sale := range sales {
		amount := sale.Amount()
		if amount <= 0 {
			continue
		}
		a.totalRevenue += amount

		if day := sale.Day(); day != "" {
			a.revenueByDay[day] += amount
		}

		project, ok := a.revenueByProject[m.ProjectID]
		if !ok {
			project = &ProjectRevenue{ProjectID: m.ProjectID, ProjectName: m.ProjectName}
			a.revenueByProject[m.ProjectID] = project
		}
		project.Revenue += amount

		a.meterValue(a.revenueByMeter, m).Value += amount
	}
}

// AddEnergy sums a meter's positive consumption into the energy views
func (a *Accumulator) AddEnergy(m Meter, records []iot.EnergyRecord) {
	for _, rec := range records {
		use := float64(rec.PowerUse)
		if use <= 0 {
			continue
		}
		a.totalEnergy += use

		if day := rec.Day(); day != "" {
			a.energyByDay[day] += use
		}

		a.meterValue(a.energyByMeter, m).Value += use
	}
}

// AddFailure records an absorbed upstream failure
func (a *Accumulator) AddFailure(f Failure) {
	a.failures = append(a.failures, f)
}

// Online reports how many meters are connected
func (a *Accumulator) Online() int {
	return a.status.Total - a.status.Offline
}

// LivePower returns the live meters sorted by power, highest first
func (a *Accumulator) LivePower() []MeterPower {
	live := append([]MeterPower(nil), a.live...)
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].Power != live[j].Power {
			return live[i].Power > live[j].Power
		}
		return live[i].MeterID < live[j].MeterID
	})
	return live
}

func (a *Accumulator) meterValue(index map[string]*MeterValue, m Meter) *MeterValue {
	v, ok := index[m.ID]
	if !ok {
		v = &MeterValue{MeterID: m.ID, RoomNo: m.RoomNo, ProjectName: m.ProjectName}
		index[m.ID] = v
	}
	return v
}

// Report derives the sorted and ranked views
func (a *Accumulator) Report() Report {
	lowBalance := append([]LowBalanceMeter{}, a.lowBalance...)
	sort.SliceStable(lowBalance, func(i, j int) bool {
		if lowBalance[i].Balance != lowBalance[j].Balance {
			return lowBalance[i].Balance < lowBalance[j].Balance
		}
		return lowBalance[i].MeterID < lowBalance[j].MeterID
	})

	projects := make([]ProjectRevenue, 0, len(a.revenueByProject))
	for _, p := range a.revenueByProject {
		projects = append(projects, *p)
	}
	sort.Slice(projects, func(i, j int) bool {
		if projects[i].Revenue != projects[j].Revenue {
			return projects[i].Revenue > projects[j].Revenue
		}
		return projects[i].ProjectID < projects[j].ProjectID
	})

	live := a.LivePower()

	return Report{
		TotalRevenue:     a.totalRevenue,
		TotalEnergy:      a.totalEnergy,
		LivePower:        a.livePower,
		ActiveMeters:     len(live),
		MeterStatus:      a.status,
		RevenueByDay:     byDay(a.revenueByDay),
		RevenueByProject: projects,
		EnergyByDay:      byDay(a.energyByDay),
		TopConsumers:     topN(a.energyByMeter, rankLimit),
		TopRevenue:       topN(a.revenueByMeter, rankLimit),
		LowBalanceMeters: lowBalance,
		OfflineMeters:    append([]MeterRef{}, a.offline...),
		ForcedModeMeters: append([]ForcedMeter{}, a.forced...),
		LivePowerByMeter: live,
		Failures:         append([]Failure{}, a.failures...),
	}
}

func byDay(values map[string]float64) []DayValue {
	out := make([]DayValue, 0, len(values))
	for day, v := range values {
		out = append(out, DayValue{Date: day, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func topN(index map[string]*MeterValue, n int) []MeterValue {
	out := make([]MeterValue, 0, len(index))
	for _, v := range index {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].MeterID < out[j].MeterID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
