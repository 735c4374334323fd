// Package queue derives doctor-facing queue orderings and admin-facing
// department load views from the appointment store. Projections are pure and
// recomputed from current store state: they hold no state of their own and
// are never a write target.
package queue

import (
	"sort"

	"github.com/chandra-dot-dev/meditriage/internal/domain/appointment"
	"github.com/chandra-dot-dev/meditriage/internal/triage"
)

// CurrentQueue orders open records by (risk rank desc, priority score desc,
// created asc). The created-at tie break keeps equally risky patients FIFO.
func CurrentQueue(records []*appointment.Record) []*appointment.Record {
	out := make([]*appointment.Record, 0, len(records))
	for _, rec := range records {
		if rec.Status.Terminal() {
			continue
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := a.RiskLevel.Rank(), b.RiskLevel.Rank(); ra != rb {
			return ra > rb
		}
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out
}

// Load weights per risk level. Policy constants: High-risk cases dominate a
// department's load, Low-risk cases barely register.
const (
	loadWeightHigh   = 10
	loadWeightMedium = 4
	loadWeightLow    = 1
	loadCapPercent   = 95
)

// DepartmentLoad is the admin view of one department.
type DepartmentLoad struct {
	Department  string `json:"department"`
	Patients    int    `json:"patients"`
	LoadPercent int    `json:"load_percent"`
	HighRisk    int    `json:"high_risk"`
}

// Loads aggregates open records per department. The load percentage is a
// deterministic, monotonic function of count and risk mix, capped at 95.
func Loads(records []*appointment.Record) []DepartmentLoad {
	byDept := make(map[string]*DepartmentLoad)
	for _, rec := range records {
		if rec.Status.Terminal() {
			continue
		}
		dl, ok := byDept[rec.Department]
		if !ok {
			dl = &DepartmentLoad{Department: rec.Department}
			byDept[rec.Department] = dl
		}
		dl.Patients++
		switch rec.RiskLevel {
		case triage.RiskHigh:
			dl.HighRisk++
			dl.LoadPercent += loadWeightHigh
		case triage.RiskMedium:
			dl.LoadPercent += loadWeightMedium
		default:
			dl.LoadPercent += loadWeightLow
		}
	}

	out := make([]DepartmentLoad, 0, len(byDept))
	for _, dl := range byDept {
		if dl.LoadPercent > loadCapPercent {
			dl.LoadPercent = loadCapPercent
		}
		out = append(out, *dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Department < out[j].Department })
	return out
}
