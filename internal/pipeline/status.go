package pipeline

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jihoonkang/stockpipe/internal/calendar"
	"github.com/jihoonkang/stockpipe/internal/database"
	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Health labels a region's cache freshness.
type Health string

const (
	HealthHealthy Health = "healthy"
	HealthPartial Health = "partial"
	HealthStale   Health = "stale"
)

// RegionStatus is one region's freshness summary.
type RegionStatus struct {
	Region       domain.Region `json:"region"`
	Health       Health        `json:"health"`
	Stage0Date   string        `json:"stage0_date"`
	Stage0AgeH   float64       `json:"stage0_age_hours"`
	Stage0Passed int           `json:"stage0_passed"`
	OHLCVTickers int           `json:"ohlcv_tickers"`
	OHLCVNewest  string        `json:"ohlcv_newest"`
}

// HostStatus is a snapshot of the machine running the pipeline.
type HostStatus struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemUsedPct  float64 `json:"mem_used_percent"`
	DiskUsedPct float64 `json:"disk_used_percent"`
}

// Status is the full health summary.
type Status struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Regions     []RegionStatus  `json:"regions"`
	Database    *database.Stats `json:"database"`
	Host        HostStatus      `json:"host"`
}

// Status reads cache ages for every region and the host's resource usage.
func (o *Orchestrator) Status() (*Status, error) {
	now := o.now()
	status := &Status{GeneratedAt: now}

	for _, region := range domain.AllRegions {
		rs := RegionStatus{Region: region, Health: HealthStale}

		date, writtenAt, err := o.stage0s.LatestSnapshot(region)
		if err == nil && date != "" {
			rs.Stage0Date = date
			rs.Stage0AgeH = now.Sub(writtenAt).Hours()
			rs.Stage0Passed, _ = o.stage0s.PassedCount(region, date)
		}
		rs.OHLCVTickers, rs.OHLCVNewest = o.ohlcvFreshness(region)

		rs.Health = classifyHealth(o.calendar, region, rs, now)
		status.Regions = append(status.Regions, rs)
	}

	if stats, err := o.db.GetStats(); err == nil {
		status.Database = stats
	}
	status.Host = hostStatus(o.db.Path())
	return status, nil
}

// classifyHealth: healthy when stage0 matches the last trading day and
// OHLCV reaches it too; partial when only stage0 is current.
func classifyHealth(cal *calendar.Service, region domain.Region, rs RegionStatus, now time.Time) Health {
	lastDay := cal.LastTradingDay(region, now).Format("2006-01-02")
	if rs.Stage0Date != lastDay {
		return HealthStale
	}
	if rs.OHLCVNewest >= lastDay {
		return HealthHealthy
	}
	return HealthPartial
}

func (o *Orchestrator) ohlcvFreshness(region domain.Region) (tickers int, newest string) {
	row := o.db.QueryRow(
		"SELECT COUNT(DISTINCT ticker), COALESCE(MAX(date), '') FROM ohlcv_data WHERE region = ?",
		string(region))
	_ = row.Scan(&tickers, &newest)
	return tickers, newest
}

func hostStatus(dbPath string) HostStatus {
	hs := HostStatus{}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		hs.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hs.MemUsedPct = vm.UsedPercent
	}
	if du, err := disk.Usage(dbPath); err == nil {
		hs.DiskUsedPct = du.UsedPercent
	}
	return hs
}
