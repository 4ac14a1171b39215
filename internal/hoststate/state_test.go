package hoststate

import (
	"testing"
	"time"
)

var today = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want State
	}{
		{"inactive host", Inputs{IsActive: false, HasWorker: true}, Archived},
		{"inactive wins over lockdown", Inputs{IsActive: false, BlockAllTraffic: true}, Archived},
		{"no worker", Inputs{IsActive: true, HasWorker: false}, Unprotected},
		{"no worker wins over lockdown", Inputs{IsActive: true, BlockAllTraffic: true}, Unprotected},
		{"lockdown", Inputs{IsActive: true, HasWorker: true, BlockAllTraffic: true}, Locked},
		{"deployment no date", Inputs{IsActive: true, HasWorker: true, DeploymentMode: true}, Deployment},
		{"deployment future date", Inputs{IsActive: true, HasWorker: true, DeploymentMode: true, GoLiveDate: datePtr(2025, 6, 16)}, Deployment},
		{"golive today", Inputs{IsActive: true, HasWorker: true, DeploymentMode: true, GoLiveDate: datePtr(2025, 6, 15)}, Protected},
		{"golive passed", Inputs{IsActive: true, HasWorker: true, DeploymentMode: true, GoLiveDate: datePtr(2025, 6, 14)}, Protected},
		{"plain protected", Inputs{IsActive: true, HasWorker: true}, Protected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.in, today); got != tt.want {
				t.Errorf("Derive(%+v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestDeriveIgnoresTimeOfDay(t *testing.T) {
	in := Inputs{IsActive: true, HasWorker: true, DeploymentMode: true, GoLiveDate: datePtr(2025, 6, 15)}
	lateToday := time.Date(2025, 6, 15, 23, 59, 59, 0, time.UTC)
	if got := Derive(in, lateToday); got != Protected {
		t.Errorf("go-live day should be protected regardless of clock time, got %s", got)
	}
}

func TestDaysUntilGoLive(t *testing.T) {
	base := Inputs{IsActive: true, HasWorker: true, DeploymentMode: true}

	tests := []struct {
		name string
		date *time.Time
		want int
	}{
		{"ten days out", datePtr(2025, 6, 25), 10},
		{"tomorrow", datePtr(2025, 6, 16), 1},
		{"today", datePtr(2025, 6, 15), 0},
		{"passed", datePtr(2025, 6, 1), 0},
		{"no date", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.GoLiveDate = tt.date
			if got := DaysUntilGoLive(in, today); got != tt.want {
				t.Errorf("DaysUntilGoLive = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRemoteLoginAllowed(t *testing.T) {
	deployment := Inputs{IsActive: true, HasWorker: true, DeploymentMode: true}
	if !RemoteLoginAllowed(deployment, today) {
		t.Error("deployment host should allow remote login")
	}
	protected := Inputs{IsActive: true, HasWorker: true}
	if RemoteLoginAllowed(protected, today) {
		t.Error("protected host should not allow remote login")
	}
	locked := Inputs{IsActive: true, HasWorker: true, BlockAllTraffic: true, DeploymentMode: true}
	if RemoteLoginAllowed(locked, today) {
		t.Error("locked host should not allow remote login")
	}
}
