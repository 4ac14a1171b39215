package hoststate

import "time"

// State is the derived protection state of a host. It is never stored;
// callers recompute it from the inputs whenever they change.
type State string

const (
	Archived    State = "archived"
	Unprotected State = "unprotected"
	Locked      State = "locked"
	Deployment  State = "deployment"
	Protected   State = "protected"
)

// Inputs are the host fields the state derivation depends on.
type Inputs struct {
	IsActive        bool
	HasWorker       bool
	BlockAllTraffic bool
	DeploymentMode  bool
	GoLiveDate      *time.Time
}

// Derive computes the host state:
//
//	archived    host is not active
//	unprotected active but no worker bound
//	locked      active with security lockdown
//	deployment  deployment mode and go-live absent or in the future
//	protected   everything else
//
// Go-live comparison is date-granular: a host goes protected on the
// go-live day itself, not the day after.
func Derive(in Inputs, today time.Time) State {
	switch {
	case !in.IsActive:
		return Archived
	case !in.HasWorker:
		return Unprotected
	case in.BlockAllTraffic:
		return Locked
	case in.DeploymentMode && (in.GoLiveDate == nil || dateOnly(*in.GoLiveDate).After(dateOnly(today))):
		return Deployment
	default:
		return Protected
	}
}

// DaysUntilGoLive returns the whole days remaining before go-live, zero when
// the host is not in deployment state or the date has passed.
func DaysUntilGoLive(in Inputs, today time.Time) int {
	if in.GoLiveDate == nil || Derive(in, today) != Deployment {
		return 0
	}
	days := int(dateOnly(*in.GoLiveDate).Sub(dateOnly(today)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// RemoteLoginAllowed reports whether a user may log in remotely on the host.
// Remote login is only offered while the host is onboarding, so this is
// deliberately the deployment-state check under an explicit name.
func RemoteLoginAllowed(in Inputs, today time.Time) bool {
	return Derive(in, today) == Deployment
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
