package domain

import (
	"fmt"
	"time"
)

// Connectivity is the cloud's view of whether a machine is reachable.
type Connectivity string

const (
	Online  Connectivity = "Online"
	Offline Connectivity = "Offline"
)

// PowerState is the coarse machine mode derived from the dashboard.
type PowerState string

const (
	PowerOn      PowerState = "On"
	PowerStandby PowerState = "Standby"
	PowerBrewing PowerState = "Brewing"
	PowerUnknown PowerState = "Unknown"
)

// Machine is one espresso machine as listed by GET /things. It is a
// read-only projection of server state, fetched per command and never
// cached across invocations.
type Machine struct {
	SerialNumber string `json:"serialNumber"`
	Model        string `json:"modelName"`
	Name         string `json:"name"`
	Location     string `json:"location,omitempty"`
	Connected    bool   `json:"connected"`
}

func (m Machine) Connectivity() Connectivity {
	if m.Connected {
		return Online
	}
	return Offline
}

// Widget codes the status logic cares about. The dashboard carries many
// more; unknown widgets are ignored.
const (
	widgetMachineStatus = "CMMachineStatus"
	widgetCoffeeBoiler  = "CMCoffeeBoiler"
)

// Dashboard is the raw status document from GET /things/{serial}/dashboard.
type Dashboard struct {
	SerialNumber string   `json:"serialNumber"`
	Widgets      []Widget `json:"widgets"`
}

type Widget struct {
	Code   string       `json:"code"`
	Output WidgetOutput `json:"output"`
}

type WidgetOutput struct {
	Status string `json:"status"`
	Mode   string `json:"mode,omitempty"`
	// ReadyStartTime is the projected ready instant in ms since epoch,
	// reported by the boiler widget while heating.
	ReadyStartTime int64 `json:"readyStartTime,omitempty"`
}

// Status is the interpreted machine status.
type Status struct {
	SerialNumber string
	Power        PowerState
	// RawPower preserves a machine-status value outside the known set
	// (fault states like "NoWater") so it can be shown verbatim.
	RawPower string
	// BoilerReady is nil when the dashboard carried no boiler widget.
	BoilerReady *bool
	// ReadyStart is when the boiler expects to be ready; zero if unknown.
	ReadyStart time.Time
}

// StatusFromDashboard interprets the widget set. Missing or unrecognised
// widgets degrade to PowerUnknown / nil BoilerReady rather than failing.
func StatusFromDashboard(d Dashboard) Status {
	st := Status{
		SerialNumber: d.SerialNumber,
		Power:        PowerUnknown,
	}

	for _, w := range d.Widgets {
		switch w.Code {
		case widgetMachineStatus:
			switch w.Output.Status {
			case "StandBy":
				st.Power = PowerStandby
			case "PoweredOn":
				st.Power = PowerOn
			case "BrewingMode":
				st.Power = PowerBrewing
			case "":
			default:
				st.RawPower = w.Output.Status
			}
		case widgetCoffeeBoiler:
			ready := w.Output.Status == "Ready"
			st.BoilerReady = &ready
			if w.Output.ReadyStartTime > 0 {
				st.ReadyStart = time.UnixMilli(w.Output.ReadyStartTime)
			}
		}
	}

	return st
}

// Describe renders the status as a short human-readable line, including an
// estimate of time-to-ready while the boiler is heating.
func (s Status) Describe(now time.Time) string {
	switch s.Power {
	case PowerStandby:
		return "Standby"
	case PowerBrewing:
		return "Brewing"
	case PowerUnknown:
		// Fault states the server reports outside the known set are shown
		// verbatim rather than flattened to "Unknown".
		if s.RawPower != "" {
			return s.RawPower
		}
		return "Unknown"
	}

	if s.BoilerReady == nil {
		return "On"
	}
	if *s.BoilerReady {
		return "On (Ready)"
	}
	if s.ReadyStart.IsZero() {
		return "On (Ready soon)"
	}

	remaining := s.ReadyStart.Sub(now)
	if remaining <= 0 {
		return "On (Ready in < 1 min)"
	}
	switch mins := int(remaining.Minutes()); {
	case mins == 0:
		return "On (Ready in < 1 min)"
	case mins == 1:
		return "On (Ready in 1 min)"
	default:
		return fmt.Sprintf("On (Ready in %d mins)", mins)
	}
}
