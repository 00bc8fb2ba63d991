package automation

import (
	"context"
	"encoding/json"
	"fmt"

	"meshgate/internal/domain"
)

// settingsKey is the settings-table row holding the automation settings
// blob.
const settingsKey = "automation.settings"

// FilterSettings is the serialized form of a node filter. Empty slices
// and strings mean "no constraint".
type FilterSettings struct {
	Channels  []uint32 `json:"channels,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	HwModels  []string `json:"hwModels,omitempty"`
	NameRegex string   `json:"nameRegex,omitempty"`
	Nodes     []uint32 `json:"nodes,omitempty"`
}

type TracerouteSettings struct {
	Enabled             bool           `json:"enabled"`
	IntervalMinutes     int            `json:"intervalMinutes"`
	Budget              int            `json:"budget"`
	SortByHopsDesc      bool           `json:"sortByHopsDesc"`
	PerNodeCooldownMins int            `json:"perNodeCooldownMinutes"`
	Channel             uint32         `json:"channel"`
	Filter              FilterSettings `json:"filter"`
}

type TimeSyncSettings struct {
	Enabled         bool           `json:"enabled"`
	IntervalMinutes int            `json:"intervalMinutes"`
	Filter          FilterSettings `json:"filter"`
}

type KeyRepairSettings struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"intervalMinutes"`
	MaxExchanges    int  `json:"maxExchanges"`
	AutoPurge       bool `json:"autoPurge"`
}

type AdminScanSettings struct {
	Enabled            bool `json:"enabled"`
	IntervalMinutes    int  `json:"intervalMinutes"`
	MinNodeAgeMinutes  int  `json:"minNodeAgeMinutes"`
	NegativeTTLMinutes int  `json:"negativeTtlMinutes"`
	Budget             int  `json:"budget"`
}

// AnnounceSettings sends a fixed text either on a plain interval or on a
// day/hour matrix. The matrix wins when any hours are configured.
type AnnounceSettings struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"intervalMinutes"`
	Text            string `json:"text"`
	Channel         uint32 `json:"channel"`
	// Days are time.Weekday values 0..6; empty means every day.
	Days []int `json:"days,omitempty"`
	// Hours are local hours 0..23 at which the matrix fires.
	Hours []int `json:"hours,omitempty"`
}

type WelcomeSettings struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"intervalMinutes"`
	Text            string `json:"text"`
	RequireLongName bool   `json:"requireLongName"`
	// MaxHops gates welcomes to nearby nodes; 0 disables the gate.
	MaxHops int `json:"maxHops"`
}

// ResponderRule maps one trigger pattern to exactly one of a text reply,
// an HTTP GET, or a script.
type ResponderRule struct {
	Trigger string `json:"trigger"`
	Reply   string `json:"reply,omitempty"`
	URL     string `json:"url,omitempty"`
	Script  string `json:"script,omitempty"`
	// Channels scopes the rule; -1 is the DM scope. Empty means all.
	Channels            []int `json:"channels,omitempty"`
	SkipIncompleteNodes bool  `json:"skipIncompleteNodes"`
}

type ResponderSettings struct {
	Enabled bool            `json:"enabled"`
	Rules   []ResponderRule `json:"rules,omitempty"`
}

type TimerEntry struct {
	// Cron is a standard 5-field cron expression.
	Cron    string `json:"cron"`
	Text    string `json:"text,omitempty"`
	Channel uint32 `json:"channel"`
	Script  string `json:"script,omitempty"`
}

type TimerSettings struct {
	Enabled bool         `json:"enabled"`
	Entries []TimerEntry `json:"entries,omitempty"`
}

type CircleZone struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radiusMeters"`
}

// GeofenceZone fires on entry, exit, or periodically while a node stays
// inside. Exactly one of Circle or Polygon describes the shape.
type GeofenceZone struct {
	Name    string       `json:"name"`
	Circle  *CircleZone  `json:"circle,omitempty"`
	Polygon [][2]float64 `json:"polygon,omitempty"`

	OnEntry            bool `json:"onEntry"`
	OnExit             bool `json:"onExit"`
	WhileInsideMinutes int  `json:"whileInsideMinutes"`

	Text    string `json:"text,omitempty"`
	Channel uint32 `json:"channel"`
	Script  string `json:"script,omitempty"`
}

type GeofenceSettings struct {
	Enabled bool           `json:"enabled"`
	Zones   []GeofenceZone `json:"zones,omitempty"`
}

type CleanupSettings struct {
	// DailyAt is a local "HH:MM"; empty disables the daily run.
	DailyAt         string `json:"dailyAt"`
	IntervalMinutes int    `json:"intervalMinutes"`
}

// Settings is the runtime automation configuration persisted in the
// settings table.
type Settings struct {
	Traceroute TracerouteSettings `json:"traceroute"`
	TimeSync   TimeSyncSettings   `json:"timeSync"`
	KeyRepair  KeyRepairSettings  `json:"keyRepair"`
	AdminScan  AdminScanSettings  `json:"adminScan"`
	Announce   AnnounceSettings   `json:"announce"`
	Welcome    WelcomeSettings    `json:"welcome"`
	Responder  ResponderSettings  `json:"responder"`
	Timers     TimerSettings      `json:"timers"`
	Geofence   GeofenceSettings   `json:"geofence"`
	Cleanup    CleanupSettings    `json:"cleanup"`
}

// DefaultSettings keeps every task disabled with sane intervals, so a
// fresh install does nothing until the operator opts in.
func DefaultSettings() Settings {
	return Settings{
		Traceroute: TracerouteSettings{
			IntervalMinutes:     60,
			Budget:              3,
			SortByHopsDesc:      true,
			PerNodeCooldownMins: 720,
		},
		TimeSync:  TimeSyncSettings{IntervalMinutes: 360},
		KeyRepair: KeyRepairSettings{IntervalMinutes: 120, MaxExchanges: 3},
		AdminScan: AdminScanSettings{
			IntervalMinutes:    30,
			MinNodeAgeMinutes:  60,
			NegativeTTLMinutes: 1440,
			Budget:             2,
		},
		Announce: AnnounceSettings{IntervalMinutes: 1440},
		Welcome:  WelcomeSettings{IntervalMinutes: 5, RequireLongName: true, MaxHops: 3},
		Cleanup:  CleanupSettings{DailyAt: "03:30"},
	}
}

// LoadSettings reads the persisted automation settings, falling back to
// defaults when none are stored yet.
func LoadSettings(ctx context.Context, repo domain.SettingsRepository) (Settings, error) {
	settings := DefaultSettings()
	if repo == nil {
		return settings, nil
	}

	raw, found, err := repo.Get(ctx, settingsKey)
	if err != nil {
		return settings, fmt.Errorf("load automation settings: %w", err)
	}
	if !found {
		return settings, nil
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return settings, fmt.Errorf("parse automation settings: %w", err)
	}

	return settings, nil
}

// SaveSettings persists the automation settings blob.
func SaveSettings(ctx context.Context, repo domain.SettingsRepository, settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode automation settings: %w", err)
	}
	if err := repo.Set(ctx, settingsKey, string(raw)); err != nil {
		return fmt.Errorf("store automation settings: %w", err)
	}

	return nil
}
