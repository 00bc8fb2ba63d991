package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"meshgate/internal/bus"
	"meshgate/internal/domain"
)

const taskGeofence = "geofence-trigger"

// Geofence watches position updates and fires entry, exit, and periodic
// while-inside events per configured zone.
type Geofence struct {
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	enabled bool
	zones   []GeofenceZone
	// inside tracks zone membership and the last while-inside firing,
	// keyed by zone name + node number.
	inside map[string]time.Time
}

func NewGeofence(deps Deps, settings GeofenceSettings) *Geofence {
	g := &Geofence{
		deps:   deps,
		logger: deps.taskLogger(taskGeofence),
		inside: make(map[string]time.Time),
	}
	g.Configure(settings)

	return g
}

func (g *Geofence) Configure(settings GeofenceSettings) {
	zones := make([]GeofenceZone, 0, len(settings.Zones))
	for _, zone := range settings.Zones {
		if zone.Circle == nil && len(zone.Polygon) < 3 {
			g.logger.Error("geofence zone dropped, no usable shape", "zone", zone.Name)

			continue
		}
		zones = append(zones, zone)
	}

	g.mu.Lock()
	g.enabled = settings.Enabled
	g.zones = zones
	g.mu.Unlock()
}

// Run consumes position updates until ctx ends.
func (g *Geofence) Run(ctx context.Context) {
	sub := g.deps.Bus.Subscribe(bus.TopicPosition)
	defer g.deps.Bus.Unsubscribe(sub, bus.TopicPosition)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			node, ok := raw.(domain.Node)
			if !ok {
				continue
			}
			g.handle(ctx, node)
		}
	}
}

func (g *Geofence) handle(ctx context.Context, node domain.Node) {
	g.mu.Lock()
	enabled := g.enabled
	zones := g.zones
	g.mu.Unlock()

	if !enabled || node.IsLocal {
		return
	}
	lat, lon, _, ok := node.EffectivePosition()
	if !ok {
		return
	}

	now := time.Now()
	for _, zone := range zones {
		key := zone.Name + "/" + node.NodeID()
		contains := zoneContains(zone, lat, lon)

		g.mu.Lock()
		enteredAt, wasInside := g.inside[key]
		switch {
		case contains && !wasInside:
			g.inside[key] = now
		case !contains && wasInside:
			delete(g.inside, key)
		}
		g.mu.Unlock()

		switch {
		case contains && !wasInside:
			if zone.OnEntry {
				g.fire(ctx, zone, node, "entered")
			}
		case !contains && wasInside:
			if zone.OnExit {
				g.fire(ctx, zone, node, "left")
			}
		case contains && wasInside && zone.WhileInsideMinutes > 0:
			period := time.Duration(zone.WhileInsideMinutes) * time.Minute
			if now.Sub(enteredAt) >= period {
				g.mu.Lock()
				g.inside[key] = now
				g.mu.Unlock()
				g.fire(ctx, zone, node, "inside")
			}
		}
	}
}

func (g *Geofence) fire(ctx context.Context, zone GeofenceZone, node domain.Node, event string) {
	g.logger.Info("geofence event", "zone", zone.Name, "node", node.NodeID(), "event", event)
	g.deps.audit(taskGeofence, node.NodeNum, event, zone.Name)

	params := map[string]string{
		"zone":  zone.Name,
		"node":  node.NodeID(),
		"name":  node.LongName,
		"event": event,
	}

	if zone.Script != "" {
		if _, err := runScript(ctx, zone.Script, params); err != nil {
			g.logger.Warn("geofence script failed", "zone", zone.Name, "error", err)
		}

		return
	}
	if zone.Text == "" || !g.deps.Radio.Ready() {
		return
	}

	text := expandParams(zone.Text, params)
	if !strings.Contains(zone.Text, "{") {
		text = fmt.Sprintf("%s %s %s", displayName(node), event, zone.Name)
	}
	if _, err := g.deps.Radio.SendText(ctx, domain.BroadcastNodeNum, zone.Channel, text); err != nil {
		g.logger.Warn("geofence send failed", "zone", zone.Name, "error", err)
	}
}

func displayName(node domain.Node) string {
	if node.LongName != "" {
		return node.LongName
	}

	return node.NodeID()
}

func zoneContains(zone GeofenceZone, lat, lon float64) bool {
	if zone.Circle != nil {
		c := zone.Circle

		return domain.HaversineMeters(c.Latitude, c.Longitude, lat, lon) <= c.RadiusMeters
	}

	return pointInPolygon(lat, lon, zone.Polygon)
}

// pointInPolygon is the even-odd ray cast over (lat, lon) vertex pairs.
func pointInPolygon(lat, lon float64, polygon [][2]float64) bool {
	inside := false
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, xi := polygon[i][0], polygon[i][1]
		yj, xj := polygon[j][0], polygon[j][1]

		intersects := (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi
		if intersects {
			inside = !inside
		}
	}

	return inside
}
