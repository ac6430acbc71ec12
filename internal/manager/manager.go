// Package manager owns the live fleet: it syncs the inventory snapshot
// into concrete device/tag/location instances, runs the top-level
// per-device update loop, and is the single point where bus topics are
// translated into device/group method calls and event fan-out.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleethub/internal/capability"
	"fleethub/internal/capability/credstore"
	"fleethub/internal/config"
	"fleethub/internal/device"
	"fleethub/internal/group"
	"fleethub/internal/inventory"
	"fleethub/internal/metrics"
	"fleethub/internal/scheduler"
	"fleethub/internal/store"
	"fleethub/pkg/fleet"
)

// Bus is the subset of bus.Client the manager needs: subscribing to
// command topics and publishing events, independent of the concrete
// transport so tests can substitute an in-memory double.
type Bus interface {
	Subscribe(filter string, handler func(topic string, payload []byte))
	Publish(topic string, payload []byte, qos byte)
}

// Manager holds the live device/tag/location set and drives inventory
// sync, the update loop, and bus-triggered command dispatch.
type Manager struct {
	cfg    config.Config
	logger *slog.Logger
	bus    Bus
	inv    *inventory.Client
	audit  *store.AuditLog

	webos *capability.WebOSAdapter

	mu        sync.RWMutex
	devices   map[int]device.Controllable
	byName    map[string]device.Controllable
	tags      map[int]*group.Tag
	locations map[int]*group.Location
}

// New constructs a Manager. cfg.WebOSCredentialPath backs the WebOS
// pairing credential store shared by every WebOSTV instance.
func New(cfg config.Config, logger *slog.Logger, bus Bus, inv *inventory.Client, audit *store.AuditLog) (*Manager, error) {
	credStore, err := credstore.Open(cfg.WebOSCredentialPath)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		inv:       inv,
		audit:     audit,
		webos:     capability.NewWebOSAdapter(credStore),
		devices:   make(map[int]device.Controllable),
		byName:    make(map[string]device.Controllable),
		tags:      make(map[int]*group.Tag),
		locations: make(map[int]*group.Location),
	}
	m.registerRoutes()
	return m, nil
}

// DeviceByName implements device.Manager, letting WOLable/Computer
// resolve a named PDU peer to flip a power feed.
func (m *Manager) DeviceByName(name string) (device.Controllable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byName[name]
	return d, ok
}

// Run starts inventory sync (blocking until the first snapshot succeeds)
// and then the periodic sync and update-tick loops, until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	inv, err := m.inv.FetchRetryIndefinitely(ctx, 5*time.Second, func(err error) {
		m.logger.Warn("initial inventory fetch failed, retrying", "err", err)
	})
	if err != nil {
		return err
	}
	m.applyInventory(inv)

	go scheduler.RunTimedLoop(ctx, m.logger, 30*time.Second, func(tickCtx context.Context) {
		snap, err := m.inv.Fetch(tickCtx)
		if err != nil {
			m.logger.Warn("inventory sync failed", "err", err)
			return
		}
		m.applyInventory(snap)
	})

	scheduler.RunTimedLoop(ctx, m.logger, m.cfg.UpdateTickInterval, m.updateAll)
	return nil
}

func (m *Manager) updateAll(ctx context.Context) {
	m.mu.RLock()
	devices := make([]device.Controllable, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	m.mu.RUnlock()

	for _, d := range devices {
		go d.Update(ctx)
	}

	counts := map[string]map[string]int{}
	for _, d := range devices {
		class := string(d.Class())
		if counts[class] == nil {
			counts[class] = map[string]int{}
		}
		counts[class][string(d.IsOnline())]++
	}
	for class, byState := range counts {
		for state, n := range byState {
			metrics.SetDevicesByState(class, state, n)
		}
	}
}

// applyInventory reconciles the live device/tag/location maps against a
// freshly fetched snapshot: existing devices get SetData, new ones are
// constructed by class, and tags/locations are rebuilt from the
// resolved device set.
func (m *Manager) applyInventory(inv fleet.Inventory) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[int]bool, len(inv.Devices))
	for _, rec := range inv.Devices {
		seen[rec.ID] = true
		if existing, ok := m.devices[rec.ID]; ok {
			existing.SetData(rec)
			continue
		}
		d, err := m.construct(rec)
		if err != nil {
			m.logger.Warn("failed to construct device", "name", rec.Name, "err", err)
			continue
		}
		m.devices[rec.ID] = d
		m.byName[rec.Name] = d
	}
	for id, d := range m.devices {
		if !seen[id] {
			d.Cancel()
			delete(m.devices, id)
			delete(m.byName, d.Name())
		}
	}

	for _, rec := range inv.Tags {
		t, ok := m.tags[rec.ID]
		if !ok {
			t = group.NewTag(m.emitTagEvent, rec)
			m.tags[rec.ID] = t
		}
		t.SetDevices(m.resolveDevices(rec.DeviceIDs))
	}
	for id := range m.tags {
		if !tagPresent(inv.Tags, id) {
			delete(m.tags, id)
		}
	}

	for _, rec := range inv.Locations {
		l, ok := m.locations[rec.ID]
		if !ok {
			l = group.NewLocation(m.emitLocationEvent, rec)
			m.locations[rec.ID] = l
		}
		elements := m.elementsForLocation(rec, inv.Tags)
		l.SetDevices(m.resolveDevices(rec.DeviceIDs), elements)
	}
	for id := range m.locations {
		if !locationPresent(inv.Locations, id) {
			delete(m.locations, id)
		}
	}
}

// elementsForLocation resolves the devices of a location's tags
// described as E-Nummer elements, grounded on original_source/
// locations.py's Location class, which tracks its power-actuation
// elements separately from its full room device list. A location with
// no E-Nummer tag gets its full device list as its elements.
func (m *Manager) elementsForLocation(rec fleet.LocationRecord, tags []fleet.TagRecord) []device.Controllable {
	var elementIDs []int
	for _, tagID := range rec.TagIDs {
		for _, t := range tags {
			if t.ID == tagID && t.Description == fleet.ENummerTagDescription {
				elementIDs = append(elementIDs, t.DeviceIDs...)
			}
		}
	}
	if elementIDs == nil {
		return m.resolveDevices(rec.DeviceIDs)
	}
	return m.resolveDevices(elementIDs)
}

func (m *Manager) resolveDevices(ids []int) []device.Controllable {
	out := make([]device.Controllable, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.devices[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

func tagPresent(tags []fleet.TagRecord, id int) bool {
	for _, t := range tags {
		if t.ID == id {
			return true
		}
	}
	return false
}

func locationPresent(locations []fleet.LocationRecord, id int) bool {
	for _, l := range locations {
		if l.ID == id {
			return true
		}
	}
	return false
}

// construct builds the concrete device implementation for rec's
// resolved class, wiring in the per-class adapter credentials from
// configuration.
func (m *Manager) construct(rec fleet.DeviceRecord) (device.Controllable, error) {
	emit := m.emitDeviceEvent
	switch device.ResolveClass(rec) {
	case device.ClassGudePDU:
		return device.NewGudePDU(m, emit, m.logger, rec, m.cfg.SNMPCommunity)
	case device.ClassPJLink:
		return device.NewPJLinkDevice(m, emit, m.logger, rec, m.cfg.PJLinkPassword), nil
	case device.ClassWebOSTV:
		return device.NewWebOSTV(m, emit, m.logger, rec, m.webos), nil
	case device.ClassBrightSign:
		return device.NewBrightSign(m, emit, m.logger, rec, m.cfg.BrightSignUsername, m.cfg.BrightSignPassword), nil
	case device.ClassComputer:
		return device.NewComputer(m, emit, m.logger, rec, m.bus), nil
	case device.ClassWOLable:
		return device.NewWOLable(m, emit, m.logger, rec), nil
	default:
		return device.NewICMPable(m, emit, m.logger, rec, true), nil
	}
}

func (m *Manager) deviceByID(id int) (device.Controllable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

func (m *Manager) tagByID(id int) (*group.Tag, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tags[id]
	return t, ok
}

func (m *Manager) locationByID(id int) (*group.Location, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locations[id]
	return l, ok
}
