package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"crash-game/internal/metrics"
	"crash-game/internal/models"
	"crash-game/internal/realtime"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ControlChannel is the postgres NOTIFY channel for switch changes
const ControlChannel = "control_flags"

// EventPublisher receives engine events
type EventPublisher interface {
	Publish(p realtime.Payload) uint64
}

// ControlService owns the kill switches and incidents. Reads are served
// from memory; until the first successful load, and after a failed
// refresh, every switch reads as engaged.
type ControlService struct {
	db        *gorm.DB
	publisher EventPublisher

	mu      sync.RWMutex
	flags   map[string]models.ControlFlag
	healthy bool
}

func NewControlService(db *gorm.DB, publisher EventPublisher) *ControlService {
	return &ControlService{
		db:        db,
		publisher: publisher,
		flags:     make(map[string]models.ControlFlag),
	}
}

// Refresh reloads the switches from the database
func (s *ControlService) Refresh(ctx context.Context) error {
	var rows []models.ControlFlag
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		s.mu.Lock()
		s.healthy = false
		s.mu.Unlock()
		return fmt.Errorf("failed to load control flags: %w", err)
	}

	flags := make(map[string]models.ControlFlag, len(rows))
	for _, f := range rows {
		flags[f.Name] = f
	}

	s.mu.Lock()
	s.flags = flags
	s.healthy = true
	s.mu.Unlock()
	return nil
}

// IsPaused reports whether the named switch is engaged
func (s *ControlService) IsPaused(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.healthy {
		return true
	}
	return s.flags[name].Enabled
}

// Flags returns every known switch with its current state
func (s *ControlService) Flags() []models.ControlFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ControlFlag, 0, len(models.AllSwitches))
	for _, name := range models.AllSwitches {
		f, ok := s.flags[name]
		if !ok {
			f = models.ControlFlag{Name: name}
		}
		out = append(out, f)
	}
	return out
}

// SetSwitch engages or clears a switch. A switch held by an open incident
// cannot be cleared.
func (s *ControlService) SetSwitch(ctx context.Context, name string, enabled bool, actor, reason string) (*models.ControlFlag, error) {
	if !models.IsKnownSwitch(name) {
		return nil, ErrUnknownSwitch
	}

	flag := models.ControlFlag{
		Name:      name,
		Enabled:   enabled,
		Reason:    reason,
		UpdatedBy: actor,
		UpdatedAt: time.Now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !enabled {
			var open []models.Incident
			if err := tx.Where("status = ?", models.IncidentOpen).Find(&open).Error; err != nil {
				return err
			}
			for i := range open {
				if open[i].HoldsSwitch(name) {
					return fmt.Errorf("%w: incident %s (%s)", ErrIncidentOpen, open[i].ID, open[i].Kind)
				}
			}
		}
		return upsertFlag(tx, &flag)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.flags[name] = flag
	s.mu.Unlock()
	s.notify(ctx, name)

	log.Printf("[Control] %s set %s=%v (%s)", actor, name, enabled, reason)
	if enabled {
		s.publisher.Publish(realtime.EnginePaused{Switch: name, Reason: reason})
	}
	return &flag, nil
}

// RaiseIncident records a fault and engages the switches its kind calls
// for. An open incident with the same kind and subject is returned instead
// of creating another.
func (s *ControlService) RaiseIncident(ctx context.Context, kind models.IncidentKind, subject, detail string) (*models.Incident, error) {
	var existing models.Incident
	err := s.db.WithContext(ctx).
		Where("kind = ? AND subject = ? AND status = ?", kind, subject, models.IncidentOpen).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	switches := kind.Switches()
	incident := models.Incident{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    models.IncidentOpen,
		Subject:   subject,
		Detail:    detail,
		Switches:  strings.Join(switches, ","),
		CreatedAt: time.Now(),
	}

	reason := fmt.Sprintf("%s: %s", kind, subject)
	flags := make([]models.ControlFlag, 0, len(switches))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&incident).Error; err != nil {
			return fmt.Errorf("failed to create incident: %w", err)
		}
		for _, name := range switches {
			flag := models.ControlFlag{
				Name:      name,
				Enabled:   true,
				Reason:    reason,
				UpdatedBy: "incident:" + incident.ID,
				UpdatedAt: incident.CreatedAt,
			}
			if err := upsertFlag(tx, &flag); err != nil {
				return err
			}
			flags = append(flags, flag)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, f := range flags {
		s.flags[f.Name] = f
	}
	s.mu.Unlock()

	metrics.Incidents.WithLabelValues(string(kind)).Inc()
	log.Printf("[Control] INCIDENT %s %s: %s (switches: %s)", incident.ID, kind, detail, incident.Switches)
	for _, name := range switches {
		s.notify(ctx, name)
		s.publisher.Publish(realtime.EnginePaused{Switch: name, Reason: reason, IncidentID: incident.ID})
	}
	return &incident, nil
}

// ResolveIncident closes an incident. Its switches stay engaged until an
// operator clears them.
func (s *ControlService) ResolveIncident(ctx context.Context, id, actor, resolution string) (*models.Incident, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Incident{}).
		Where("id = ? AND status = ?", id, models.IncidentOpen).
		Updates(map[string]interface{}{
			"status":      models.IncidentResolved,
			"resolution":  resolution,
			"resolved_by": actor,
			"resolved_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	var incident models.Incident
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&incident).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIncidentNotFound
		}
		return nil, err
	}
	if res.RowsAffected == 1 {
		log.Printf("[Control] incident %s resolved by %s", id, actor)
	}
	return &incident, nil
}

// ListIncidents returns incidents newest first, optionally filtered by status
func (s *ControlService) ListIncidents(ctx context.Context, status string, limit int) ([]models.Incident, error) {
	var incidents []models.Incident
	query := s.db.WithContext(ctx).Model(&models.Incident{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("created_at DESC").Limit(limit).Find(&incidents).Error
	return incidents, err
}

// Watch refreshes the switches every interval until ctx ends
func (s *ControlService) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				log.Printf("[Control] refresh failed, failing closed: %v", err)
			}
		}
	}
}

// Listen refreshes the switches whenever another process changes them.
// Postgres only.
func (s *ControlService) Listen(ctx context.Context, dsn string) error {
	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("[Control] listener event %d: %v", ev, err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(ControlChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ControlChannel, err)
	}
	log.Printf("[Control] listening for switch changes on %s", ControlChannel)

	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-listener.Notify:
			// a nil notification follows a reconnect; refresh either way
			if err := s.Refresh(ctx); err != nil {
				log.Printf("[Control] refresh after notify failed: %v", err)
			}
		case <-keepalive.C:
			go listener.Ping()
		}
	}
}

func (s *ControlService) notify(ctx context.Context, name string) {
	if s.db.Dialector.Name() != "postgres" {
		return
	}
	if err := s.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", ControlChannel, name).Error; err != nil {
		log.Printf("[Control] pg_notify failed: %v", err)
	}
}

func upsertFlag(tx *gorm.DB, flag *models.ControlFlag) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "reason", "updated_by", "updated_at"}),
	}).Create(flag).Error
}
