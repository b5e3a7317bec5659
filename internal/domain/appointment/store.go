package appointment

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/navimed/navimed/internal/platform/metrics"
)

// KeyPrefix namespaces each tenant's log in the backends.
const KeyPrefix = "unified_appointments:"

// createdAtLayout matches JavaScript's Date.toISOString.
const createdAtLayout = "2006-01-02T15:04:05.000Z"

func Key(tenantID string) string {
	return KeyPrefix + tenantID
}

// Options are shared by every Store built from them.
type Options struct {
	// Backends are read in order; the first holding a non-empty list wins.
	// Writes go to all of them.
	Backends  []Backend
	Notifiers []Notifier
	// Origin identifies this process on shared notifiers.
	Origin string
	Now    func() time.Time
	NewID  func(now time.Time) string
	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Origin == "" {
		o.Origin = uuid.NewString()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = NewID
	}
	return o
}

// NewID returns unified_<unix millis>_<9 base36 chars>.
func NewID(now time.Time) string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(suffix) < 9 {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}
	return fmt.Sprintf("unified_%d_%s", now.UnixMilli(), suffix[len(suffix)-9:])
}

// Store is one tenant's appointment log. Writes within a process are
// serialized; across processes the last write to each backend wins.
type Store struct {
	tenantID  string
	key       string
	backends  []Backend
	notifiers []Notifier
	origin    string
	now       func() time.Time
	newID     func(time.Time) string
	logger    zerolog.Logger

	mu sync.Mutex
}

func NewStore(tenantID string, opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		tenantID:  tenantID,
		key:       Key(tenantID),
		backends:  opts.Backends,
		notifiers: opts.Notifiers,
		origin:    opts.Origin,
		now:       opts.Now,
		newID:     opts.NewID,
		logger: opts.Logger.With().
			Str("component", "appointments").
			Str("tenant_id", tenantID).
			Logger(),
	}
}

func (s *Store) TenantID() string { return s.tenantID }

func (s *Store) Key() string { return s.key }

// GetAppointments returns a snapshot of the log. Unreadable backends are
// skipped; if none holds data the result is empty, never nil.
func (s *Store) GetAppointments(ctx context.Context) []Appointment {
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) []Appointment {
	for _, b := range s.backends {
		data, ok, err := b.Load(ctx, s.key)
		if err != nil {
			s.backendError(b, "load", err)
			continue
		}
		if !ok || len(data) == 0 {
			continue
		}
		var list []Appointment
		if err := json.Unmarshal(data, &list); err != nil {
			s.backendError(b, "decode", err)
			continue
		}
		if len(list) > 0 {
			return list
		}
	}
	return []Appointment{}
}

func (s *Store) persist(ctx context.Context, list []Appointment) ([]byte, error) {
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode appointments: %w", err)
	}
	var errs []error
	for _, b := range s.backends {
		if err := b.Save(ctx, s.key, data); err != nil {
			s.backendError(b, "save", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return data, errors.Join(errs...)
}

func (s *Store) backendError(b Backend, op string, err error) {
	metrics.AppointmentBackendErrors.WithLabelValues(b.Name(), op).Inc()
	s.logger.Error().Err(err).Str("backend", b.Name()).Str("op", op).Msg("appointment backend failed")
}

// CreateAppointment appends a new record and returns its id. On a storage
// failure it returns "" and no change is broadcast.
func (s *Store) CreateAppointment(ctx context.Context, in CreateInput) (string, error) {
	if err := in.Validate(); err != nil {
		metrics.AppointmentWrites.WithLabelValues("create", "invalid").Inc()
		return "", err
	}
	if in.TenantID != "" && in.TenantID != s.tenantID {
		metrics.AppointmentWrites.WithLabelValues("create", "invalid").Inc()
		return "", fmt.Errorf("%w: tenantId %q does not match %q", ErrValidation, in.TenantID, s.tenantID)
	}

	s.mu.Lock()
	now := s.now()
	appt := Appointment{
		ID:                   s.newID(now),
		PatientID:            in.PatientID,
		PatientName:          in.PatientName,
		PatientEmail:         in.PatientEmail,
		PatientPhone:         in.PatientPhone,
		DoctorID:             in.DoctorID,
		DoctorName:           in.DoctorName,
		DoctorSpecialization: in.DoctorSpecialization,
		Date:                 in.Date,
		Time:                 in.Time,
		Type:                 in.Type,
		Reason:               in.Reason,
		Status:               in.Status,
		Priority:             in.Priority,
		Notes:                in.Notes,
		CreatedAt:            now.UTC().Format(createdAtLayout),
		CreatedBy:            in.CreatedBy,
		CreatedByID:          in.CreatedByID,
		TenantID:             s.tenantID,
	}
	if appt.Status == "" {
		appt.Status = StatusScheduled
	}
	if appt.Priority == "" {
		appt.Priority = PriorityNormal
	}

	list := append(s.load(ctx), appt)
	data, err := s.persist(ctx, list)
	s.mu.Unlock()

	if err != nil {
		metrics.AppointmentWrites.WithLabelValues("create", "error").Inc()
		s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("failed to save appointment")
		return "", fmt.Errorf("save appointment: %w", err)
	}
	metrics.AppointmentWrites.WithLabelValues("create", "ok").Inc()
	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("created_by", appt.CreatedBy).
		Str("doctor_id", appt.DoctorID).
		Str("date", appt.Date).
		Msg("appointment created")

	s.publish(ctx, Change{Type: ChangeCreated, Record: &appt, Snapshot: data})
	return appt.ID, nil
}

// UpdateStatus sets the status of the record with the given id. It returns
// false without touching the log when no record matches.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	list := s.load(ctx)
	idx := -1
	for i := range list {
		if list[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		metrics.AppointmentWrites.WithLabelValues("update", "not_found").Inc()
		return false, nil
	}
	list[idx].Status = status
	record := list[idx]
	data, err := s.persist(ctx, list)
	s.mu.Unlock()

	if err != nil {
		metrics.AppointmentWrites.WithLabelValues("update", "error").Inc()
		s.logger.Error().Err(err).Str("appointment_id", id).Msg("failed to save status change")
		return false, fmt.Errorf("save status change: %w", err)
	}
	metrics.AppointmentWrites.WithLabelValues("update", "ok").Inc()
	s.logger.Info().Str("appointment_id", id).Str("status", string(status)).Msg("appointment status updated")

	s.publish(ctx, Change{Type: ChangeUpdated, Record: &record, Snapshot: data})
	return true, nil
}

// ClearAll removes the log from every backend.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	var errs []error
	for _, b := range s.backends {
		if err := b.Remove(ctx, s.key); err != nil {
			s.backendError(b, "remove", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	s.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		metrics.AppointmentWrites.WithLabelValues("clear", "error").Inc()
		return fmt.Errorf("clear appointments: %w", err)
	}
	metrics.AppointmentWrites.WithLabelValues("clear", "ok").Inc()
	s.logger.Info().Msg("appointment log cleared")

	s.publish(ctx, Change{Type: ChangeCleared, Snapshot: json.RawMessage("[]")})
	return nil
}

func (s *Store) publish(ctx context.Context, c Change) {
	c.Key = s.key
	c.TenantID = s.tenantID
	c.Origin = s.origin
	c.Timestamp = s.now()
	for _, n := range s.notifiers {
		if err := n.Publish(ctx, c); err != nil {
			s.logger.Warn().Err(err).Str("change", c.Type).Msg("failed to publish change")
		}
	}
}

// Subscribe calls cb with the full log after every change to it. The
// returned function detaches cb and may be called more than once.
func (s *Store) Subscribe(cb func([]Appointment)) func() {
	unsubs := make([]func(), 0, len(s.notifiers))
	for _, n := range s.notifiers {
		unsubs = append(unsubs, n.Subscribe(func(c Change) {
			if c.Key != s.key {
				return
			}
			cb(s.GetAppointments(context.Background()))
		}))
	}
	metrics.AppointmentSubscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
			metrics.AppointmentSubscribers.Dec()
		})
	}
}

// Replicate copies snapshots published by other processes into the
// process-local backends, so reads here see writes made elsewhere. It must
// be started before any Subscribe so local state is current when
// subscribers re-read.
func (s *Store) Replicate() func() {
	unsubs := make([]func(), 0, len(s.notifiers))
	for _, n := range s.notifiers {
		unsubs = append(unsubs, n.Subscribe(s.applyRemote))
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
		})
	}
}

func (s *Store) applyRemote(c Change) {
	if c.Key != s.key || c.Origin == s.origin {
		return
	}
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.backends {
		if _, ok := b.(replica); !ok {
			continue
		}
		var err error
		if c.Type == ChangeCleared || len(c.Snapshot) == 0 {
			err = b.Remove(ctx, s.key)
		} else {
			err = b.Save(ctx, s.key, c.Snapshot)
		}
		if err != nil {
			s.backendError(b, "replicate", err)
		}
	}
	s.logger.Debug().Str("change", c.Type).Str("origin", c.Origin).Msg("applied remote change")
}

func (s *Store) filter(ctx context.Context, keep func(Appointment) bool) []Appointment {
	out := []Appointment{}
	for _, a := range s.load(ctx) {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) DoctorAppointments(ctx context.Context, doctorID string) []Appointment {
	return s.filter(ctx, func(a Appointment) bool { return a.DoctorID == doctorID })
}

func (s *Store) PatientAppointments(ctx context.Context, patientID string) []Appointment {
	return s.filter(ctx, func(a Appointment) bool { return a.PatientID == patientID })
}

// TodayAppointments returns records dated today in UTC.
func (s *Store) TodayAppointments(ctx context.Context) []Appointment {
	today := s.now().UTC().Format("2006-01-02")
	return s.filter(ctx, func(a Appointment) bool { return a.Date == today })
}

func (s *Store) GetByID(ctx context.Context, id string) (Appointment, error) {
	for _, a := range s.load(ctx) {
		if a.ID == id {
			return a, nil
		}
	}
	return Appointment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}
