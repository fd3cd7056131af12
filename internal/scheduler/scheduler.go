// Package scheduler runs the time-driven work: appointment reminders, the
// scheduled-app tick, log retention and the connected-app health sweep.
// It is driven from outside (HTTP trigger or Lambda) once per tick interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/medspa-scheduling/internal/appointments"
	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/commlog"
	"github.com/wolfman30/medspa-scheduling/internal/fanout"
	"github.com/wolfman30/medspa-scheduling/internal/observability/metrics"
	"github.com/wolfman30/medspa-scheduling/internal/settings"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

const (
	defaultTick        = time.Minute
	defaultRetention   = 30 * 24 * time.Hour
	defaultWorkers     = 8
	defaultTaskTimeout = 20 * time.Second
)

var (
	errDuplicate = errors.New("scheduler: reminder already claimed")
	errNoChannel = errors.New("scheduler: no reachable channel")
)

// AppointmentSource lists appointments by start time.
type AppointmentSource interface {
	ListStarting(ctx context.Context, from, to time.Time) ([]*appointments.Appointment, error)
}

// AppSource is the subset of apps.Service the scheduler uses.
type AppSource interface {
	Get(ctx context.Context, id string) (*apps.ConnectedApp, error)
	ListByScope(ctx context.Context, scope apps.Scope, statuses ...apps.Status) ([]*apps.ConnectedApp, error)
	Instantiate(app *apps.ConnectedApp) (*apps.Instance, error)
	CheckHealth(ctx context.Context) (apps.HealthReport, error)
}

// ReminderReport counts reminder outcomes for one tick.
type ReminderReport struct {
	Due         int `json:"due"`
	Sent        int `json:"sent"`
	Duplicate   int `json:"duplicate"`
	Unreachable int `json:"unreachable"`
	Failed      int `json:"failed"`
}

// TaskReport counts scheduled-app runs for one tick.
type TaskReport struct {
	Run    int      `json:"run"`
	Failed []string `json:"failed,omitempty"`
}

// TickReport is the summary returned by Tick.
type TickReport struct {
	Ref       time.Time      `json:"ref"`
	Reminders ReminderReport `json:"reminders"`
	Scheduled TaskReport     `json:"scheduled"`
}

// CleanupReport is the summary returned by Cleanup.
type CleanupReport struct {
	Cutoff          time.Time         `json:"cutoff"`
	LogsDeleted     int64             `json:"logs_deleted"`
	RemindersPruned int64             `json:"reminders_pruned"`
	Health          apps.HealthReport `json:"health"`
}

// Scheduler owns the periodic jobs.
type Scheduler struct {
	appointments AppointmentSource
	apps         AppSource
	logs         commlog.Store
	ledger       Ledger
	settings     settings.Provider
	logger       *logging.Logger
	metrics      *metrics.SchedulingMetrics

	tick        time.Duration
	retention   time.Duration
	workers     int
	taskTimeout time.Duration
	now         func() time.Time
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithTickInterval sets the width of the reminder window scanned per tick. It
// must match how often Tick is triggered.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithRetention sets how long communication logs are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithTaskTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.taskTimeout = d
		}
	}
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func New(appts AppointmentSource, appSource AppSource, logs commlog.Store, ledger Ledger, provider settings.Provider, logger *logging.Logger, opts ...Option) *Scheduler {
	if appts == nil || appSource == nil || logs == nil || ledger == nil || provider == nil {
		panic("scheduler: appointments, apps, logs, ledger and settings are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Scheduler{
		appointments: appts,
		apps:         appSource,
		logs:         logs,
		ledger:       ledger,
		settings:     provider,
		logger:       logger,
		tick:         defaultTick,
		retention:    defaultRetention,
		workers:      defaultWorkers,
		taskTimeout:  defaultTaskTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type reminderJob struct {
	appt   *appointments.Appointment
	offset time.Duration
}

type channels struct {
	mail      apps.MailSender
	mailAppID string
	text      apps.TextSender
	textAppID string
}

// Tick sends the reminders due in [ref+offset, ref+offset+tick) for every
// configured offset, then runs every connected scheduled app.
func (s *Scheduler) Tick(ctx context.Context, ref time.Time) (*TickReport, error) {
	ref = ref.UTC()
	report := &TickReport{Ref: ref}

	booking, err := s.settings.Booking(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load booking settings: %w", err)
	}
	comms, err := s.settings.Communications(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load communications settings: %w", err)
	}
	general, err := s.settings.General(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load general settings: %w", err)
	}

	var jobs []reminderJob
	for _, offset := range booking.ReminderOffsets() {
		from := ref.Add(offset)
		due, err := s.appointments.ListStarting(ctx, from, from.Add(s.tick))
		if err != nil {
			return nil, fmt.Errorf("scheduler: list due appointments: %w", err)
		}
		for _, appt := range due {
			jobs = append(jobs, reminderJob{appt: appt, offset: offset})
		}
	}
	report.Reminders.Due = len(jobs)

	if len(jobs) > 0 {
		ch := s.resolveChannels(ctx, comms)
		outcomes := fanout.Run(ctx, jobs, fanout.Options{Workers: s.workers, TaskTimeout: s.taskTimeout}, func(ctx context.Context, job reminderJob) error {
			return s.remind(ctx, job, ch, comms, general)
		})
		for _, o := range outcomes {
			switch {
			case o.Err == nil:
				report.Reminders.Sent++
			case errors.Is(o.Err, errDuplicate):
				report.Reminders.Duplicate++
			case errors.Is(o.Err, errNoChannel):
				report.Reminders.Unreachable++
			default:
				report.Reminders.Failed++
				s.logger.Warn("reminder failed", "appointment_id", o.Item.appt.ID, "offset", o.Item.offset, "error", o.Err)
			}
		}
	}

	report.Scheduled = s.runScheduled(ctx, ref)

	s.logger.Info("scheduler tick",
		"ref", ref,
		"reminders_due", report.Reminders.Due,
		"reminders_sent", report.Reminders.Sent,
		"reminders_failed", report.Reminders.Failed,
		"scheduled_run", report.Scheduled.Run,
		"scheduled_failed", len(report.Scheduled.Failed),
	)
	return report, nil
}

func (s *Scheduler) runScheduled(ctx context.Context, ref time.Time) TaskReport {
	var report TaskReport
	list, err := s.apps.ListByScope(ctx, apps.ScopeScheduled)
	if err != nil {
		s.logger.Error("list scheduled apps failed", "error", err)
		return report
	}
	outcomes := fanout.Run(ctx, list, fanout.Options{Workers: s.workers, TaskTimeout: s.taskTimeout}, func(ctx context.Context, app *apps.ConnectedApp) error {
		inst, err := s.apps.Instantiate(app)
		if err != nil {
			return err
		}
		task, ok := inst.ScheduledTask()
		if !ok {
			return apps.ErrCapabilityMissing
		}
		return task.OnTime(ctx, ref)
	})
	for _, o := range outcomes {
		s.metrics.ObserveAppCall("scheduled", o.Err, o.Duration)
		report.Run++
		if o.Err != nil {
			s.logger.Warn("scheduled app failed", "app_id", o.Item.ID, "app", o.Item.Name, "error", o.Err)
			report.Failed = append(report.Failed, o.Item.ID)
		}
	}
	return report
}

// resolveChannels picks the configured mail and text apps, falling back to
// the first connected app of each scope.
func (s *Scheduler) resolveChannels(ctx context.Context, comms settings.Communications) channels {
	var ch channels
	if comms.EmailReminders {
		if inst := s.pick(ctx, comms.MailAppID, apps.ScopeMailSend); inst != nil {
			if sender, ok := inst.MailSender(); ok {
				ch.mail, ch.mailAppID = sender, inst.App.ID
			}
		}
	}
	if comms.TextReminders {
		if inst := s.pick(ctx, comms.TextAppID, apps.ScopeTextMessageSend); inst != nil {
			if sender, ok := inst.TextSender(); ok {
				ch.text, ch.textAppID = sender, inst.App.ID
			}
		}
	}
	return ch
}

func (s *Scheduler) pick(ctx context.Context, appID string, scope apps.Scope) *apps.Instance {
	if appID != "" {
		inst, err := s.configured(ctx, appID, scope)
		if err == nil {
			return inst
		}
		s.logger.Warn("configured app unusable, falling back", "app_id", appID, "scope", scope, "error", err)
	}
	list, err := s.apps.ListByScope(ctx, scope)
	if err != nil {
		s.logger.Error("list apps failed", "scope", scope, "error", err)
		return nil
	}
	for _, app := range list {
		inst, err := s.apps.Instantiate(app)
		if err != nil {
			s.logger.Warn("connected app build failed", "app_id", app.ID, "error", err)
			continue
		}
		return inst
	}
	return nil
}

func (s *Scheduler) configured(ctx context.Context, appID string, scope apps.Scope) (*apps.Instance, error) {
	app, err := s.apps.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.Status != apps.StatusConnected {
		return nil, fmt.Errorf("app is %s", app.Status)
	}
	if !app.HasScope(scope) {
		return nil, apps.ErrCapabilityMissing
	}
	return s.apps.Instantiate(app)
}

func (s *Scheduler) remind(ctx context.Context, job reminderJob, ch channels, comms settings.Communications, general settings.General) error {
	appt := job.appt
	email := strings.TrimSpace(appt.Fields["email"])
	phone := strings.TrimSpace(appt.Fields["phone"])
	canMail := ch.mail != nil && email != ""
	canText := ch.text != nil && phone != ""
	if !canMail && !canText {
		s.metrics.ObserveReminder("none", "unreachable")
		return errNoChannel
	}

	claimed, err := s.ledger.Claim(ctx, ReminderKey{AppointmentID: appt.ID, Offset: job.offset, Start: appt.Start}, s.now())
	if err != nil {
		return err
	}
	if !claimed {
		return errDuplicate
	}

	body := reminderText(appt, general)
	var errs []error
	if canMail {
		msg := apps.MailMessage{
			To:            []string{email},
			ToName:        appt.Fields["name"],
			Subject:       comms.ReminderSubject,
			Text:          body,
			AppointmentID: appt.ID,
		}
		err := ch.mail.SendMail(ctx, msg)
		s.record(ctx, commlog.ChannelEmail, ch.mailAppID, "", msg.To, msg.Subject, body, appt.ID, err)
		errs = append(errs, err)
	}
	if canText {
		msg := apps.TextMessage{To: phone, From: comms.FromNumber, Body: body, AppointmentID: appt.ID}
		err := ch.text.SendText(ctx, msg)
		s.record(ctx, commlog.ChannelSMS, ch.textAppID, comms.FromNumber, []string{phone}, "", body, appt.ID, err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// record logs a sent message and counts the outcome. Failed sends are not logged.
func (s *Scheduler) record(ctx context.Context, channel commlog.Channel, appID, from string, to []string, subject, body, appointmentID string, sendErr error) {
	if sendErr != nil {
		s.metrics.ObserveReminder(string(channel), "failed")
		s.logger.Warn("reminder send failed", "channel", channel, "app_id", appID, "appointment_id", appointmentID, "error", sendErr)
		return
	}
	s.metrics.ObserveReminder(string(channel), "sent")
	entry := &commlog.Entry{
		Channel:       channel,
		Direction:     commlog.DirectionOutbound,
		From:          from,
		To:            to,
		Subject:       subject,
		Text:          body,
		AppID:         appID,
		AppointmentID: appointmentID,
		DateTime:      s.now(),
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Warn("communication log append failed", "appointment_id", appointmentID, "error", err)
	}
}

func reminderText(appt *appointments.Appointment, general settings.General) string {
	loc, err := time.LoadLocation(appt.Timezone)
	if err != nil {
		loc = time.UTC
	}
	when := appt.Start.In(loc).Format("Mon, Jan 2 at 3:04 PM MST")
	var b strings.Builder
	if name := strings.TrimSpace(appt.Fields["name"]); name != "" {
		fmt.Fprintf(&b, "Hi %s, ", name)
	}
	b.WriteString("this is a reminder of your appointment")
	if general.Name != "" {
		fmt.Fprintf(&b, " with %s", general.Name)
	}
	fmt.Fprintf(&b, " on %s.", when)
	if appt.Status == appointments.StatusPending {
		b.WriteString(" It is still awaiting confirmation.")
	}
	return b.String()
}

// Cleanup deletes communication logs and reminder claims past retention and
// runs the connected-app health sweep.
func (s *Scheduler) Cleanup(ctx context.Context, now time.Time) (*CleanupReport, error) {
	cutoff := now.UTC().Add(-s.retention)
	report := &CleanupReport{Cutoff: cutoff}
	var errs []error

	deleted, err := s.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("scheduler: delete logs: %w", err))
	}
	report.LogsDeleted = deleted

	pruned, err := s.ledger.Prune(ctx, cutoff)
	if err != nil {
		errs = append(errs, err)
	}
	report.RemindersPruned = pruned

	health, err := s.apps.CheckHealth(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("scheduler: health sweep: %w", err))
	}
	report.Health = health

	s.logger.Info("scheduler cleanup",
		"cutoff", cutoff,
		"logs_deleted", deleted,
		"reminders_pruned", pruned,
		"apps_failed", len(health.Failed),
		"apps_recovered", len(health.Recovered),
	)
	return report, errors.Join(errs...)
}
