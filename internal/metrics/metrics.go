package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// Wizard steps by the state that consumed the input and the outcome
	// ("advanced", "invalid", "submitted", "failed").
	WizardSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbot_wizard_steps_total",
			Help: "Total number of processed task wizard inputs",
		},
		[]string{"state", "outcome"},
	)

	WizardEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskbot_wizard_evictions_total",
			Help: "Total number of idle drafts dropped by the sweeper",
		},
	)

	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbot_commands_total",
			Help: "Total number of handled chat commands",
		},
		[]string{"command"},
	)

	TasksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskbot_tasks_created_total",
			Help: "Total number of tasks saved",
		},
	)

	TasksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskbot_tasks_completed_total",
			Help: "Total number of tasks marked completed",
		},
	)

	PointsAwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskbot_points_awarded_total",
			Help: "Total number of points awarded for completed tasks",
		},
	)

	RemindersScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbot_reminders_scheduled_total",
			Help: "Total number of reminder jobs registered",
		},
		[]string{"kind"},
	)

	// Fired reminders by kind and result ("delivered", "failed").
	RemindersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbot_reminders_fired_total",
			Help: "Total number of reminder jobs fired",
		},
		[]string{"kind", "result"},
	)
)

// RegisterGauges exposes the current number of open drafts and pending
// reminder jobs. It must be called once per process.
func RegisterGauges(drafts, pendingReminders func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "taskbot_wizard_drafts",
		Help: "Current number of open task drafts",
	}, func() float64 { return float64(drafts()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "taskbot_reminders_pending",
		Help: "Current number of reminder jobs waiting to fire",
	}, func() float64 { return float64(pendingReminders()) })
}

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs the metrics listener until ctx is cancelled.
func Serve(ctx context.Context, addr string, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("metrics listener shutdown")
		}
	}()

	log.WithField("addr", addr).Info("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
