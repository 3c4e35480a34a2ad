package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRetention is how long audit events are kept by default
const DefaultRetention = 90 * 24 * time.Hour

// Janitor is a cron job that deletes audit events past their retention
type Janitor struct {
	logger    *DBLogger
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time
	log       *logrus.Logger
}

// NewJanitor creates a janitor keeping events for retention
func NewJanitor(logger *DBLogger, retention time.Duration, log *logrus.Logger) *Janitor {
	if log == nil {
		log = logrus.New()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Janitor{
		logger:    logger,
		retention: retention,
		timeout:   time.Minute,
		now:       time.Now,
		log:       log,
	}
}

// Run purges once
func (j *Janitor) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	n, err := j.logger.Purge(ctx, cutoff)
	if err != nil {
		j.log.WithError(err).Error("audit purge failed")
		return
	}
	j.log.WithFields(logrus.Fields{"purged": n, "cutoff": cutoff}).Info("purged audit events")
}
