package auth

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// TokenJanitor purges tokens that have been inactive for longer than the
// retention period. It implements cron.Job.
type TokenJanitor struct {
	store     *TokenStore
	retention time.Duration
	timeout   time.Duration
	log       *logrus.Logger
}

// NewTokenJanitor creates a janitor keeping revoked and expired tokens for retention
func NewTokenJanitor(store *TokenStore, retention time.Duration, log *logrus.Logger) *TokenJanitor {
	if log == nil {
		log = logrus.New()
	}
	return &TokenJanitor{
		store:     store,
		retention: retention,
		timeout:   time.Minute,
		log:       log,
	}
}

// Run purges once
func (j *TokenJanitor) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	cutoff := j.store.now().Add(-j.retention)
	n, err := j.store.PurgeInactive(ctx, cutoff)
	if err != nil {
		j.log.WithError(err).Error("token purge failed")
		return
	}
	j.log.WithFields(logrus.Fields{"purged": n, "cutoff": cutoff}).Info("purged inactive tokens")
}
