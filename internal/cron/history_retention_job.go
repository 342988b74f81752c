package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

const defaultRetentionDays = 30

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Pruner deletes one table's rows older than cutoff and returns the count.
type Pruner struct {
	Name  string
	Prune func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type HistoryRetentionJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Retention int
	Pruners   []Pruner
}

// NewHistoryRetentionJob trims published outbox rows, finished sync
// operations and webhook logs past the retention window. Each pruner runs in
// its own transaction.
func NewHistoryRetentionJob(params HistoryRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if len(params.Pruners) == 0 {
		return nil, fmt.Errorf("at least one pruner required")
	}
	for _, p := range params.Pruners {
		if p.Name == "" || p.Prune == nil {
			return nil, fmt.Errorf("pruner needs a name and a prune func")
		}
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultRetentionDays
	}
	return &historyRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		retention: retention,
		pruners:   params.Pruners,
		now:       time.Now,
	}, nil
}

type historyRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	retention int
	pruners   []Pruner
	now       func() time.Time
}

func (j *historyRetentionJob) Name() string { return "history_retention" }

func (j *historyRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)
	deleted := make(map[string]any, len(j.pruners))
	var errs error
	for _, p := range j.pruners {
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = p.Prune(ctx, tx, cutoff)
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prune %s: %w", p.Name, err))
			continue
		}
		deleted[p.Name] = n
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "history retention sweep complete")
	return errs
}
