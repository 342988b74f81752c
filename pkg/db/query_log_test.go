package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

func TestQueryLoggerWritesOnlyFailuresAndSlowQueries(t *testing.T) {
	var buf bytes.Buffer
	ql := newQueryLogger(logger.New(logger.Options{ServiceName: "test", Output: &buf}), 50*time.Millisecond)
	ctx := context.Background()
	stmt := func() (string, int64) { return "SELECT * FROM channels", 1 }

	ql.Trace(ctx, time.Now(), stmt, nil)
	ql.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("expected fast and not-found queries to stay quiet, got %s", buf.String())
	}

	ql.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	if !strings.Contains(buf.String(), "slow query") {
		t.Fatalf("expected slow query line, got %s", buf.String())
	}

	buf.Reset()
	ql.Trace(ctx, time.Now(), stmt, errors.New("relation does not exist"))
	if !strings.Contains(buf.String(), "query failed") || !strings.Contains(buf.String(), "SELECT * FROM channels") {
		t.Fatalf("expected failed query line with sql, got %s", buf.String())
	}

	buf.Reset()
	silent := ql.LogMode(gormlogger.Silent)
	silent.Trace(ctx, time.Now(), stmt, errors.New("ignored"))
	if buf.Len() != 0 {
		t.Fatalf("silent mode should not log, got %s", buf.String())
	}
}
