package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/reelqueue/internal/application"
	"github.com/ericfisherdev/reelqueue/internal/clock"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type lastTick struct{ res *application.TickResult }

func (l lastTick) LastTick() *application.TickResult { return l.res }

func TestHealthService_Check(t *testing.T) {
	clk := clock.NewFake(t0)
	tick := &application.TickResult{Attempted: 3, Duration: time.Second}

	tests := []struct {
		name       string
		db         application.Pinger
		wantStatus string
		wantDB     string
	}{
		{name: "healthy", db: pingFunc(func(context.Context) error { return nil }), wantStatus: "ok", wantDB: "ok"},
		{name: "database down", db: pingFunc(func(context.Context) error { return errors.New("disk I/O error") }), wantStatus: "degraded", wantDB: "disk I/O error"},
		{name: "memory storage", db: nil, wantStatus: "ok", wantDB: "memory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := application.NewHealthService(tt.db, lastTick{res: tick}, clk)
			report := svc.Check(context.Background())

			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Equal(t, tt.wantDB, report.Database)
			assert.Equal(t, tick, report.LastTick)
			assert.Equal(t, t0, report.CheckedAt)
		})
	}
}
