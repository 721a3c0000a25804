package main

import (
	"errors"
	"testing"

	"github.com/goran-ethernal/CanvasIndexor/internal/common"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stopFunc func() error

func (f stopFunc) Stop() error { return f() }

func TestAbortStart(t *testing.T) {
	startErr := errors.New("rpc unreachable")

	tests := []struct {
		name     string
		stopErr  error
		warnings int
	}{
		{name: "clean stop", stopErr: nil, warnings: 0},
		{name: "flush failure is logged", stopErr: errors.New("final snapshot flush failed: disk full"), warnings: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

			persistenceErrors := func() float64 {
				return testutil.ToFloat64(metrics.Errors.WithLabelValues(common.ComponentPersistence, "error"))
			}
			before := persistenceErrors()

			stopped := false
			err := abortStart(log, stopFunc(func() error {
				stopped = true
				return tt.stopErr
			}), startErr)

			require.ErrorIs(t, err, startErr)
			require.True(t, stopped)
			require.Contains(t, metrics.Unhealthy(), common.ComponentService)

			warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
			require.Len(t, warnings, tt.warnings)
			require.Equal(t, float64(tt.warnings), persistenceErrors()-before)
			if tt.stopErr != nil {
				require.Contains(t, warnings[0].Message, "disk full")
			}
		})
	}
}
