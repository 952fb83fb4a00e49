package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cutroom/cutroom/internal/config"
	"github.com/cutroom/cutroom/internal/export"
	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/queue"
	"github.com/cutroom/cutroom/internal/transcoder"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessJob(ctx context.Context, exportID string) error {
	return m.Called(ctx, exportID).Error(0)
}

func TestExportHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantErr    bool
		retryLater bool
	}{
		{name: "done", err: nil},
		{name: "busy", err: export.ErrCompositionBusy, wantErr: true, retryLater: true},
		{name: "failed", err: errors.New("finalize failed"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockProcessor)
			p.On("ProcessJob", mock.Anything, "exp-1").Return(tt.err)

			handler := exportHandler(p, logging.Nop())
			err := handler(context.Background(), queue.ExportMessage{ExportID: "exp-1", CompositionID: "comp-1"})

			if !tt.wantErr {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
			assert.Equal(t, tt.retryLater, errors.Is(err, queue.ErrRetryLater))
			p.AssertExpectations(t)
		})
	}
}

func TestCaptureFormats(t *testing.T) {
	assert.Equal(t, transcoder.DefaultCaptureFormats, captureFormats(nil))

	got := captureFormats([]config.CaptureFormatConfig{{Muxer: "avi", Codec: "rawvideo", Ext: "avi"}})
	assert.Equal(t, []transcoder.CaptureFormat{{Muxer: "avi", Codec: "rawvideo", Ext: "avi"}}, got)
}
