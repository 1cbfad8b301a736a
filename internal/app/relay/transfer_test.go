package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
)

func newTestTransferer(t *testing.T) (*Transferer, *countingLimiter, *mockFetcher, *mockUploader) {
	t.Helper()

	log, metrics, tracer := newTestTelemetry(t)
	limiter := new(countingLimiter)
	fetcher := new(mockFetcher)
	uploader := new(mockUploader)
	return NewTransferer(limiter, fetcher, uploader, log, metrics, tracer), limiter, fetcher, uploader
}

func TestTransfererRunSuccess(t *testing.T) {
	tests := []struct {
		name       string
		sinkStatus int
	}{
		{name: "ok", sinkStatus: 200},
		{name: "created", sinkStatus: 201},
		{name: "no_content", sinkStatus: 204},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, limiter, fetcher, uploader := newTestTransferer(t)

			body := &trackedBody{Reader: strings.NewReader("hello")}
			fetcher.On("Fetch", mock.Anything, "http://src/a.png").
				Return(&transfer.Source{Body: body, ContentLength: 5, StatusCode: 200}, nil)
			uploader.On("Upload", mock.Anything, "/a.png", "hello", int64(5)).
				Return(tt.sinkStatus, nil)

			outcome := tr.Run(context.Background(), "http://src/a.png")

			assert.True(t, outcome.Succeeded())
			assert.Equal(t, transfer.StateSucceeded, outcome.State)
			assert.Equal(t, "/a.png", outcome.Destination)
			assert.Equal(t, tt.sinkStatus, outcome.StatusCode)
			assert.Equal(t, int64(5), outcome.Bytes)
			assert.NoError(t, outcome.Err)
			assert.True(t, body.isClosed())
			assert.Equal(t, 1, limiter.count())
			fetcher.AssertExpectations(t)
			uploader.AssertExpectations(t)
		})
	}
}

func TestTransfererRunUnknownLengthPassedThrough(t *testing.T) {
	tr, _, fetcher, uploader := newTestTransferer(t)

	fetcher.On("Fetch", mock.Anything, "http://src/").
		Return(&transfer.Source{Body: &trackedBody{Reader: strings.NewReader("xyz")}, ContentLength: -1, StatusCode: 200}, nil)
	uploader.On("Upload", mock.Anything, mock.MatchedBy(fallbackName.MatchString), "xyz", int64(-1)).
		Return(201, nil)

	outcome := tr.Run(context.Background(), "http://src/")

	require.True(t, outcome.Succeeded())
	assert.Regexp(t, fallbackName, outcome.Destination)
	assert.Equal(t, int64(3), outcome.Bytes)
	uploader.AssertExpectations(t)
}

func TestTransfererRunFetchFailureSkipsUpload(t *testing.T) {
	networkErr := fmt.Errorf("%w: %w", transfer.ErrSourceFetch, errors.New("connection refused"))

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "not_found", err: transfer.NewSourceStatusError(404, "404 Not Found"), wantCode: 404},
		{name: "server_error", err: transfer.NewSourceStatusError(500, "500 Internal Server Error"), wantCode: 500},
		{name: "network_error", err: networkErr, wantCode: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _, fetcher, uploader := newTestTransferer(t)
			fetcher.On("Fetch", mock.Anything, "http://src/a.png").Return(nil, tt.err)

			outcome := tr.Run(context.Background(), "http://src/a.png")

			assert.Equal(t, transfer.StateFetchFailed, outcome.State)
			assert.Equal(t, tt.wantCode, outcome.StatusCode)
			assert.ErrorIs(t, outcome.Err, transfer.ErrSourceFetch)
			assert.Empty(t, outcome.Destination)
			assert.Zero(t, outcome.Bytes)
			uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestTransfererRunUploadFailure(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		err      error
		wantCode int
	}{
		{name: "not_found", code: 404, err: transfer.NewSinkStatusError(404, "404 Not Found"), wantCode: 404},
		{name: "server_error", code: 500, err: transfer.NewSinkStatusError(500, "500 Internal Server Error"), wantCode: 500},
		{name: "status_only_in_error", code: 0, err: transfer.NewSinkStatusError(507, "507 Insufficient Storage"), wantCode: 507},
		{name: "network_error", code: 0, err: fmt.Errorf("%w: broken pipe", transfer.ErrSinkUpload), wantCode: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _, fetcher, uploader := newTestTransferer(t)

			body := &trackedBody{Reader: strings.NewReader("data")}
			fetcher.On("Fetch", mock.Anything, "http://src/b").
				Return(&transfer.Source{Body: body, ContentLength: 4, StatusCode: 200}, nil)
			uploader.On("Upload", mock.Anything, "/b", "data", int64(4)).Return(tt.code, tt.err)

			outcome := tr.Run(context.Background(), "http://src/b")

			assert.Equal(t, transfer.StateUploadFailed, outcome.State)
			assert.Equal(t, tt.wantCode, outcome.StatusCode)
			assert.Equal(t, "/b", outcome.Destination)
			assert.ErrorIs(t, outcome.Err, transfer.ErrSinkUpload)
			assert.True(t, body.isClosed())
		})
	}
}

func TestTransfererRunAdmissionFailure(t *testing.T) {
	tr, limiter, fetcher, uploader := newTestTransferer(t)
	limiter.err = context.Canceled

	outcome := tr.Run(context.Background(), "http://src/a.png")

	assert.Equal(t, transfer.StateFetchFailed, outcome.State)
	assert.ErrorIs(t, outcome.Err, context.Canceled)
	assert.ErrorIs(t, outcome.Err, transfer.ErrSourceFetch)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
