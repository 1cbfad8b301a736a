package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateStart:        false,
		StateFetching:     false,
		StateFetched:      false,
		StateUploading:    false,
		StateFetchFailed:  true,
		StateUploadFailed: true,
		StateSucceeded:    true,
	}
	for s, want := range terminal {
		assert.Equal(t, want, s.Terminal(), s.String())
	}
	assert.Equal(t, "unknown", State(200).String())
}

func TestStatusErrorUnwrap(t *testing.T) {
	src := fmt.Errorf("fetch http://src/a: %w", NewSourceStatusError(500, "500 Internal Server Error"))
	assert.True(t, errors.Is(src, ErrSourceFetch))
	assert.False(t, errors.Is(src, ErrSinkUpload))
	assert.Equal(t, 500, StatusCodeOf(src))

	sink := NewSinkStatusError(404, "404 Not Found")
	assert.True(t, errors.Is(sink, ErrSinkUpload))
	assert.Contains(t, sink.Error(), "unexpected status 404")

	assert.Equal(t, 0, StatusCodeOf(errors.New("connection reset")))
}

func TestFailureSinkFunc(t *testing.T) {
	var got []Outcome
	sink := FailureSinkFunc(func(_ context.Context, o Outcome) { got = append(got, o) })

	sink.HandleFailure(context.Background(), Outcome{URL: "http://src/b", State: StateFetchFailed})
	DiscardFailures.HandleFailure(context.Background(), Outcome{})

	assert.Len(t, got, 1)
	assert.False(t, got[0].Succeeded())
}
