package starter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/idconnect/pkg/errors"
)

type element struct {
	name string
	err  error
	log  *[]string
}

func (e *element) Start(context.Context) error {
	*e.log = append(*e.log, "start "+e.name)
	return e.err
}

func (e *element) Stop() {
	*e.log = append(*e.log, "stop "+e.name)
}

func TestStartStopsInReverse(t *testing.T) {
	var log []string
	stop, err := Start(context.Background(), &element{name: "a", log: &log}, &element{name: "b", log: &log})
	require.NoError(t, err)
	stop()
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
}

func TestStartUnwindsOnFailure(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	stop, err := Start(context.Background(),
		&element{name: "a", log: &log},
		&element{name: "b", err: boom, log: &log},
		&element{name: "c", log: &log})
	require.ErrorIs(t, err, boom)
	stop()
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)
}
