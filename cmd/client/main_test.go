package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saintparish4/brpunch/internal/clientagent"
	"github.com/saintparish4/brpunch/pkg/types"
)

func TestReportExitCodes(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{types.ErrGameNotRunning, 1},
		{fmt.Errorf("%w: permission denied", types.ErrLogUnreadable), 1},
		{types.ErrNoTargetFound, 0},
		{types.ErrNoActivePort, 0},
		{fmt.Errorf("%w: [1 2]", types.ErrAmbiguousPorts), 0},
		{types.ErrUnknownTarget, 0},
		{types.ErrRendezvousUnreachable, 0},
		{errors.New("rendezvous returned 502 Bad Gateway"), 0},
	}

	for _, tt := range tests {
		name := "success"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			res := clientagent.Result{Target: "203.0.113.5:7777", Port: 55000}
			assert.Equal(t, tt.code, report(res, tt.err))
		})
	}
}
