package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sigetidwh/pkg/models"
)

// A failed refresh must fail the process through the deferred-cleanup path in
// Execute, never by exiting from inside the command.
func TestReportExitCode(t *testing.T) {
	assert.Equal(t, 0, reportExitCode(&models.RefreshReport{Success: true}))
	assert.Equal(t, 1, reportExitCode(&models.RefreshReport{Success: false}))
}
