package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeSQLExecution, "mart build failed")

	assert.Equal(t, ErrCodeSQLExecution, err.Code)
	assert.Equal(t, SeverityError, err.Severity)
	assert.False(t, err.Recoverable)
	assert.Contains(t, err.Error(), "DWHE3001")
	assert.Contains(t, err.Error(), "mart build failed")
}

func TestWrap(t *testing.T) {
	t.Run("nil cause", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, ErrCodeInternal, "ignored"))
	})

	t.Run("wraps and unwraps", func(t *testing.T) {
		cause := fmt.Errorf("relation does not exist")
		err := Wrap(cause, ErrCodeSQLExecution, "failed to build dim_zone")

		assert.Equal(t, cause, stderrors.Unwrap(err))
		assert.Contains(t, err.Error(), "Caused by: relation does not exist")
	})

	t.Run("inherits context from wrapped AppError", func(t *testing.T) {
		inner := New(ErrCodeSQLExecution, "inner").WithContext("component", "dim_temps")
		err := Wrap(inner, ErrCodeTierAborted, "tier failed")

		assert.Equal(t, "dim_temps", err.Context["component"])
	})
}

func TestIs(t *testing.T) {
	err := New(ErrCodeUnknownMart, "no such mart")
	assert.True(t, stderrors.Is(err, New(ErrCodeUnknownMart, "other message")))
	assert.False(t, stderrors.Is(err, New(ErrCodeBadFilter, "no such mart")))
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		code        ErrorCode
		severity    ErrorSeverity
		recoverable bool
	}{
		{
			name:     "config error is critical",
			err:      ConfigError("missing env var", "DWH_SOURCE_DSN"),
			code:     ErrCodeConfigInvalid,
			severity: SeverityCritical,
		},
		{
			name:     "connection error is critical",
			err:      ConnectionError("cannot reach target", fmt.Errorf("dial tcp: refused")),
			code:     ErrCodeDSNUnreachable,
			severity: SeverityCritical,
		},
		{
			name:     "contract error names the entity",
			err:      ContractError("invoices", "column montant_total", nil),
			code:     ErrCodeSourceContract,
			severity: SeverityCritical,
		},
		{
			name:        "source integrity error is recoverable",
			err:         SourceIntegrityError(ErrCodeNegativeDelay, "payment before creation"),
			code:        ErrCodeNegativeDelay,
			severity:    SeverityWarning,
			recoverable: true,
		},
		{
			name:     "serving error is a warning",
			err:      ServingError(ErrCodeBadFilter, "quarter must be 1..4"),
			code:     ErrCodeBadFilter,
			severity: SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.severity, tt.err.Severity)
			assert.Equal(t, tt.recoverable, tt.err.Recoverable)
		})
	}
}

func TestSQLErrorTimeoutDetection(t *testing.T) {
	err := SQLError("mart build failed", "CREATE TABLE ...", fmt.Errorf("pq: canceling statement due to statement timeout"))
	assert.Equal(t, ErrCodeSQLTimeout, err.Code)

	err = SQLError("mart build failed", "CREATE TABLE ...", fmt.Errorf("pq: syntax error"))
	assert.Equal(t, ErrCodeSQLExecution, err.Code)
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsRecoverable(SourceIntegrityError(ErrCodeOrphanRow, "orphan")))
	assert.False(t, IsRecoverable(fmt.Errorf("plain")))

	assert.True(t, IsFatal(ConfigError("bad", "field")))
	assert.False(t, IsFatal(SQLError("x", "y", fmt.Errorf("z"))))

	assert.Equal(t, ErrCodeOrphanRow, GetErrorCode(SourceIntegrityError(ErrCodeOrphanRow, "orphan")))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(fmt.Errorf("plain")))
}

func TestContractErrorMessage(t *testing.T) {
	err := ContractError("collections", "table recouvrement", nil)
	assert.Contains(t, err.Error(), `entity "collections"`)
	assert.Contains(t, err.Error(), "table recouvrement")
}
