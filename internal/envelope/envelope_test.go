package envelope

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_SuccessWithNoDetails(t *testing.T) {
	c := NewCollector()
	env := c.ToEnvelope(map[string]any{"x": 1})

	assert.True(t, env.Success)
	assert.False(t, env.Partial())
	assert.Empty(t, env.Errors)
	assert.Empty(t, env.Warnings)
	assert.NotNil(t, env.Data)
}

func TestCollector_WarningsMakePartial(t *testing.T) {
	c := NewCollector()
	c.AddValidationWarning("fill_ratio", "more than 10% of cells were filled", nil)

	env := c.ToEnvelope("data")

	assert.True(t, env.Success)
	assert.True(t, env.Partial())
	require.Len(t, env.Warnings, 1)
	assert.Equal(t, CategoryValidation, env.Warnings[0].Category)
	assert.Equal(t, "data", env.Data, "partial results keep their payload")
}

func TestCollector_ErrorsMakeFailure(t *testing.T) {
	c := NewCollector()
	c.AddCalculationWarning("irr", "irr did not converge", nil)
	c.AddAlignmentError("empty_overlap", "series do not overlap", nil)

	env := c.ToEnvelope("data")

	assert.False(t, env.Success)
	assert.False(t, env.Partial())
	require.Len(t, env.Errors, 1)
	require.Len(t, env.Warnings, 1)
	assert.Equal(t, "data", env.Data, "non-critical failures keep the payload for diagnostics")
}

func TestCollector_CriticalDropsData(t *testing.T) {
	c := NewCollector()
	c.Add(Detail{Category: CategorySystem, Severity: SeverityCritical, Message: "database gone"})

	env := c.ToEnvelope("data")

	assert.False(t, env.Success)
	assert.Nil(t, env.Data)
}

func TestCollector_HasErrors(t *testing.T) {
	c := NewCollector()
	assert.False(t, c.HasErrors())

	c.AddValidationWarning("w", "warn", nil)
	assert.False(t, c.HasErrors())

	c.AddSystemError("e", "boom", nil)
	assert.True(t, c.HasErrors())
	assert.False(t, c.HasCriticalErrors())
}

func TestRun_Success(t *testing.T) {
	env := Run("test_op", zerolog.Nop(), func(c *Collector) any {
		return 42
	})

	assert.True(t, env.Success)
	assert.Equal(t, 42, env.Data)
	assert.Equal(t, "test_op", env.Metadata["operation"])
	assert.Contains(t, env.Metadata, "duration_ms")
}

func TestRun_PanicBecomesSystemError(t *testing.T) {
	env := Run("explosive", zerolog.Nop(), func(c *Collector) any {
		panic("mismatched lengths 5 vs 3")
	})

	assert.False(t, env.Success)
	assert.Nil(t, env.Data)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, CategorySystem, env.Errors[0].Category)
	assert.Equal(t, "panic", env.Errors[0].Code)
	assert.Contains(t, env.Errors[0].Context["panic"], "mismatched lengths")
	assert.Equal(t, "explosive", env.Metadata["operation"])
}

func TestRun_LongPanicValueTruncated(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}

	env := Run("verbose", zerolog.Nop(), func(c *Collector) any {
		panic(string(long))
	})

	require.Len(t, env.Errors, 1)
	captured, ok := env.Errors[0].Context["panic"].(string)
	require.True(t, ok)
	assert.LessOrEqual(t, len(captured), maxPanicDetail+3)
}

func TestRun_CollectedDetailsSurviveAlongsideData(t *testing.T) {
	env := Run("mixed", zerolog.Nop(), func(c *Collector) any {
		c.AddCalculationWarning("nav", "no NAV column, RVPI undefined", nil)
		return "result"
	})

	assert.True(t, env.Success)
	assert.True(t, env.Partial())
	assert.Equal(t, "result", env.Data)
}
