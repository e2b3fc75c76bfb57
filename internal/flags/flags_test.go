package flags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	t.Run("nil input returns empty flags", func(t *testing.T) {
		result, err := FromConfig(nil)

		require.NoError(t, err)
		assert.Empty(t, result)
	})

	t.Run("string values", func(t *testing.T) {
		input := map[string]any{
			"solver":   "libmamba",
			"repodata": "current_repodata.json",
		}

		result, err := FromConfig(input)

		require.NoError(t, err)
		assert.Equal(t, "libmamba", result["solver"])
		assert.Equal(t, "current_repodata.json", result["repodata"])
	})

	t.Run("bool values", func(t *testing.T) {
		input := map[string]any{
			"offline":                 true,
			"strict-channel-priority": false,
		}

		result, err := FromConfig(input)

		require.NoError(t, err)
		assert.Equal(t, true, result["offline"])
		assert.Equal(t, false, result["strict-channel-priority"])
	})

	t.Run("any slice converted to string slice", func(t *testing.T) {
		input := map[string]any{
			"repodata-fn": []any{"repodata.json", "current_repodata.json"},
		}

		result, err := FromConfig(input)

		require.NoError(t, err)
		assert.Equal(t, []string{"repodata.json", "current_repodata.json"}, result["repodata-fn"])
	})

	t.Run("leading dashes stripped from keys", func(t *testing.T) {
		result, err := FromConfig(map[string]any{"--offline": true})

		require.NoError(t, err)
		assert.Equal(t, true, result["offline"])
	})

	t.Run("reserved flag rejected", func(t *testing.T) {
		_, err := FromConfig(map[string]any{"prefix": "/somewhere/else"})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrReservedFlag)
	})

	t.Run("reserved short flag rejected even with dashes", func(t *testing.T) {
		_, err := FromConfig(map[string]any{"-y": true})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrReservedFlag)
	})

	t.Run("unsupported value type rejected", func(t *testing.T) {
		_, err := FromConfig(map[string]any{"verbosity": 3})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidFlagValue)
	})

	t.Run("non-string array element rejected", func(t *testing.T) {
		_, err := FromConfig(map[string]any{"repodata-fn": []any{"repodata.json", 7}})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidFlagValue)
	})
}

func TestToArgs(t *testing.T) {
	t.Run("empty flags produce no args", func(t *testing.T) {
		assert.Nil(t, ToArgs(Flags{}))
	})

	t.Run("sorted deterministic output", func(t *testing.T) {
		args := ToArgs(Flags{"solver": "libmamba", "offline": true})

		assert.Equal(t, []string{"--offline", "--solver=libmamba"}, args)
	})

	t.Run("false bool omitted", func(t *testing.T) {
		assert.Nil(t, ToArgs(Flags{"offline": false}))
	})

	t.Run("slice renders one arg per value", func(t *testing.T) {
		args := ToArgs(Flags{"repodata-fn": []string{"a.json", "b.json"}})

		assert.Equal(t, []string{"--repodata-fn=a.json", "--repodata-fn=b.json"}, args)
	})

	t.Run("single character key uses one dash", func(t *testing.T) {
		assert.Equal(t, []string{"-k"}, ToArgs(Flags{"k": true}))
	})
}
