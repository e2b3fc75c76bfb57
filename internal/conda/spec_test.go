package conda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	t.Run("parses a bare package name", func(t *testing.T) {
		spec, err := ParseSpec("napari")
		require.NoError(t, err)

		assert.Equal(t, "napari", spec.Name)
		assert.Empty(t, spec.Version)
		assert.Empty(t, spec.Build)
	})

	t.Run("parses name and version", func(t *testing.T) {
		spec, err := ParseSpec("napari=0.4.16")
		require.NoError(t, err)

		assert.Equal(t, "napari", spec.Name)
		assert.Equal(t, "0.4.16", spec.Version)
		assert.Empty(t, spec.Build)
	})

	t.Run("parses name, version and build string", func(t *testing.T) {
		spec, err := ParseSpec("napari=0.4.16=pyh6c4a22f*")
		require.NoError(t, err)

		assert.Equal(t, "napari", spec.Name)
		assert.Equal(t, "0.4.16", spec.Version)
		assert.Equal(t, "pyh6c4a22f*", spec.Build)
	})

	t.Run("accepts double equals as separator", func(t *testing.T) {
		spec, err := ParseSpec("napari==0.4.16")
		require.NoError(t, err)

		assert.Equal(t, "napari", spec.Name)
		assert.Equal(t, "0.4.16", spec.Version)
	})

	t.Run("accepts double equals with a build string", func(t *testing.T) {
		spec, err := ParseSpec("napari==0.4.16=py38*")
		require.NoError(t, err)

		assert.Equal(t, "0.4.16", spec.Version)
		assert.Equal(t, "py38*", spec.Build)
	})

	t.Run("rejects an empty spec", func(t *testing.T) {
		_, err := ParseSpec("")
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})

	t.Run("rejects a spec with too many separators", func(t *testing.T) {
		_, err := ParseSpec("napari=0.4.16=abc=extra")
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})

	t.Run("rejects a name with invalid characters", func(t *testing.T) {
		_, err := ParseSpec("napari!?=0.4.16")
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})

	t.Run("rejects an empty version component", func(t *testing.T) {
		_, err := ParseSpec("napari=")
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})

	t.Run("rejects an empty build component", func(t *testing.T) {
		_, err := ParseSpec("napari=0.4.16=")
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})
}

func TestVersionSpec_MatchSpec(t *testing.T) {
	t.Run("name only", func(t *testing.T) {
		spec := VersionSpec{Name: "napari"}
		assert.Equal(t, "napari", spec.MatchSpec())
	})

	t.Run("pins the version", func(t *testing.T) {
		spec := VersionSpec{Name: "napari", Version: "0.4.16"}
		assert.Equal(t, "napari=0.4.16", spec.MatchSpec())
	})

	t.Run("wraps a plain build string in wildcards", func(t *testing.T) {
		spec := VersionSpec{Name: "napari", Version: "0.4.16", Build: "pyh6c4a22f"}
		assert.Equal(t, "napari=0.4.16=*pyh6c4a22f*", spec.MatchSpec())
	})

	t.Run("keeps an explicit glob as written", func(t *testing.T) {
		spec := VersionSpec{Name: "napari", Version: "0.4.16", Build: "pyh*"}
		assert.Equal(t, "napari=0.4.16=pyh*", spec.MatchSpec())
	})
}

func TestVersionSpec_EnvName(t *testing.T) {
	spec := VersionSpec{Name: "napari", Version: "0.4.16"}
	assert.Equal(t, "napari-0.4.16", spec.EnvName())
}

func TestNormalizedName(t *testing.T) {
	t.Run("lowercases", func(t *testing.T) {
		assert.Equal(t, "napari", NormalizedName("Napari"))
	})

	t.Run("collapses separator runs", func(t *testing.T) {
		assert.Equal(t, "my-package", NormalizedName("My__Package"))
		assert.Equal(t, "a-b-c", NormalizedName("a-_.b...c"))
	})

	t.Run("keeps plain names untouched", func(t *testing.T) {
		assert.Equal(t, "constructor-manager", NormalizedName("constructor-manager"))
	})
}

func TestSentinelFileName(t *testing.T) {
	assert.Equal(t, ".napari_is_bundled_constructor", SentinelFileName("napari"))
	assert.Equal(t, ".my-app_is_bundled_constructor", SentinelFileName("My_App"))
}
