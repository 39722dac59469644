package params

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrDefaultFirstWriteWins(t *testing.T) {
	t.Parallel()

	s := New()
	assert.Equal(t, "APP_src", s.GetOrDefault("APP_SRC_DIR", "APP_src"))
	assert.Equal(t, "APP_src", s.GetOrDefault("APP_SRC_DIR", "other"))

	calls := 0
	factory := func() any { calls++; return "feature-x" }
	assert.Equal(t, "feature-x", s.GetOrDefault("APP_REV", factory))
	assert.Equal(t, "feature-x", s.GetOrDefault("APP_REV", func() any { return "local" }))
	assert.Equal(t, 1, calls)
}

func TestExplicitSetBeatsDefaults(t *testing.T) {
	t.Parallel()

	s := New()
	s.Set("APP_USER", "ngas")
	assert.Equal(t, "ngas", s.String("APP_USER", "APP"))
	assert.True(t, s.Has("APP_USER"))
	assert.False(t, s.Has("APP_ROOT_DIR"))
}

func TestFactoryErrorNotCached(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := s.GetOrDefaultE("APP_REV", func() (string, error) { return "", errors.New("no git") })
	require.Error(t, err)
	assert.False(t, s.Has("APP_REV"))

	v, err := s.GetOrDefaultE("APP_REV", func() (string, error) { return "local", nil })
	require.NoError(t, err)
	assert.Equal(t, "local", v)
}

func TestTypedAccessors(t *testing.T) {
	t.Parallel()

	s := New()
	s.Set("APP_OVERWRITE_INSTALLATION", "")
	s.Set("APP_NO_BASH_PROFILE", "false")
	s.Set("APP_EXTRA_PYTHON_PACKAGES", "sphinx, uwsgi,,pycrypto")

	assert.True(t, s.Bool("APP_OVERWRITE_INSTALLATION", false))
	assert.False(t, s.Bool("APP_NO_BASH_PROFILE", true))
	assert.False(t, s.Bool("APP_DEVELOP", false))
	assert.Equal(t, []string{"sphinx", "uwsgi", "pycrypto"}, s.Strings("APP_EXTRA_PYTHON_PACKAGES", nil))
	assert.Equal(t, []string{"a"}, s.Strings("OTHER", []string{"a"}))
	assert.Equal(t, []string{"APP_DEVELOP", "APP_EXTRA_PYTHON_PACKAGES", "APP_NO_BASH_PROFILE", "APP_OVERWRITE_INSTALLATION", "OTHER"}, s.Keys())
}

func TestConcurrentDefaultsAgree(t *testing.T) {
	t.Parallel()

	s := New()
	var wg sync.WaitGroup
	results := make([]any, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.GetOrDefault("key", i)
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}
