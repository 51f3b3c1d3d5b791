package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectKey(t *testing.T) {
	assert.Equal(t, "cradle:subject:42", SubjectKey(42))
	assert.True(t, strings.HasPrefix(SubjectKey(7), SubjectPrefix))
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Nop{}

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	var dest map[string]int
	hit, err := c.Get(ctx, "k", &dest)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, dest)
	assert.NoError(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.DeletePrefix(ctx, SubjectPrefix))
}
