package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manualCSV = `post_id,user_name,favorites,retweets,user_followers,user_friends,text
1,alice,1200,35,5000,300,"Vaccines cause, well, nothing new"
2,bob,4.0,0,12,9,Moon landing was staged
`

const toolCSV = `post_id,user_name,favorites,retweets,user_followers,user_friends,text,model_score
1,alice,1200,35,5000,300,first,0.3
2,bob,4,0,12,9,second,0.9
`

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManual(t *testing.T) {
	table, err := Load(writeCSV(t, "manual.csv", manualCSV))
	require.NoError(t, err)

	require.Equal(t, 2, table.Len())
	assert.False(t, table.HasColumn(ColModelScore))

	p := table.Posts[0]
	assert.Equal(t, "1", p.PostID)
	assert.Equal(t, "alice", p.UserName)
	assert.Equal(t, int64(1200), p.Favorites)
	assert.Equal(t, int64(35), p.Retweets)
	assert.Equal(t, int64(5000), p.UserFollowers)
	assert.Equal(t, int64(300), p.UserFriends)
	assert.Equal(t, "Vaccines cause, well, nothing new", p.Text)
	assert.False(t, p.HasScore)

	// float-formatted counts are accepted
	assert.Equal(t, int64(4), table.Posts[1].Favorites)
}

func TestLoadTool(t *testing.T) {
	table, err := Load(writeCSV(t, "tool.csv", toolCSV))
	require.NoError(t, err)

	require.NoError(t, RequireColumns(table, ColModelScore))
	assert.InDelta(t, 0.3, table.Posts[0].ModelScore, 1e-9)
	assert.InDelta(t, 0.9, table.Posts[1].ModelScore, 1e-9)
	assert.True(t, table.Posts[1].HasScore)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestParseSchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		wantErr error
	}{
		{"empty file", "", ErrSchema},
		{"missing column", "post_id,user_name,text\n1,a,b\n", ErrSchema},
		{"bad count", "post_id,user_name,favorites,retweets,user_followers,user_friends,text\n1,a,lots,0,0,0,t\n", ErrSchema},
		{"bad score", "post_id,user_name,favorites,retweets,user_followers,user_friends,text,model_score\n1,a,0,0,0,0,t,high\n", ErrSchema},
		{"blank score", "post_id,user_name,favorites,retweets,user_followers,user_friends,text,model_score\n1,a,0,0,0,0,t,\n", ErrSchema},
		{"blank id", "post_id,user_name,favorites,retweets,user_followers,user_friends,text\n,a,0,0,0,0,t\n", ErrSchema},
		{"duplicate id", "post_id,user_name,favorites,retweets,user_followers,user_friends,text\n1,a,0,0,0,0,t\n1,b,0,0,0,0,u\n", ErrDuplicatePost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test.csv", strings.NewReader(tt.csv))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseHeaderOnly(t *testing.T) {
	table, err := Parse("empty.csv", strings.NewReader("post_id,user_name,favorites,retweets,user_followers,user_friends,text\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
}

func TestParseStripsBOM(t *testing.T) {
	table, err := Parse("bom.csv", strings.NewReader("\uFEFF"+manualCSV))
	require.NoError(t, err)
	assert.True(t, table.HasColumn(ColPostID))
}

func TestRequireColumnsMissingScore(t *testing.T) {
	table, err := Parse("manual.csv", strings.NewReader(manualCSV))
	require.NoError(t, err)

	err = RequireColumns(table, ColModelScore)
	assert.ErrorIs(t, err, ErrSchema)
	assert.Contains(t, err.Error(), ColModelScore)
}

func TestCacheMemoizes(t *testing.T) {
	var calls atomic.Int32
	c := newCache(func(path string) (*Table, error) {
		calls.Add(1)
		return Parse(path, strings.NewReader(manualCSV))
	}, nil)

	first, err := c.Get("manual.csv")
	require.NoError(t, err)
	second, err := c.Get("manual.csv")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheConcurrentFirstUse(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newCache(func(path string) (*Table, error) {
		calls.Add(1)
		<-release
		return Parse(path, strings.NewReader(manualCSV))
	}, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get("manual.csv")
			assert.NoError(t, err)
		}()
	}
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(8))
	_, err := c.Get("manual.csv")
	require.NoError(t, err)
	before := calls.Load()
	_, _ = c.Get("manual.csv")
	assert.Equal(t, before, calls.Load())
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	c := newCache(func(path string) (*Table, error) {
		if calls.Add(1) == 1 {
			return nil, ErrResourceNotFound
		}
		return Parse(path, strings.NewReader(manualCSV))
	}, nil)

	_, err := c.Get("manual.csv")
	assert.ErrorIs(t, err, ErrResourceNotFound)

	table, err := c.Get("manual.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
}

func TestCachePreload(t *testing.T) {
	manual := writeCSV(t, "manual.csv", manualCSV)
	tool := writeCSV(t, "tool.csv", toolCSV)

	c := NewCache(nil)
	require.NoError(t, c.Preload(context.Background(), manual, tool))

	table, err := c.Get(tool)
	require.NoError(t, err)
	assert.True(t, table.HasColumn(ColModelScore))
}

func TestCachePreloadFailure(t *testing.T) {
	c := NewCache(nil)
	err := c.Preload(context.Background(), filepath.Join(t.TempDir(), "gone.csv"))
	assert.True(t, errors.Is(err, ErrResourceNotFound))
}
