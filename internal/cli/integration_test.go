package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/detloader/internal/testinfra"
)

const stagedVideo = `source_file,source_type,frame_number,frame_timestamp,class_name,confidence,bbox_x1,bbox_y1,bbox_x2,bbox_y2,image_width,image_height
vid1.mp4,video,0,0.00,person,0.91,10,20,50,100,640,480
vid1.mp4,video,1,0.04,person,0.88,12,20,52,100,640,480
vid1.mp4,video,1,0.04,car,0.75,200,150,320,260,640,480
`

const stagedImage = `source_file,source_type,frame_number,frame_timestamp,class_name,confidence,bbox_x1,bbox_y1,bbox_x2,bbox_y2,image_width,image_height
img1.jpg,image,,,dog,0.67,5,5,60,70,640,480
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_InitSchemaRunStats(t *testing.T) {
	connStr := testinfra.RequireDatabase(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema := "cli_" + uuid.NewString()[:8]
	t.Cleanup(func() {
		pool.Exec(context.Background(), fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schema)) //nolint:errcheck
	})

	dir := t.TempDir()
	stagingDir := filepath.Join(dir, "staging")
	require.NoError(t, os.MkdirAll(stagingDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "video_cam1.csv"), []byte(stagedVideo), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "image_batch1.csv"), []byte(stagedImage), 0o644))

	statePath := filepath.Join(dir, "state", "etl_state.json")
	cfgPath := writeConfig(t, fmt.Sprintf(`staging_dir: %s
state_file: %s
warehouse:
  schema: %s
  table: detections
retry:
  max_attempts: 2
  initial_delay: 10ms
  max_delay: 50ms
`, stagingDir, statePath, schema))

	common := []string{"--config", cfgPath, "--connection", connStr}

	_, err = execute(t, append([]string{"init-schema"}, common...)...)
	require.NoError(t, err)

	_, err = execute(t, append([]string{"run"}, common...)...)
	require.NoError(t, err)

	var n int
	require.NoError(t, pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %q.detections`, schema)).Scan(&n))
	assert.Equal(t, 4, n)

	before, err := os.ReadFile(statePath)
	require.NoError(t, err)

	_, err = execute(t, append([]string{"run"}, common...)...)
	require.NoError(t, err)
	after, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "a run with nothing pending must not rewrite the state")

	out, err := execute(t, append([]string{"stats", "--warehouse"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "person")
	assert.True(t, strings.Contains(out, schema), "expected warehouse table name in output:\n%s", out)

	_, err = execute(t, append([]string{"reset-state"}, common...)...)
	require.Error(t, err)
	_, err = execute(t, append([]string{"reset-state", "--force"}, common...)...)
	require.NoError(t, err)

	// Re-reading after a reset is absorbed by the upsert.
	_, err = execute(t, append([]string{"run"}, common...)...)
	require.NoError(t, err)
	require.NoError(t, pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %q.detections`, schema)).Scan(&n))
	assert.Equal(t, 4, n)
}
