package processor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(updates chan ProgressUpdate) ProgressUpdate {
	close(updates)
	var sum ProgressUpdate
	for u := range updates {
		sum.TotalDelta += u.TotalDelta
		sum.ProcessedDelta += u.ProcessedDelta
		sum.FailedDelta += u.FailedDelta
	}
	return sum
}

func TestDispatcher_ResizeDirectory(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 4} {
		fs := afero.NewMemMapFs()
		writeImage(t, fs, "/in/a.jpg", 800, 600)
		writeImage(t, fs, "/in/b.png", 400, 400)
		require.NoError(t, afero.WriteFile(fs, "/in/notes.txt", []byte("hello"), 0o644))

		updates := make(chan ProgressUpdate, 16)
		d := NewDispatcher(newTestProcessor(fs))
		report, err := d.Run(context.Background(), BatchJob{
			InputDir:  "/in",
			OutputDir: "/out",
			Op:        Resize{Width: 400},
			Workers:   workers,
		}, updates)
		require.NoError(t, err)

		require.Len(t, report.Results, 2)
		assert.Equal(t, 2, report.Succeeded())
		assert.Equal(t, 0, report.Failed())
		assert.Equal(t, []string{"notes.txt"}, report.Unsupported)
		assert.Equal(t, filepath.Join("/in", "a.jpg"), report.Results[0].Input)
		assert.Equal(t, filepath.Join("/out", "a.jpg"), report.Results[0].Output)
		assert.Equal(t, filepath.Join("/out", "b.png"), report.Results[1].Output)

		w, h := readSize(t, fs, "/out/a.jpg")
		assert.Equal(t, [2]int{400, 300}, [2]int{w, h})
		w, h = readSize(t, fs, "/out/b.png")
		assert.Equal(t, [2]int{400, 400}, [2]int{w, h})

		exists, err := afero.Exists(fs, "/out/notes.txt")
		require.NoError(t, err)
		assert.False(t, exists)

		sum := collect(updates)
		assert.Equal(t, ProgressUpdate{TotalDelta: 2, ProcessedDelta: 2}, sum)
	}
}

func TestDispatcher_RemoveBackgroundNames(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeImage(t, fs, "/in/photo.jpg", 16, 16)
	writeImage(t, fs, "/in/a.jpg", 16, 16)
	writeImage(t, fs, "/in/a.png", 16, 16)
	writeImage(t, fs, "/in/C.BMP", 16, 16)

	report, err := NewDispatcher(newTestProcessor(fs)).Run(context.Background(), BatchJob{
		InputDir:  "/in",
		OutputDir: "/out",
		Op:        RemoveBackground{},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 4, report.Succeeded())

	var outputs []string
	for _, res := range report.Results {
		outputs = append(outputs, filepath.Base(res.Output))
	}
	assert.Equal(t, []string{"C.png", "a.png", "a_1.png", "photo.png"}, outputs)
	for _, name := range outputs {
		exists, err := afero.Exists(fs, filepath.Join("/out", name))
		require.NoError(t, err)
		assert.True(t, exists, name)
	}
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 3} {
		fs := afero.NewMemMapFs()
		writeImage(t, fs, "/in/1.png", 20, 10)
		require.NoError(t, afero.WriteFile(fs, "/in/2.jpg", []byte("corrupt"), 0o644))
		writeImage(t, fs, "/in/3.png", 20, 10)
		writeImage(t, fs, "/in/4.png", 20, 10)

		updates := make(chan ProgressUpdate, 16)
		report, err := NewDispatcher(newTestProcessor(fs)).Run(context.Background(), BatchJob{
			InputDir:  "/in",
			OutputDir: "/out",
			Op:        Resize{Height: 5},
			Workers:   workers,
		}, updates)
		require.NoError(t, err, "单张失败不影响整个批次")

		assert.Equal(t, 4, report.Processed())
		assert.Equal(t, 3, report.Succeeded())
		require.Len(t, report.Failures(), 1)
		failure := report.Failures()[0]
		assert.Equal(t, filepath.Join("/in", "2.jpg"), failure.Input)
		assert.ErrorIs(t, failure.Err, ErrDecode)

		for _, name := range []string{"1.png", "3.png", "4.png"} {
			w, h := readSize(t, fs, filepath.Join("/out", name))
			assert.Equal(t, [2]int{10, 5}, [2]int{w, h})
		}
		assert.Equal(t, ProgressUpdate{TotalDelta: 4, ProcessedDelta: 4, FailedDelta: 1}, collect(updates))
	}
}

func TestDispatcher_DirectoryErrors(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	d := NewDispatcher(newTestProcessor(fs))

	_, err := d.Run(context.Background(), BatchJob{InputDir: "/nope", OutputDir: "/out", Op: Enhance{}}, nil)
	assert.ErrorIs(t, err, ErrIO)

	exists, err := afero.DirExists(fs, "/out")
	require.NoError(t, err)
	assert.True(t, exists, "输出目录会被创建")

	_, err = d.Run(context.Background(), BatchJob{InputDir: "/in", OutputDir: "/out", Op: Resize{}}, nil)
	assert.ErrorIs(t, err, ErrParameter)

	ro := NewDispatcher(newTestProcessor(afero.NewReadOnlyFs(afero.NewMemMapFs())))
	_, err = ro.Run(context.Background(), BatchJob{InputDir: "/in", OutputDir: "/out", Op: Enhance{}}, nil)
	assert.ErrorIs(t, err, ErrIO)
}

func TestDispatcher_EmptyDirectory(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/in/sub", 0o755))

	report, err := NewDispatcher(newTestProcessor(fs)).Run(context.Background(), BatchJob{
		InputDir: "/in", OutputDir: "/out", Op: Enhance{},
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, report.Unsupported, "子目录不算不支持的文件")
}

func TestDispatcher_Canceled(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeImage(t, fs, "/in/a.png", 8, 8)
	writeImage(t, fs, "/in/b.png", 8, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewDispatcher(newTestProcessor(fs)).Run(ctx, BatchJob{
		InputDir: "/in", OutputDir: "/out", Op: Resize{Width: 4}, Workers: 2,
	}, nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
}

func TestDispatcher_SameDirKeepsInputs(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeImage(t, fs, "/imgs/a.jpg", 16, 16)
	writeImage(t, fs, "/imgs/a.png", 20, 10)

	report, err := NewDispatcher(newTestProcessor(fs)).Run(context.Background(), BatchJob{
		InputDir:  "/imgs",
		OutputDir: "/imgs/",
		Op:        RemoveBackground{},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, report.Succeeded())

	assert.Equal(t, "/imgs/a_1.png", report.Results[0].Output)
	assert.Equal(t, "/imgs/a.png", report.Results[1].Output)

	w, h := readSize(t, fs, "/imgs/a.png")
	assert.Equal(t, [2]int{20, 10}, [2]int{w, h}, "a.jpg 的结果不能覆盖输入 a.png")
	w, h = readSize(t, fs, "/imgs/a_1.png")
	assert.Equal(t, [2]int{16, 16}, [2]int{w, h})
}
