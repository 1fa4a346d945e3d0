package transform

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"imgbatch/internal/batch"
	"imgbatch/internal/logger"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveImage(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	require.NoError(t, imaging.Save(imaging.New(w, h, color.NRGBA{R: 200, A: 255}), filepath.Join(dir, name)))
}

func decodeConfig(t *testing.T, path string) (image.Config, string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	return cfg, format
}

func TestResize(t *testing.T) {
	src := t.TempDir()
	saveImage(t, src, "wide.jpg", 800, 400)
	saveImage(t, src, "tall.png", 300, 600)
	saveImage(t, src, "small.jpeg", 50, 40)
	require.NoError(t, os.WriteFile(filepath.Join(src, "readme.txt"), []byte("x"), 0644))

	tests := []struct {
		name   string
		width  int
		height int
		want   map[string][2]int
	}{
		{
			name:  "box",
			width: 200, height: 200,
			want: map[string][2]int{"wide.jpg": {200, 100}, "tall.png": {100, 200}, "small.jpeg": {200, 160}},
		},
		{
			name:  "width only",
			width: 400,
			want:  map[string][2]int{"wide.jpg": {400, 200}, "tall.png": {400, 800}, "small.jpeg": {400, 320}},
		},
		{
			name:   "height only",
			height: 100,
			want:   map[string][2]int{"wide.jpg": {200, 100}, "tall.png": {50, 100}, "small.jpeg": {125, 100}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), "out")
			results, err := NewTransformer(logger.Discard()).Resize(context.Background(), ResizeJob{
				Selection: Selection{SourceDir: src, TargetDir: dst},
				Width:     tc.width,
				Height:    tc.height,
			})
			require.NoError(t, err)
			require.Len(t, results, 3)

			for _, r := range results {
				require.Nil(t, r.Err)
				name := filepath.Base(r.Source)
				assert.Equal(t, filepath.Join(dst, name), r.Target)
				cfg, _ := decodeConfig(t, r.Target)
				want := tc.want[name]
				assert.Equal(t, want[0], cfg.Width, name)
				assert.Equal(t, want[1], cfg.Height, name)
				assert.Equal(t, want[0], r.Width)
			}
		})
	}
}

func TestResizeRejectsBounds(t *testing.T) {
	tr := NewTransformer(logger.Discard())
	for _, b := range [][2]int{{0, 0}, {-1, 10}} {
		_, err := tr.Resize(context.Background(), ResizeJob{
			Selection: Selection{SourceDir: t.TempDir(), TargetDir: t.TempDir()},
			Width:     b[0],
			Height:    b[1],
		})
		require.ErrorIs(t, err, ErrInvalidBounds)
	}
}

func TestConvert(t *testing.T) {
	src := t.TempDir()
	saveImage(t, src, "a.jpg", 20, 10)
	saveImage(t, src, "b.png", 30, 15)
	dst := t.TempDir()

	results, err := NewTransformer(logger.Discard()).Convert(context.Background(), ConvertJob{
		Selection: Selection{SourceDir: src, TargetDir: dst},
		Format:    ".PNG",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, filepath.Join(dst, "a.png"), results[0].Target)
	assert.Equal(t, filepath.Join(dst, "b.png"), results[1].Target)
	for _, r := range results {
		require.Nil(t, r.Err)
		_, format := decodeConfig(t, r.Target)
		assert.Equal(t, "png", format)
	}
}

func TestConvertToJPEGWithQuality(t *testing.T) {
	src := t.TempDir()
	saveImage(t, src, "b.png", 30, 15)
	dst := t.TempDir()

	results, err := NewTransformer(logger.Discard()).Convert(context.Background(), ConvertJob{
		Selection: Selection{SourceDir: src, TargetDir: dst},
		Format:    "jpg",
		Quality:   60,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	_, format := decodeConfig(t, filepath.Join(dst, "b.jpg"))
	assert.Equal(t, "jpeg", format)
}

func TestConvertRejectsFormat(t *testing.T) {
	_, err := NewTransformer(logger.Discard()).Convert(context.Background(), ConvertJob{
		Selection: Selection{SourceDir: t.TempDir(), TargetDir: t.TempDir()},
		Format:    "webp",
	})
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestTransformErrorPolicy(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.jpg"), []byte("garbage"), 0644))
	saveImage(t, src, "b.jpg", 10, 10)

	tr := NewTransformer(logger.Discard())

	results, err := tr.Convert(context.Background(), ConvertJob{
		Selection: Selection{SourceDir: src, TargetDir: t.TempDir()},
		Format:    "png",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, batch.DecodeError, results[0].Err.Kind)
	assert.Nil(t, results[1].Err)

	results, err = tr.Convert(context.Background(), ConvertJob{
		Selection: Selection{SourceDir: src, TargetDir: t.TempDir(), OnError: batch.Abort},
		Format:    "png",
	})
	require.Error(t, err)
	assert.Len(t, results, 1)
}

func TestTransformCancelled(t *testing.T) {
	src := t.TempDir()
	saveImage(t, src, "a.jpg", 10, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := NewTransformer(logger.Discard()).Resize(ctx, ResizeJob{
		Selection: Selection{SourceDir: src, TargetDir: t.TempDir()},
		Width:     5,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestResizeEnlargesSmallerSource(t *testing.T) {
	src := t.TempDir()
	saveImage(t, src, "small.png", 400, 300)
	dst := t.TempDir()

	results, err := NewTransformer(logger.Discard()).Resize(context.Background(), ResizeJob{
		Selection: Selection{SourceDir: src, TargetDir: dst},
		Width:     800,
		Height:    600,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	cfg, _ := decodeConfig(t, filepath.Join(dst, "small.png"))
	assert.Equal(t, 800, cfg.Width)
	assert.Equal(t, 600, cfg.Height)
}

func TestTransformRefusesSourceAsTarget(t *testing.T) {
	src := t.TempDir()
	saveImage(t, src, "a.png", 40, 20)
	before, err := os.ReadFile(filepath.Join(src, "a.png"))
	require.NoError(t, err)

	results, err := NewTransformer(logger.Discard()).Resize(context.Background(), ResizeJob{
		Selection: Selection{SourceDir: src, TargetDir: src},
		Width:     10,
	})
	require.ErrorIs(t, err, batch.ErrSameDirectory)
	assert.Empty(t, results)

	after, err := os.ReadFile(filepath.Join(src, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTransformObserverAndFound(t *testing.T) {
	src := t.TempDir()
	saveImage(t, src, "a.jpg", 10, 10)
	saveImage(t, src, "b.png", 10, 10)

	found := 0
	var seen []string
	results, err := NewTransformer(logger.Discard()).Convert(context.Background(), ConvertJob{
		Selection: Selection{
			SourceDir: src,
			TargetDir: t.TempDir(),
			Found:     func(n int) { found = n },
			Observer:  func(r Result) { seen = append(seen, filepath.Base(r.Target)) },
		},
		Format: "png",
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, found)
	assert.Equal(t, []string{"a.png", "b.png"}, seen)
}

func TestNormalizeFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: ".PNG", want: "png"},
		{in: "jpeg", want: "jpeg"},
		{in: "tif", want: "tif"},
		{in: "xyz", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := NormalizeFormat(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidFormat, tc.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}
