package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/aidetect-api/internal/inference"
	"github.com/Brownie44l1/aidetect-api/internal/tiles"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		meta    Metadata
		want    Spec
		wantErr bool
	}{
		{
			name: "keras sigmoid",
			meta: Metadata{InputShape: []int64{-1, 32, 32, 3}, OutputShape: []int64{-1, 1}, ImageSize: 32},
			want: Spec{Layout: inference.LayoutRealScalar},
		},
		{
			name: "softmax pair",
			meta: Metadata{InputShape: []int64{-1, 32, 32, 3}, OutputShape: []int64{-1, 2}, Classes: []string{"FAKE", "REAL"}},
			want: Spec{Layout: inference.LayoutFakeReal},
		},
		{
			name: "channels first fixed batch",
			meta: Metadata{InputShape: []int64{8, 3, 32, 32}, OutputShape: []int64{8}},
			want: Spec{Layout: inference.LayoutRealScalar, ChannelsFirst: true, FixedBatch: 8, ScalarOutput: true},
		},
		{
			name:    "reversed classes",
			meta:    Metadata{InputShape: []int64{-1, 32, 32, 3}, OutputShape: []int64{-1, 2}, Classes: []string{"REAL", "FAKE"}},
			wantErr: true,
		},
		{
			name:    "pair without classes",
			meta:    Metadata{InputShape: []int64{-1, 32, 32, 3}, OutputShape: []int64{-1, 2}},
			wantErr: true,
		},
		{
			name:    "three classes",
			meta:    Metadata{InputShape: []int64{-1, 32, 32, 3}, OutputShape: []int64{-1, 3}},
			wantErr: true,
		},
		{
			name:    "wrong tile size",
			meta:    Metadata{InputShape: []int64{-1, 64, 64, 3}, OutputShape: []int64{-1, 1}, ImageSize: 64},
			wantErr: true,
		},
		{
			name:    "rank 3 input",
			meta:    Metadata{InputShape: []int64{32, 32, 3}, OutputShape: []int64{-1, 1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.meta.Resolve()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadMetadataDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	data := `{"input_shape":[-1,32,32,3],"output_shape":[-1,2],"classes":["FAKE","REAL"],"image_size":32}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	meta, err := ReadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultInputName, meta.InputName)
	assert.Equal(t, DefaultOutputName, meta.OutputName)
	assert.Equal(t, []string{"FAKE", "REAL"}, meta.Classes)

	_, err = ReadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestPackInputChannelsFirst(t *testing.T) {
	pix := make([]float32, tiles.TileLen)
	for i := range pix {
		pix[i] = float32(i)
	}
	batch := []tiles.Tile{{Pix: pix}, {Pix: pix}}

	dst := make([]float32, 2*tiles.TileLen)
	packInput(dst, batch, true)

	const plane = tiles.TileSize * tiles.TileSize
	// pixel 5, green channel
	assert.Equal(t, pix[5*tiles.Channels+1], dst[plane+5])
	assert.Equal(t, pix[5*tiles.Channels+1], dst[tiles.TileLen+plane+5])

	packInput(dst, batch, false)
	assert.Equal(t, pix, dst[:tiles.TileLen])
}

func TestPlanRuns(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		fixed int
		want  []modelRun
	}{
		{"empty", 0, 8, nil},
		{"dynamic", 19, 0, []modelRun{{0, 19, 19}}},
		{"fixed exact", 16, 8, []modelRun{{0, 8, 8}, {8, 16, 8}}},
		{"fixed padded", 19, 8, []modelRun{{0, 8, 8}, {8, 16, 8}, {16, 19, 8}}},
		{"fewer than fixed", 3, 8, []modelRun{{0, 3, 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, planRuns(tt.n, tt.fixed))
		})
	}
}

func TestPackBatchZeroFillsPadding(t *testing.T) {
	pix := make([]float32, tiles.TileLen)
	for i := range pix {
		pix[i] = 0.5
	}

	input := packBatch([]tiles.Tile{{Pix: pix}, {Pix: pix}, {Pix: pix}}, 8, false)
	require.Len(t, input, 8*tiles.TileLen)
	assert.Equal(t, pix, input[2*tiles.TileLen:3*tiles.TileLen])
	for i, v := range input[3*tiles.TileLen:] {
		require.Zero(t, v, "padding value %d", i)
	}
}

func TestAppendOutputsDropsPadding(t *testing.T) {
	// three real rows of a fixed batch of four, two values per row
	data := []float32{0.1, 0.9, 0.2, 0.8, 0.3, 0.7, 0.5, 0.5}

	out, err := appendOutputs([]float32{1}, data, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.1, 0.9, 0.2, 0.8, 0.3, 0.7}, out)

	_, err = appendOutputs(nil, data, 5, 2)
	assert.Error(t, err)
}

func TestMatchOutput(t *testing.T) {
	meta := Metadata{OutputName: "probs", OutputShape: []int64{-1, 2}}

	tests := []struct {
		name    string
		outputs []ort.InputOutputInfo
		wantErr string
	}{
		{"same", []ort.InputOutputInfo{{Name: "probs", Dimensions: ort.NewShape(-1, 2)}}, ""},
		{"dynamic width", []ort.InputOutputInfo{{Name: "probs", Dimensions: ort.NewShape(-1, -1)}}, ""},
		{"picks by name", []ort.InputOutputInfo{
			{Name: "logits", Dimensions: ort.NewShape(-1, 1000)},
			{Name: "probs", Dimensions: ort.NewShape(1, 2)},
		}, ""},
		{"wrong width", []ort.InputOutputInfo{{Name: "probs", Dimensions: ort.NewShape(-1, 1)}}, "metadata declares"},
		{"wrong rank", []ort.InputOutputInfo{{Name: "probs", Dimensions: ort.NewShape(-1)}}, "metadata declares"},
		{"missing", []ort.InputOutputInfo{{Name: "output", Dimensions: ort.NewShape(-1, 2)}}, "no output named"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := matchOutput(tt.outputs, meta)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRuntimeInitRetriesAfterFailure(t *testing.T) {
	var (
		ready    bool
		attempts int
		library  string
	)
	env := &runtimeEnv{
		initialized: func() bool { return ready },
		setLibrary:  func(p string) { library = p },
		initialize: func() error {
			attempts++
			if library != "/opt/ort/libonnxruntime.so" {
				return errors.New("cannot load library")
			}
			ready = true
			return nil
		},
	}

	require.Error(t, env.init("/wrong/path.so"))
	require.NoError(t, env.init("/opt/ort/libonnxruntime.so"))
	require.NoError(t, env.init("/ignored.so"))

	assert.Equal(t, 2, attempts)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", library)
}

func TestLoaderOpensOnce(t *testing.T) {
	var opens atomic.Int32
	l := &Loader{open: func() (*Session, error) {
		opens.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &Session{spec: Spec{Layout: inference.LayoutRealScalar}}, nil
	}}

	var wg sync.WaitGroup
	got := make([]*Session, 32)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := l.Session(context.Background())
			assert.NoError(t, err)
			got[i] = s
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opens.Load())
	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	assert.True(t, l.Loaded())

	m, err := l.Model(context.Background())
	require.NoError(t, err)
	assert.Equal(t, inference.LayoutRealScalar, m.Layout())

	l.Close()
	assert.False(t, l.Loaded())
}

func TestLoaderRetriesAfterFailure(t *testing.T) {
	var opens atomic.Int32
	l := &Loader{open: func() (*Session, error) {
		if opens.Add(1) == 1 {
			return nil, errors.New("no such file")
		}
		return &Session{}, nil
	}}

	m, err := l.Model(context.Background())
	assert.Error(t, err)
	assert.Nil(t, m)

	_, err = l.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), opens.Load())
}

func TestLoaderHonorsContext(t *testing.T) {
	release := make(chan struct{})
	l := &Loader{open: func() (*Session, error) {
		<-release
		return &Session{}, nil
	}}
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := l.Session(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
