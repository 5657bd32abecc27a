package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/aidetect-api/internal/inference"
	"github.com/Brownie44l1/aidetect-api/internal/tiles"
)

// runtimeEnv guards ONNX Runtime initialization. A failed attempt leaves the
// environment uninitialized, so the next Open tries again.
type runtimeEnv struct {
	mu          sync.Mutex
	initialized func() bool
	setLibrary  func(string)
	initialize  func() error
}

var ortEnv = &runtimeEnv{
	initialized: ort.IsInitialized,
	setLibrary:  ort.SetSharedLibraryPath,
	initialize:  func() error { return ort.InitializeEnvironment() },
}

func (e *runtimeEnv) init(libraryPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized() {
		return nil
	}
	if libraryPath != "" {
		e.setLibrary(libraryPath)
	}
	return e.initialize()
}

// Shutdown releases the ONNX Runtime environment. Call once at exit, after
// every session is closed.
func Shutdown() {
	if ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

type Options struct {
	ModelPath    string
	MetadataPath string
	LibraryPath  string
	NumThreads   int
}

// Session is a loaded tile classifier. Classify is safe for concurrent use;
// every call allocates and destroys its own tensors.
type Session struct {
	session  *ort.DynamicAdvancedSession
	Metadata Metadata
	spec     Spec
}

func Open(opts Options) (*Session, error) {
	if err := ortEnv.init(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	metadata, err := ReadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	spec, err := metadata.Resolve()
	if err != nil {
		return nil, fmt.Errorf("unsupported model metadata: %w", err)
	}

	if err := checkModelOutput(opts.ModelPath, metadata); err != nil {
		return nil, err
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessOpts.Destroy()

	if opts.NumThreads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(opts.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		sessOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:  session,
		Metadata: metadata,
		spec:     spec,
	}, nil
}

// checkModelOutput compares the declared output width in metadata with the
// one recorded in the model file itself.
func checkModelOutput(modelPath string, meta Metadata) error {
	_, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fmt.Errorf("failed to inspect model: %w", err)
	}

	return matchOutput(outputs, meta)
}

func matchOutput(outputs []ort.InputOutputInfo, meta Metadata) error {
	for _, info := range outputs {
		if info.Name != meta.OutputName {
			continue
		}
		if !sameWidth(info.Dimensions, meta.OutputShape) {
			return fmt.Errorf("model output %q has shape %v, metadata declares %v", info.Name, info.Dimensions, meta.OutputShape)
		}
		return nil
	}
	return fmt.Errorf("model has no output named %q", meta.OutputName)
}

// sameWidth reports whether got and want agree on rank and on the last
// dimension. A dynamic (non-positive) width in got matches anything.
func sameWidth(got, want []int64) bool {
	if len(got) != len(want) || len(got) == 0 {
		return false
	}
	last := got[len(got)-1]
	return last <= 0 || last == want[len(want)-1]
}

func (s *Session) Layout() inference.Layout {
	return s.spec.Layout
}

func (s *Session) Classify(ctx context.Context, batch []tiles.Tile) ([]float32, error) {
	out := make([]float32, 0, len(batch)*s.spec.Layout.Width())
	for _, r := range planRuns(len(batch), s.spec.FixedBatch) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		out, err = s.run(out, batch[r.start:r.end], r.rows)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// modelRun is one session call: tiles [start, end) fed as a batch of rows.
type modelRun struct {
	start, end, rows int
}

// planRuns splits n tiles into session calls. A dynamic batch (fixed == 0)
// takes everything at once; a fixed batch takes fixed rows per call and the
// last call is padded up to fixed.
func planRuns(n, fixed int) []modelRun {
	if n == 0 {
		return nil
	}
	if fixed <= 0 {
		return []modelRun{{start: 0, end: n, rows: n}}
	}

	runs := make([]modelRun, 0, (n+fixed-1)/fixed)
	for start := 0; start < n; start += fixed {
		runs = append(runs, modelRun{start: start, end: min(start+fixed, n), rows: fixed})
	}
	return runs
}

// run classifies up to rows tiles in one call, zero-filling unused rows of a
// fixed-size batch, and appends the outputs for the real tiles to dst.
func (s *Session) run(dst []float32, batch []tiles.Tile, rows int) ([]float32, error) {
	input := packBatch(batch, rows, s.spec.ChannelsFirst)

	inputTensor, err := ort.NewTensor(s.inputShape(rows), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](s.outputShape(rows))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := s.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return appendOutputs(dst, outputTensor.GetData(), len(batch), s.spec.Layout.Width())
}

// appendOutputs keeps the values of the first n rows and drops the padding
// rows of a fixed-size batch.
func appendOutputs(dst, data []float32, n, width int) ([]float32, error) {
	want := n * width
	if len(data) < want {
		return nil, fmt.Errorf("output tensor holds %d values, need %d", len(data), want)
	}
	return append(dst, data[:want]...), nil
}

func (s *Session) inputShape(rows int) ort.Shape {
	if s.spec.ChannelsFirst {
		return ort.NewShape(int64(rows), tiles.Channels, tiles.TileSize, tiles.TileSize)
	}
	return ort.NewShape(int64(rows), tiles.TileSize, tiles.TileSize, tiles.Channels)
}

func (s *Session) outputShape(rows int) ort.Shape {
	if s.spec.ScalarOutput {
		return ort.NewShape(int64(rows))
	}
	return ort.NewShape(int64(rows), int64(s.spec.Layout.Width()))
}

func (s *Session) Close() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
}

// packBatch builds the input of a rows-deep batch. Rows past len(batch) stay
// zero.
func packBatch(batch []tiles.Tile, rows int, channelsFirst bool) []float32 {
	input := make([]float32, rows*tiles.TileLen)
	packInput(input, batch, channelsFirst)
	return input
}

// packInput writes tiles into dst as NHWC, or NCHW when channelsFirst.
func packInput(dst []float32, batch []tiles.Tile, channelsFirst bool) {
	const plane = tiles.TileSize * tiles.TileSize
	for i, t := range batch {
		base := dst[i*tiles.TileLen : (i+1)*tiles.TileLen]
		if !channelsFirst {
			copy(base, t.Pix)
			continue
		}
		for p := 0; p < plane; p++ {
			for c := 0; c < tiles.Channels; c++ {
				base[c*plane+p] = t.Pix[p*tiles.Channels+c]
			}
		}
	}
}
