// Package cli holds the flag handling shared by every demo program.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

// ErrInputNotFound is returned when an -input path does not exist.
var ErrInputNotFound = errors.New("input not found")

// Extensions recognized when an input directory is expanded.
var Extensions = map[string][]string{
	"image": {"*.png", "*.jpg", "*.jpeg"},
	"video": {"*.mp4"},
}

// Args are the flags every demo understands.
type Args struct {
	Inputs         []string
	SavePath       string
	Video          string
	Benchmark      bool
	BenchmarkCount int
	LibraryPath    string
	GPU            bool
	Threads        int
	Debug          bool
	ModelDir       string
	Headless       bool
}

// Parser wraps a flag set preloaded with the shared flags. Demos register
// their own flags on Flags() before calling Parse.
type Parser struct {
	fs           *flag.FlagSet
	args         Args
	inputs       stringList
	defaultInput string
	modality     string
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// NewParser creates the parser for a demo. defaultInput and defaultSave may
// be empty.
func NewParser(name, description, defaultInput, defaultSave string) *Parser {
	p := &Parser{
		fs:           flag.NewFlagSet(name, flag.ContinueOnError),
		defaultInput: defaultInput,
		modality:     "image",
	}
	fs := p.fs
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "%s\n\nUsage of %s:\n", description, name)
		fs.PrintDefaults()
	}
	fs.Var(&p.inputs, "input", "input image path or directory, may be repeated (default \""+defaultInput+"\")")
	fs.StringVar(&p.args.SavePath, "savepath", defaultSave, "save path for the output image or video")
	fs.StringVar(&p.args.Video, "video", "", "video path; a number selects that webcam")
	fs.BoolVar(&p.args.Benchmark, "benchmark", false, "repeat inference to measure execution time")
	fs.IntVar(&p.args.BenchmarkCount, "benchmark_count", 5, "number of benchmark iterations")
	fs.StringVar(&p.args.LibraryPath, "ort", model.DefaultLibraryPath(), "onnxruntime shared library")
	fs.BoolVar(&p.args.GPU, "gpu", false, "run on CUDA when available")
	fs.IntVar(&p.args.Threads, "threads", 0, "intra-op threads, 0 lets the runtime decide")
	fs.BoolVar(&p.args.Debug, "debug", false, "verbose logging")
	fs.StringVar(&p.args.ModelDir, "model_dir", ".", "directory that caches downloaded models")
	fs.BoolVar(&p.args.Headless, "headless", false, "do not open a preview window in video mode")
	return p
}

// Flags exposes the flag set for demo specific flags.
func (p *Parser) Flags() *flag.FlagSet { return p.fs }

// Modality switches directory expansion to another entry of Extensions.
func (p *Parser) Modality(m string) { p.modality = m }

// Parse parses argv, configures logging and expands the inputs.
func (p *Parser) Parse(argv []string) (*Args, error) {
	if err := p.fs.Parse(argv); err != nil {
		return nil, err
	}
	SetupLogging(os.Stderr, p.args.Debug)

	raw := []string(p.inputs)
	if len(raw) == 0 && p.defaultInput != "" {
		raw = []string{p.defaultInput}
	}
	// Inputs only matter when no video source is given.
	if p.args.Video == "" {
		inputs, err := ExpandInputs(raw, Extensions[p.modality])
		if err != nil {
			return nil, err
		}
		p.args.Inputs = inputs
	} else {
		p.args.Inputs = raw
	}
	return &p.args, nil
}

// MustParse parses os.Args and exits on error.
func (p *Parser) MustParse() *Args {
	args, err := p.Parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		slog.Error("invalid arguments", "error", err)
		os.Exit(2)
	}
	return args
}

// ModelOptions turns the engine flags into load options.
func (a *Args) ModelOptions() model.Options {
	return model.Options{UseGPU: a.GPU, Threads: a.Threads}
}

// Loader initializes the runtime and returns a loader caching into -model_dir.
func (a *Args) Loader() (*model.Loader, error) {
	if err := model.Init(a.LibraryPath); err != nil {
		return nil, err
	}
	return model.NewLoader(a.ModelDir, a.ModelOptions())
}

// ExpandInputs replaces directories with the files inside them that match
// patterns. Files are kept in the order given; directory contents are sorted.
func ExpandInputs(paths []string, patterns []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, ErrInputNotFound)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		var found []string
		for _, pattern := range patterns {
			matches, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, err
			}
			found = append(found, matches...)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

// SavePath decides where the result for src goes. A savepath with an
// extension is used as is; otherwise it is treated as a directory and the
// file is named after src with postfix and ext (src's own extension when ext
// is empty).
func SavePath(savepath, src, postfix, ext string) (string, error) {
	if filepath.Ext(savepath) != "" {
		if ext != "" {
			return strings.TrimSuffix(savepath, filepath.Ext(savepath)) + ext, nil
		}
		return savepath, nil
	}
	if err := os.MkdirAll(savepath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	base := filepath.Base(src)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if ext == "" {
		ext = filepath.Ext(base)
	}
	return filepath.Join(savepath, stem+postfix+ext), nil
}

// SetupLogging installs the default slog handler.
func SetupLogging(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// Benchmark runs fn count times and logs each run and the average, leaving
// the first warm-up run out of the average.
func Benchmark(count int, fn func() error) error {
	slog.Info("BENCHMARK mode")
	var total time.Duration
	for i := 0; i < count; i++ {
		start := time.Now()
		if err := fn(); err != nil {
			return err
		}
		elapsed := time.Since(start)
		slog.Info("processing time", "ms", elapsed.Milliseconds())
		if i != 0 {
			total += elapsed
		}
	}
	if count > 1 {
		slog.Info("average time", "ms", (total / time.Duration(count-1)).Milliseconds())
	}
	return nil
}

// Run calls fn once, or count times when benchmarking.
func (a *Args) Run(fn func() error) error {
	if a.Benchmark {
		return Benchmark(a.BenchmarkCount, fn)
	}
	return fn()
}

// EachImage loads every input and calls fn with it. Inputs that cannot be
// decoded are logged and skipped; an error from fn stops the loop.
func (a *Args) EachImage(fn func(path string, img image.Image) error) error {
	for _, path := range a.Inputs {
		slog.Info("Input", "path", path)
		img, err := imageutil.Load(path)
		if err != nil {
			slog.Error("failed to read input", "path", path, "error", err)
			continue
		}
		if err := fn(path, img); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

var videoExtensions = map[string]bool{".avi": true, ".mp4": true, ".mkv": true, ".mov": true}

// VideoOutput returns savepath when it names a video file and "" otherwise,
// so that video runs only record when asked to.
func VideoOutput(savepath string) string {
	if videoExtensions[strings.ToLower(filepath.Ext(savepath))] {
		return savepath
	}
	return ""
}

// Saved logs where an artifact was written.
func Saved(path string) {
	slog.Info("saved at : " + path)
}
