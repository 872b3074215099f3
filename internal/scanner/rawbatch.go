package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoConverter means no RAW converter binary could be located.
var ErrNoConverter = errors.New("raw converter not available")

// ConverterEnvVar overrides the converter lookup when set.
const ConverterEnvVar = "PHOTOBRAIN_RAW_CONVERTER"

const converterBinaryName = "rawproc"

// Converter is a probed RAW converter binary.
type Converter struct {
	Path    string
	Version string
}

// FindConverter locates the RAW converter binary, probing in order:
// custom path, $PHOTOBRAIN_RAW_CONVERTER, then $PATH. Each candidate is
// validated by running `--version`. Returns ErrNoConverter when nothing
// usable is found; callers inject the result where it is needed instead
// of consulting shared state later.
func FindConverter(customPath string) (*Converter, error) {
	var candidates []string

	if customPath != "" {
		candidates = append(candidates, customPath)
	}
	if envPath := os.Getenv(ConverterEnvVar); envPath != "" {
		candidates = append(candidates, envPath)
	}
	if pathBin, err := exec.LookPath(converterBinaryName); err == nil {
		candidates = append(candidates, pathBin)
	}

	for _, path := range candidates {
		if conv, err := probeConverter(path); err == nil {
			return conv, nil
		}
	}
	return nil, ErrNoConverter
}

func probeConverter(path string) (*Converter, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("converter not found at %s: %w", path, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	out, err := exec.Command(absPath, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("converter probe failed for %s: %w", absPath, err)
	}

	return &Converter{
		Path:    absPath,
		Version: strings.TrimSpace(string(out)),
	}, nil
}

// ConvertResult maps one RAW input to its converted intermediate, or to
// the error that prevented conversion.
type ConvertResult struct {
	Input      string // absolute path of the RAW original
	OutputPath string // converted file inside the batch temp dir
	Err        error
}

// Batch converts a set of RAW files in a single converter invocation.
type Batch struct {
	converter      *Converter // nil means conversion is unavailable
	perFileTimeout time.Duration
	tmpDir         string
}

// NewBatch creates a batch converter. converter may be nil, in which
// case every Convert call reports ErrNoConverter per input.
func NewBatch(converter *Converter, perFileTimeout time.Duration) *Batch {
	if perFileTimeout <= 0 {
		perFileTimeout = 30 * time.Second
	}
	return &Batch{converter: converter, perFileTimeout: perFileTimeout}
}

// Available reports whether a converter binary was found.
func (b *Batch) Available() bool {
	return b.converter != nil
}

// Convert runs one converter process over all inputs, writing
// intermediates into a fresh temp dir. The timeout scales with the
// input count. Per-file success is decided by matching output files
// back to inputs by basename; the process exit code is ignored because
// partial batches exit non-zero while still producing usable output.
//
// The temp dir stays on disk for the caller to read intermediates from;
// release it with Cleanup. The only exception is a batch with zero
// outputs, which removes the dir before returning.
func (b *Batch) Convert(ctx context.Context, inputs []string) ([]ConvertResult, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	results := make([]ConvertResult, len(inputs))
	for i, in := range inputs {
		results[i] = ConvertResult{Input: in}
	}

	if b.converter == nil {
		for i := range results {
			results[i].Err = ErrNoConverter
		}
		return results, nil
	}

	// Duplicate basenames cannot be matched back to their input
	// unambiguously, so later duplicates fail up front.
	seen := make(map[string]int, len(inputs))
	var runnable []int
	for i, in := range inputs {
		base := stripExt(filepath.Base(in))
		if first, dup := seen[base]; dup {
			results[i].Err = fmt.Errorf("duplicate basename %q collides with %s", base, inputs[first])
			continue
		}
		seen[base] = i
		runnable = append(runnable, i)
	}
	if len(runnable) == 0 {
		return results, nil
	}

	tmpDir, err := os.MkdirTemp("", "photobrain-raw-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create conversion dir: %w", err)
	}
	b.tmpDir = tmpDir

	timeout := b.perFileTimeout * time.Duration(len(runnable))
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-o", tmpDir, "-c"}
	for _, i := range runnable {
		args = append(args, inputs[i])
	}

	cmd := exec.CommandContext(ctx, b.converter.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	// Match produced files back to inputs by basename.
	produced := make(map[string]string)
	if entries, readErr := os.ReadDir(tmpDir); readErr == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			produced[stripExt(e.Name())] = filepath.Join(tmpDir, e.Name())
		}
	}

	converted := 0
	for _, i := range runnable {
		base := stripExt(filepath.Base(inputs[i]))
		if out, ok := produced[base]; ok {
			results[i].OutputPath = out
			converted++
			continue
		}
		results[i].Err = conversionError(inputs[i], runErr, stderr.String(), ctx.Err())
	}

	if converted == 0 {
		b.Cleanup()
	}
	return results, nil
}

// Cleanup removes the batch temp dir. Safe to call repeatedly.
func (b *Batch) Cleanup() {
	if b.tmpDir != "" {
		os.RemoveAll(b.tmpDir)
		b.tmpDir = ""
	}
}

func conversionError(input string, runErr error, stderr string, ctxErr error) error {
	if ctxErr == context.DeadlineExceeded {
		return fmt.Errorf("conversion timed out for %s", input)
	}
	msg := strings.TrimSpace(stderr)
	if msg == "" && runErr != nil {
		msg = runErr.Error()
	}
	if msg == "" {
		msg = "no output produced"
	}
	return fmt.Errorf("conversion failed for %s: %s", input, msg)
}

func stripExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
