package encoding

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"tafkit/internal/config"
	"tafkit/internal/deps"
	"tafkit/internal/logging"
)

// ProgressFunc receives the zero-based index of the input being encoded.
type ProgressFunc func(index, total int, name string)

// Job describes one local encode.
type Job struct {
	Inputs  []string
	Names   []string
	AudioID int64
	Bitrate int
	// Output is the container path to write.
	Output string
}

// LocalEncoder produces a container from local files.
type LocalEncoder interface {
	Encode(ctx context.Context, job Job, progress ProgressFunc) error
}

// Loader prepares a LocalEncoder. It is called at most once per successful
// load.
type Loader func(ctx context.Context) (LocalEncoder, error)

// ErrEncoderMissing is returned when the encoder binary cannot be resolved
// or its argument template is unusable.
var ErrEncoderMissing = errors.New("local encoder unavailable")

// ExecEncoder runs an external encoder binary.
type ExecEncoder struct {
	Binary string
	Args   []string
	Logger *slog.Logger
}

// ExecLoader resolves the configured binary on PATH and checks its argument
// template.
func ExecLoader(cfg *config.Config, logger *slog.Logger) Loader {
	binary := strings.TrimSpace(cfg.Encode.LocalEncoderBinary)
	args := append([]string(nil), cfg.Encode.LocalEncoderArgs...)
	return func(context.Context) (LocalEncoder, error) {
		status := deps.CheckEncoder(binary, args, false)
		if !status.Available {
			return nil, fmt.Errorf("%w: %s", ErrEncoderMissing, status.Detail)
		}
		return &ExecEncoder{Binary: status.Path, Args: args, Logger: logging.NewComponentLogger(logger, "local-encoder")}, nil
	}
}

// ExpandArgs substitutes {output}, {bitrate} and {audio_id} inside each
// template argument. An argument that is exactly {inputs} expands to one
// argument per input.
func ExpandArgs(template []string, job Job) []string {
	replacer := strings.NewReplacer(
		"{output}", job.Output,
		"{bitrate}", strconv.Itoa(job.Bitrate),
		"{audio_id}", strconv.FormatInt(job.AudioID, 10),
	)
	out := make([]string, 0, len(template)+len(job.Inputs))
	for _, arg := range template {
		if arg == "{inputs}" {
			out = append(out, job.Inputs...)
			continue
		}
		out = append(out, replacer.Replace(arg))
	}
	return out
}

// Encode runs the binary. Progress advances whenever the encoder's output
// mentions the base name of a later input.
func (e *ExecEncoder) Encode(ctx context.Context, job Job, progress ProgressFunc) error {
	if len(job.Inputs) == 0 {
		return errors.New("no inputs to encode")
	}
	args := ExpandArgs(e.Args, job)
	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Dir = filepath.Dir(job.Output)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("encoder stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &limitedWriter{w: &stderr, remaining: 4096}

	logger := e.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger.Info("launching local encoder",
		logging.String("command", e.Binary+" "+strings.Join(args, " ")),
		logging.Int("inputs", len(job.Inputs)),
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}

	total := len(job.Inputs)
	current := 0
	report := func() {
		if progress != nil {
			progress(current, total, displayName(job, current))
		}
	}
	report()
	scanProgress(stdout, job, func(index int) {
		if index > current {
			current = index
			report()
		}
	})

	if err := cmd.Wait(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("encoder failed: %w: %s", err, detail)
		}
		return fmt.Errorf("encoder failed: %w", err)
	}
	if info, err := os.Stat(job.Output); err != nil || info.Size() == 0 {
		return fmt.Errorf("encoder produced no output at %s", job.Output)
	}
	return nil
}

func scanProgress(r io.Reader, job Job, advance func(int)) {
	bases := make([]string, len(job.Inputs))
	for i, in := range job.Inputs {
		bases[i] = filepath.Base(in)
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		for i := len(bases) - 1; i >= 0; i-- {
			if strings.Contains(line, bases[i]) {
				advance(i)
				break
			}
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

func displayName(job Job, index int) string {
	if index < len(job.Names) && job.Names[index] != "" {
		return job.Names[index]
	}
	return filepath.Base(job.Inputs[index])
}

type limitedWriter struct {
	mu        sync.Mutex
	w         io.Writer
	remaining int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(p)
	if l.remaining <= 0 {
		return n, nil
	}
	if len(p) > l.remaining {
		p = p[:l.remaining]
	}
	l.remaining -= len(p)
	_, _ = l.w.Write(p)
	return n, nil
}
