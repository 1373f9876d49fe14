package encoding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tafkit/internal/api"
	"tafkit/internal/logging"
	"tafkit/internal/notifications"
	"tafkit/internal/registry"
	"tafkit/internal/services"
	"tafkit/internal/textutil"
)

const (
	component = "encoding"

	// audioIDOffset is subtracted from the unix time to form the container audio ID.
	audioIDOffset = 0x50000000
)

var (
	ErrBusy          = errors.New("an encode is already in progress")
	ErrNoOutputName  = errors.New("output name is empty")
	ErrNoLocalLoader = errors.New("local encoding is not configured")
)

// Mode names the encode path.
type Mode string

const (
	ModeServer Mode = "server"
	ModeLocal  Mode = "local"
)

// Client is the server surface the invoker needs. *api.Client satisfies it.
type Client interface {
	UploadFiles(ctx context.Context, dir string, files []api.UploadFile) error
	EncodeFiles(ctx context.Context, sources []string, target string) error
	UploadTAF(ctx context.Context, name, dir string, content io.Reader) error
}

// Options configures an Invoker.
type Options struct {
	UseLocal  bool
	Bitrate   int
	Directory string
	Loader    Loader
	Notifier  notifications.Notifier
	Logger    *slog.Logger
	// Now overrides the clock used for audio IDs.
	Now func() time.Time
	// TempDir holds local encoder output before upload.
	TempDir string
}

// Result describes a finished encode.
type Result struct {
	Mode    Mode
	Target  string
	Sources int
}

// Invoker encodes the registry contents into one container.
type Invoker struct {
	client   Client
	reg      *registry.Registry
	notifier notifications.Notifier
	logger   *slog.Logger
	loader   Loader
	now      func() time.Time
	tempDir  string

	settingsMu sync.Mutex
	useLocal   bool
	bitrate    int
	directory  string

	uploading  atomic.Bool
	processing atomic.Bool

	loadMu  sync.Mutex
	encoder LocalEncoder
}

// NewInvoker wires an invoker to the registry it drains.
func NewInvoker(client Client, reg *registry.Registry, opts Options) *Invoker {
	inv := &Invoker{
		client:    client,
		reg:       reg,
		notifier:  opts.Notifier,
		logger:    logging.NewComponentLogger(opts.Logger, component),
		loader:    opts.Loader,
		now:       opts.Now,
		tempDir:   opts.TempDir,
		useLocal:  opts.UseLocal,
		bitrate:   opts.Bitrate,
		directory: cleanDir(opts.Directory),
	}
	if inv.notifier == nil {
		inv.notifier = notifications.NewNop()
	}
	if inv.now == nil {
		inv.now = time.Now
	}
	if inv.bitrate <= 0 {
		inv.bitrate = 96
	}
	return inv
}

// SetUseLocal toggles local encoding.
func (inv *Invoker) SetUseLocal(v bool) {
	inv.settingsMu.Lock()
	inv.useLocal = v
	inv.settingsMu.Unlock()
}

// SetBitrate changes the local encoder bitrate; non-positive values are ignored.
func (inv *Invoker) SetBitrate(v int) {
	if v <= 0 {
		return
	}
	inv.settingsMu.Lock()
	inv.bitrate = v
	inv.settingsMu.Unlock()
}

// Settings returns the local flag and bitrate.
func (inv *Invoker) Settings() (useLocal bool, bitrate int) {
	inv.settingsMu.Lock()
	defer inv.settingsMu.Unlock()
	return inv.useLocal, inv.bitrate
}

// Busy reports the in-flight flags.
func (inv *Invoker) Busy() (uploading, processing bool) {
	return inv.uploading.Load(), inv.processing.Load()
}

// ChooseMode returns the local path only when local encoding is enabled and
// every source is a local file.
func ChooseMode(useLocal bool, sources []registry.Source) Mode {
	if !useLocal || len(sources) == 0 {
		return ModeServer
	}
	for _, src := range sources {
		if !src.IsLocal() {
			return ModeServer
		}
	}
	return ModeLocal
}

// AudioID derives the container audio ID from t.
func AudioID(t time.Time) int64 {
	return t.Unix() - audioIDOffset
}

// Encode runs the batch in dir (the configured default when empty). With no
// sources it does nothing and returns a zero Result.
func (inv *Invoker) Encode(ctx context.Context, dir string) (Result, error) {
	if !inv.uploading.CompareAndSwap(false, true) {
		return Result{}, services.Wrap(services.ErrValidation, component, "encode", "busy", ErrBusy)
	}
	defer inv.uploading.Store(false)

	snap := inv.reg.Snapshot()
	if len(snap.Sources) == 0 {
		return Result{}, nil
	}
	name := textutil.NormalizeName(snap.OutputName)
	if name == "" {
		return Result{}, services.Wrap(services.ErrValidation, component, "encode", "set an output name first", ErrNoOutputName)
	}
	if err := textutil.CheckFileName(name); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, component, "encode", err.Error(), registry.ErrUnsafeName)
	}

	dir = cleanDir(dir)
	if dir == "" {
		inv.settingsMu.Lock()
		dir = inv.directory
		inv.settingsMu.Unlock()
	}
	useLocal, bitrate := inv.Settings()
	mode := ChooseMode(useLocal, snap.Sources)
	key := "encoding-" + name + ".taf"
	logger := inv.logger.With(
		logging.String("mode", string(mode)),
		logging.String("target", joinPath(dir, name+".taf")),
		logging.Int("sources", len(snap.Sources)),
	)

	var err error
	if mode == ModeLocal {
		err = inv.encodeLocal(ctx, logger, key, dir, name, bitrate, snap.Sources)
	} else {
		err = inv.encodeServer(ctx, logger, key, dir, name, snap.Sources)
	}
	_ = inv.notifier.Done(ctx, key)
	if err != nil {
		logger.Warn("encode failed", logging.Error(err))
		_ = notifications.Error(ctx, inv.notifier, "Upload failed", services.Reason(err, "encode failed"))
		return Result{}, err
	}

	inv.reg.Clear()
	logger.Info("encode complete")
	_ = notifications.Success(ctx, inv.notifier, "Upload successful", name+".taf")
	return Result{Mode: mode, Target: joinPath(dir, name+".taf"), Sources: len(snap.Sources)}, nil
}

func (inv *Invoker) encodeServer(ctx context.Context, logger *slog.Logger, key, dir, name string, sources []registry.Source) error {
	_ = inv.notifier.Progress(ctx, key, "Uploading", name+".taf")

	var uploads []api.UploadFile
	for _, src := range sources {
		if src.IsLocal() {
			uploads = append(uploads, api.UploadFile{Name: src.Name, Path: src.LocalPath})
		}
	}
	if len(uploads) > 0 {
		logger.Info("uploading local sources", logging.Int("files", len(uploads)))
		if err := inv.client.UploadFiles(ctx, dir, uploads); err != nil {
			return err
		}
	}

	sourcePaths := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.IsLocal() {
			sourcePaths = append(sourcePaths, joinPath(dir, src.Name))
		} else {
			sourcePaths = append(sourcePaths, strings.TrimPrefix(src.ServerPath, "/"))
		}
	}

	inv.processing.Store(true)
	defer inv.processing.Store(false)
	_ = inv.notifier.Progress(ctx, key, "Processing", "Encoding on server")
	return inv.client.EncodeFiles(ctx, sourcePaths, joinPath(dir, name+".taf"))
}

func (inv *Invoker) encodeLocal(ctx context.Context, logger *slog.Logger, key, dir, name string, bitrate int, sources []registry.Source) error {
	inv.processing.Store(true)
	defer inv.processing.Store(false)

	encoder, err := inv.localEncoder(ctx, key)
	if err != nil {
		return err
	}

	if inv.tempDir != "" {
		if err := os.MkdirAll(inv.tempDir, 0o755); err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
	}
	tmpDir, err := os.MkdirTemp(inv.tempDir, workDirPrefix)
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	job := Job{
		AudioID: AudioID(inv.now()),
		Bitrate: bitrate,
		Output:  filepath.Join(tmpDir, name+".taf"),
	}
	for _, src := range sources {
		job.Inputs = append(job.Inputs, src.LocalPath)
		job.Names = append(job.Names, src.Name)
	}
	logger.Info("encoding locally", logging.Int("bitrate", bitrate), logging.Int64("audio_id", job.AudioID))
	_ = inv.notifier.Progress(ctx, key, "Processing", "Encoding locally")

	err = encoder.Encode(ctx, job, func(index, total int, current string) {
		_ = inv.notifier.Progress(ctx, key, "Processing", fmt.Sprintf("Encoding %d/%d: %s", index+1, total, current))
	})
	if err != nil {
		return services.Wrap(services.ErrRemote, component, "local encode", err.Error(), err)
	}
	inv.processing.Store(false)

	_ = inv.notifier.Progress(ctx, key, "Uploading", name+".taf")
	f, err := os.Open(job.Output)
	if err != nil {
		return fmt.Errorf("open encoded container: %w", err)
	}
	defer f.Close()
	return inv.client.UploadTAF(ctx, name+".taf", dir, f)
}

// localEncoder loads the encoder on first use. Failed loads are retried on
// the next call.
func (inv *Invoker) localEncoder(ctx context.Context, key string) (LocalEncoder, error) {
	inv.loadMu.Lock()
	defer inv.loadMu.Unlock()
	if inv.encoder != nil {
		return inv.encoder, nil
	}
	if inv.loader == nil {
		return nil, services.Wrap(services.ErrValidation, component, "load encoder", "no local encoder configured", ErrNoLocalLoader)
	}
	_ = inv.notifier.Progress(ctx, key, "Loading", "Loading local encoder")
	enc, err := inv.loader(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "load encoder", err.Error(), err)
	}
	inv.encoder = enc
	return enc, nil
}

func cleanDir(dir string) string {
	return strings.Trim(strings.TrimSpace(dir), "/")
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
