// Package updater drives a version refresh: load the manifest, ask the index
// for every tool in document order, then write the manifest back.
package updater

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/toolversions/index"
	"github.com/petal-labs/toolversions/manifest"
)

// Fetcher resolves the latest version of one tool. *index.Client satisfies it.
type Fetcher interface {
	LatestVersion(ctx context.Context, name string) (string, error)
}

// Status is the outcome of one tool in a run.
type Status string

const (
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	StatusFailed    Status = "failed"
)

// Result is the outcome for one tool. On failure Version equals Previous.
type Result struct {
	Tool     string
	Previous string
	Version  string
	Status   Status
	Err      error
	Duration time.Duration
}

// Report summarizes one run. Results are in manifest order. Err is set when
// the run was aborted or the manifest could not be written.
type Report struct {
	RunID      string
	Path       string
	Results    []Result
	StartedAt  time.Time
	FinishedAt time.Time
	Written    bool
	DryRun     bool
	Err        error
}

// Count returns the number of results with the given status.
func (r Report) Count(status Status) int {
	n := 0
	for _, result := range r.Results {
		if result.Status == status {
			n++
		}
	}
	return n
}

// Duration returns the wall time of the run.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Config configures an Updater.
type Config struct {
	Fetcher  Fetcher
	Observer Observer
	Logger   *slog.Logger
	// DryRun fetches and reports without writing the manifest.
	DryRun   bool
	Now      func() time.Time
	NewRunID func() string
}

// Updater runs the load, fetch, write pipeline. It is sequential: one request
// is in flight at a time.
type Updater struct {
	fetcher  Fetcher
	observer Observer
	logger   *slog.Logger
	dryRun   bool
	now      func() time.Time
	newRunID func() string
}

// New creates an updater.
func New(cfg Config) (*Updater, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("updater: fetcher is nil")
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = uuid.NewString
	}
	return &Updater{
		fetcher:  cfg.Fetcher,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		dryRun:   cfg.DryRun,
		now:      cfg.Now,
		newRunID: cfg.NewRunID,
	}, nil
}

// Run refreshes the manifest stored at path. A load failure is returned
// before any request is made and the file is left untouched. Per-tool fetch
// failures are recorded in the report and never fail the run. If ctx is
// cancelled the loop stops and nothing is written.
func (u *Updater) Run(ctx context.Context, path string) (Report, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return Report{Path: path}, err
	}

	report, err := u.Refresh(ctx, m)
	report.Path = path
	report.DryRun = u.dryRun
	if err != nil {
		u.logger.Warn("update aborted, manifest not written", "run_id", report.RunID, "error", err)
		return u.finish(ctx, report, err)
	}

	if !u.dryRun {
		if err := manifest.Save(path, m); err != nil {
			u.logger.Error("manifest write failed", "run_id", report.RunID, "path", path, "error", err)
			return u.finish(ctx, report, err)
		}
		report.Written = true
	}

	u.logger.Info("update finished",
		"run_id", report.RunID,
		"path", path,
		"tools", len(report.Results),
		"updated", report.Count(StatusUpdated),
		"failed", report.Count(StatusFailed),
		"written", report.Written,
		"duration", report.Duration(),
	)
	return u.finish(ctx, report, nil)
}

func (u *Updater) finish(ctx context.Context, report Report, err error) (Report, error) {
	report.Err = err
	u.observer.ObserveRun(context.WithoutCancel(ctx), report)
	return report, err
}

// Refresh queries the index for every tool in m and applies the versions it
// finds to m in place. The only error it returns is a context error.
func (u *Updater) Refresh(ctx context.Context, m *manifest.Manifest) (Report, error) {
	report := Report{RunID: u.newRunID(), StartedAt: u.now()}
	if m == nil {
		report.FinishedAt = report.StartedAt
		return report, errors.New("updater: manifest is nil")
	}
	logger := u.logger.With("run_id", report.RunID)

	for _, entry := range m.Entries() {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = u.now()
			return report, err
		}
		result := u.refreshOne(ctx, m, entry)
		report.Results = append(report.Results, result)
		logResult(logger, result)
		u.observer.ObserveResult(ctx, report.RunID, result)
		// A lookup interrupted by cancellation aborts the run, even on the last tool.
		if err := ctx.Err(); err != nil {
			report.FinishedAt = u.now()
			return report, err
		}
	}

	report.FinishedAt = u.now()
	return report, nil
}

func (u *Updater) refreshOne(ctx context.Context, m *manifest.Manifest, entry manifest.Entry) Result {
	start := u.now()
	version, err := u.fetcher.LatestVersion(ctx, entry.Name)
	result := Result{
		Tool:     entry.Name,
		Previous: entry.Version,
		Version:  entry.Version,
		Duration: u.now().Sub(start),
	}
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	m.SetVersion(entry.Name, version)
	result.Version = version
	if version == entry.Version {
		result.Status = StatusUnchanged
	} else {
		result.Status = StatusUpdated
	}
	return result
}

func logResult(logger *slog.Logger, result Result) {
	switch result.Status {
	case StatusUpdated:
		logger.Info("tool updated", "tool", result.Tool, "previous", result.Previous, "version", result.Version)
	case StatusUnchanged:
		logger.Debug("tool up to date", "tool", result.Tool, "version", result.Version)
	case StatusFailed:
		attrs := []any{"tool", result.Tool, "error", result.Err}
		if code := index.ErrorCode(result.Err); code != "" {
			attrs = append(attrs, "error_code", code)
		}
		var fetchErr *index.FetchError
		if errors.As(result.Err, &fetchErr) && fetchErr.StatusCode != 0 {
			attrs = append(attrs, "status_code", fetchErr.StatusCode)
		}
		logger.Warn("version lookup failed", attrs...)
	}
}
