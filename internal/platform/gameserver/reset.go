package gameserver

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/imamik/gsclone/internal/logging"
	"github.com/imamik/gsclone/internal/util/shell"
)

// Runner executes commands on a guest.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
	RunWithInput(ctx context.Context, command string, input []byte) (string, error)
}

// ResetOptions describe the game server layout on the guest.
type ResetOptions struct {
	ServiceName    string
	Dir            string
	WorldDirs      []string
	PropertiesFile string
	LevelName      string
	Seed           string
	// StartAfter starts the service once the world is reset.
	StartAfter bool
}

// Validate checks the options before anything runs on the guest.
func (o ResetOptions) Validate() error {
	var errs []error
	if o.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if !path.IsAbs(o.Dir) {
		errs = append(errs, fmt.Errorf("server directory %q must be absolute", o.Dir))
	}
	for _, w := range o.WorldDirs {
		if err := validateRelative(w); err != nil {
			errs = append(errs, fmt.Errorf("world dir: %w", err))
		}
	}
	if err := validateRelative(o.PropertiesFile); err != nil {
		errs = append(errs, fmt.Errorf("properties file: %w", err))
	}
	if o.LevelName == "" {
		errs = append(errs, errors.New("level name is required"))
	}
	return errors.Join(errs...)
}

func validateRelative(p string) error {
	if p == "" {
		return errors.New("empty path")
	}
	clean := path.Clean(p)
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%q must stay inside the server directory", p)
	}
	return nil
}

// Step names reported in errors.
const (
	StepStopService  = "stop_service"
	StepDeleteWorlds = "delete_worlds"
	StepProperties   = "write_properties"
	StepStartService = "start_service"
)

// StepError reports which step of the sequence failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("world reset step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// RunResetSequence stops the service, deletes the world directories, writes
// level-seed and level-name and optionally starts the service again.
func RunResetSequence(ctx context.Context, r Runner, opts ResetOptions) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid reset options: %w", err)
	}
	logger := logging.FromContext(ctx).WithValues("service", opts.ServiceName)

	logger.V(1).Info("stopping game server")
	if _, err := r.Run(ctx, shell.Join("systemctl", "stop", opts.ServiceName)); err != nil {
		return &StepError{Step: StepStopService, Err: err}
	}

	if len(opts.WorldDirs) > 0 {
		args := []string{"rm", "-rf", "--"}
		for _, w := range opts.WorldDirs {
			args = append(args, path.Join(opts.Dir, w))
		}
		logger.V(1).Info("deleting worlds", "dirs", opts.WorldDirs)
		if _, err := r.Run(ctx, shell.Join(args...)); err != nil {
			return &StepError{Step: StepDeleteWorlds, Err: err}
		}
	}

	if err := writeProperties(ctx, r, opts); err != nil {
		return &StepError{Step: StepProperties, Err: err}
	}

	if opts.StartAfter {
		logger.V(1).Info("starting game server")
		if _, err := r.Run(ctx, shell.Join("systemctl", "start", opts.ServiceName)); err != nil {
			return &StepError{Step: StepStartService, Err: err}
		}
	}
	logger.Info("world reset", "seed", opts.Seed, "level", opts.LevelName)
	return nil
}

func writeProperties(ctx context.Context, r Runner, opts ResetOptions) error {
	file := path.Join(opts.Dir, opts.PropertiesFile)

	// A missing file reads as empty and is created below.
	current, err := r.Run(ctx, shell.Join("cat", "--", file)+" 2>/dev/null || true")
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	updated, err := SetProperties(current, map[string]string{
		"level-seed": opts.Seed,
		"level-name": opts.LevelName,
	})
	if err != nil {
		return err
	}

	if _, err := r.RunWithInput(ctx, "cat > "+shell.Quote(file), []byte(updated)); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}
