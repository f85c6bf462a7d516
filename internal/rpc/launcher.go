package rpc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/groutine"
)

// Environment handed to a launched background client
const (
	EnvDispatchID = "BEACONMON_DISPATCH_ID"
	EnvCallbackID = "BEACONMON_CALLBACK_ID"
	EnvSocket     = "BEACONMON_SOCKET"
)

// LaunchEnv identifies the background client to bring up
type LaunchEnv struct {
	DispatchID int64
	CallbackID int64
	Socket     string
}

// Launcher brings up a background client. The client reports readiness by
// calling backgroundInitialized; cancelling ctx abandons it.
type Launcher interface {
	Launch(ctx context.Context, env LaunchEnv) error
}

// NopLauncher launches nothing and waits for a background client to connect
type NopLauncher struct{}

func (NopLauncher) Launch(context.Context, LaunchEnv) error { return nil }

// ExecLauncher starts Command for every bring-up. The process is killed when
// the bring-up context is cancelled.
type ExecLauncher struct {
	Command []string
	Logger  *logrus.Logger
}

func (l *ExecLauncher) Launch(ctx context.Context, env LaunchEnv) error {
	if len(l.Command) == 0 {
		return fmt.Errorf("background command is not configured")
	}
	logger := l.Logger
	if logger == nil {
		logger = logrus.New()
	}

	cmd := exec.CommandContext(ctx, l.Command[0], l.Command[1:]...)
	cmd.Env = append(os.Environ(),
		EnvDispatchID+"="+strconv.FormatInt(env.DispatchID, 10),
		EnvCallbackID+"="+strconv.FormatInt(env.CallbackID, 10),
		EnvSocket+"="+env.Socket,
	)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start background command %q: %w", l.Command[0], err)
	}

	logger.WithFields(logrus.Fields{
		"command": l.Command[0],
		"pid":     cmd.Process.Pid,
	}).Info("Background client launched")

	groutine.Go(context.Background(), "background-client", func(context.Context) {
		err := cmd.Wait()
		logger.WithError(err).WithField("pid", cmd.Process.Pid).Debug("Background client exited")
	})
	return nil
}
