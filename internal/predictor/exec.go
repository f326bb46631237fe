package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/sensor"
)

// Exec runs an external model script per reading. The reading is written to
// a temporary JSON file whose path is appended to args; the process must
// print a Response as JSON on stdout and exit 0.
type Exec struct {
	command string
	args    []string
	tempDir string
}

// NewExec returns a predictor that runs command with args.
func NewExec(command string, args ...string) *Exec {
	return &Exec{command: command, args: args}
}

func (e *Exec) Predict(ctx context.Context, r sensor.Reading) (Outcome, error) {
	errFactory := errors.New()

	payload, err := json.Marshal(NewRequest(r))
	if err != nil {
		return Outcome{}, errFactory.Wrap(ErrPredictionFailed, err)
	}

	f, err := os.CreateTemp(e.tempDir, "fogpdm-reading-*.json")
	if err != nil {
		return Outcome{}, errFactory.Wrap(ErrPredictionFailed, err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(payload); err != nil {
		f.Close()
		return Outcome{}, errFactory.Wrap(ErrPredictionFailed, err)
	}
	if err := f.Close(); err != nil {
		return Outcome{}, errFactory.Wrap(ErrPredictionFailed, err)
	}

	args := append(append([]string{}, e.args...), f.Name())
	cmd := exec.CommandContext(ctx, e.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit stdout must not hold Run open past cancellation.
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return Outcome{}, errFactory.Wrap(ErrTimeout, ctx.Err())
	}
	if runErr != nil {
		return Outcome{}, errFactory.WithData(ErrPredictionFailed, struct {
			Command string
			Error   string
			Stderr  string
		}{e.command, runErr.Error(), strings.TrimSpace(stderr.String())})
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return Outcome{}, errFactory.Wrap(ErrInvalidResponse, err)
	}

	return resp.Outcome(elapsed)
}
