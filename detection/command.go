package detection

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/hupe1980/reid/codec"
)

// CommandTrainer runs an external detection trainer.
//
// The command is invoked as
//
//	Path Args... --data D --model M --epochs N --batch B --imgsz S
//	    --workers W --patience P --device DEV --project OUT
//
// and must print its result as a single JSON line on stdout:
//
//	{"metrics":{"map50":0.91,"map50_95":0.66,"precision":0.9,"recall":0.87},"artifact":"runs/best.pt"}
//
// Other stdout lines are ignored; the last JSON line wins. Stderr is
// forwarded to the logger line by line.
type CommandTrainer struct {
	Path string
	Args []string
	// Env is the process environment. nil inherits the current one.
	Env    []string
	Logger *slog.Logger
}

var _ Trainer = (*CommandTrainer)(nil)

func (t *CommandTrainer) args(ds Dataset, p Params) []string {
	args := append([]string(nil), t.Args...)
	return append(args,
		"--data", ds.Descriptor,
		"--model", p.Model,
		"--epochs", strconv.Itoa(p.Epochs),
		"--batch", strconv.Itoa(p.BatchSize),
		"--imgsz", strconv.Itoa(p.ImageSize),
		"--workers", strconv.Itoa(p.Workers),
		"--patience", strconv.Itoa(p.Patience),
		"--device", p.Device,
		"--project", p.OutputDir,
	)
}

// Train implements Trainer.
func (t *CommandTrainer) Train(ctx context.Context, ds Dataset, p Params) (*Result, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if ds.Descriptor == "" {
		return nil, fmt.Errorf("detection: empty dataset descriptor")
	}

	args := t.args(ds, p)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Path, args...)
	cmd.Env = t.Env
	cmd.Stdout = &stdout

	pr, pw := io.Pipe()
	cmd.Stderr = io.MultiWriter(&stderr, pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			logger.DebugContext(ctx, "detection trainer", "line", sc.Text())
		}
		_, _ = io.Copy(io.Discard, pr)
	}()

	logger.InfoContext(ctx, "starting detection trainer", "path", t.Path, "data", ds.Descriptor, "epochs", p.Epochs)
	err := cmd.Run()
	_ = pw.Close()
	<-done

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &CommandError{Name: t.Path, Args: args, Stderr: stderr.String(), Err: err}
	}

	res, err := parseResult(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "detection trainer finished",
		"map50", res.Metrics.MAP50,
		"map50_95", res.Metrics.MAP50_95,
		"artifact", res.Artifact,
	)
	return res, nil
}

// parseResult returns the last JSON line of out that decodes as a Result.
func parseResult(out []byte) (*Result, error) {
	var (
		json  codec.GoJSON
		found *Result
	)
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var r Result
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		found = &r
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNoResult
	}
	return found, nil
}
