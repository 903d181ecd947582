// Copyright 2015 Aleksandr Demakin. All rights reserved.

// Package test contains helpers to run test programs in separate processes.
package test

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// TestAppResult is a result of a 'go run' program launch.
type TestAppResult struct {
	Output string
	Err    error
}

func startTestApp(ctx context.Context, args []string) (*exec.Cmd, *bytes.Buffer, error) {
	args = append([]string{"run"}, args...)
	cmd := exec.CommandContext(ctx, "go", args...)
	buff := bytes.NewBuffer(nil)
	cmd.Stderr = buff
	cmd.Stdout = buff
	if err := cmd.Start(); err != nil {
		return nil, nil, errors.Wrap(err, "failed to start a test app")
	}
	return cmd, buff, nil
}

func waitForCommand(cmd *exec.Cmd, buff *bytes.Buffer) (result TestAppResult) {
	if result.Err = cmd.Wait(); result.Err != nil {
		if exiterr, ok := result.Err.(*exec.ExitError); ok {
			if status, ok := exiterr.Sys().(syscall.WaitStatus); ok {
				result.Err = errors.Errorf("%v, status code = %d", result.Err, status.ExitStatus())
			}
		}
	} else if !cmd.ProcessState.Success() {
		result.Err = errors.New("process has exited with an error")
	}
	result.Output = buff.String()
	return
}

// RunTestApp starts a go program via 'go run' and waits for it to finish.
// The process is killed, if ctx is done before that.
func RunTestApp(ctx context.Context, args []string) (result TestAppResult) {
	if cmd, buff, err := startTestApp(ctx, args); err == nil {
		result = waitForCommand(cmd, buff)
	} else {
		result.Err = err
	}
	return
}

// RunTestAppAsync starts a go program via 'go run' and returns immediately.
// To wait for the program to finish, receive on the returned chan.
func RunTestAppAsync(ctx context.Context, args []string) <-chan TestAppResult {
	ch := make(chan TestAppResult, 1)
	if cmd, buff, err := startTestApp(ctx, args); err != nil {
		ch <- TestAppResult{Err: err}
	} else {
		go func() {
			ch <- waitForCommand(cmd, buff)
		}()
	}
	return ch
}

// WaitForAppResultChan waits for a value from ch with a timeout.
func WaitForAppResultChan(ch <-chan TestAppResult, d time.Duration) (TestAppResult, bool) {
	select {
	case value := <-ch:
		return value, true
	case <-time.After(d):
		return TestAppResult{}, false
	}
}

// LocatePackageFiles returns a slice of all the buildable source files in the given directory.
// The paths are prefixed with the directory.
func LocatePackageFiles(path string) ([]string, error) {
	cmd := exec.Command("go", "list", "-f", "{{.GoFiles}}", path)
	buff := bytes.NewBuffer(nil)
	cmd.Stderr = buff
	cmd.Stdout = buff
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start go list")
	}
	result := waitForCommand(cmd, buff)
	if result.Err != nil {
		return nil, errors.Wrapf(result.Err, "go list failed: %s", result.Output)
	}
	files := buildFilesFromOutput(result.Output)
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	for i := range files {
		files[i] = path + files[i]
	}
	return files, nil
}

func buildFilesFromOutput(output string) []string {
	output = strings.TrimSpace(output)
	output = strings.Trim(output, "[]")
	parts := strings.Split(output, " ")
	for i := 0; i < len(parts); i++ {
		if !strings.HasSuffix(parts[i], ".go") {
			for j := i + 1; j < len(parts); j++ {
				needBrake := strings.HasSuffix(parts[j], ".go")
				parts[i] += parts[j]
				parts[j] = ""
				if needBrake {
					break
				}
			}
		}
	}
	result := parts[:0]
	for _, part := range parts {
		if len(part) > 0 {
			result = append(result, part)
		}
	}
	return result
}
