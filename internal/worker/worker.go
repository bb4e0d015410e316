package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/fallwatch/internal/types"
	"github.com/andresmejia3/fallwatch/internal/utils" // Using the SafeCommand wrapper
)

// DefaultScript is the detector entry point, relative to the working directory.
const DefaultScript = "python/detector.py"

// maxResponse caps a single detector reply so a corrupt header cannot allocate gigabytes.
const maxResponse = 16 * 1024 * 1024

// ErrMalformedResponse means the detector replied with something that is not JSON detections.
var ErrMalformedResponse = errors.New("malformed detector response")

// DetectorError is a failure reported by the detector itself ({"error": "..."}).
// The process is still healthy and the next frame can be sent.
type DetectorError struct {
	Msg string
}

func (e *DetectorError) Error() string {
	return "detector error: " + e.Msg
}

// IsRecoverable reports whether err only affects the current frame.
func IsRecoverable(err error) bool {
	var de *DetectorError
	return errors.As(err, &de) || errors.Is(err, ErrMalformedResponse)
}

// Options configure the detector subprocess.
type Options struct {
	Python      string        // interpreter, default python3
	Script      string        // default DefaultScript
	Model       string        // passed as --model when set
	Confidence  float64       // passed as --conf when > 0
	ReadTimeout time.Duration // 0 waits forever
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	timeout  time.Duration
}

func NewPythonWorker(ctx context.Context, id int, opts Options) (*PythonWorker, error) {
	python := opts.Python
	if python == "" {
		python = "python3"
	}
	script := opts.Script
	if script == "" {
		script = DefaultScript
	}
	args := []string{"-u", script}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Confidence > 0 {
		args = append(args, "--conf", strconv.FormatFloat(opts.Confidence, 'f', -1, 64))
	}

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, python, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  opts.ReadTimeout,
	}, nil
}

// Communicate sends one request and waits for the reply.
// Protocol: [uint32 big-endian length][body] in both directions.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// Pipes from os.Pipe support deadlines; test doubles may not.
	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.timeout)); err != nil {
			return nil, err
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("detector reply of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect runs the detector on one JPEG frame. Boxes that do not have four
// coordinates are dropped.
func (w *PythonWorker) Detect(frameIndex int, jpeg []byte) ([]types.Detection, error) {
	resp, err := w.Communicate(jpeg)
	if err != nil {
		return nil, err
	}

	var results []types.DetectionResult
	if err := json.Unmarshal(resp, &results); err != nil {
		// Check if it's a detector error object (e.g. {"error": "..."})
		var errorResult types.ErrorResult
		if json.Unmarshal(resp, &errorResult) == nil && errorResult.Error != "" {
			return nil, &DetectorError{Msg: errorResult.Error}
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	dets := make([]types.Detection, 0, len(results))
	for _, r := range results {
		if d, ok := r.Detection(frameIndex); ok {
			dets = append(dets, d)
		}
	}
	return dets, nil
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
