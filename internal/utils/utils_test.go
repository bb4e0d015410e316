package utils

import (
	"bufio"
	"bytes"
	"context"
	"math"
	"os"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestGenerateSourceID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	// Write dummy content
	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateSourceID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateSourceID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateSourceID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}
}

func TestGenerateSourceIDStream(t *testing.T) {
	// Network sources hash the URL and never touch the filesystem
	a, err := GenerateSourceID("rtsp://cam-1.local/stream")
	if err != nil {
		t.Fatalf("Unexpected error for stream URL: %v", err)
	}
	b, _ := GenerateSourceID("rtsp://cam-2.local/stream")
	if a == b {
		t.Error("Different streams produced the same ID")
	}

	if _, err := GenerateSourceID("/does/not/exist.mp4"); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestSplitJpegMultipleFrames(t *testing.T) {
	frame1 := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	frame2 := []byte{0xFF, 0xD8, 0xBB, 0xCC, 0xFF, 0xD9}
	stream := append(append([]byte{}, frame1...), frame2...)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte{}, scanner.Bytes()...))
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], frame1) || !bytes.Equal(got[1], frame2) {
		t.Errorf("Frames were not split on marker boundaries: %X", got)
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"25/1", 25, false},
		{"30000/1001", 29.97002997, false},
		{"30", 30, false},
		{"0/0", 0, true},
		{"N/A", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFrameRate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFrameRate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("ParseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewFFmpegCmd(t *testing.T) {
	file := NewFFmpegCmd(context.Background(), "ward.mp4")
	if strings.Contains(strings.Join(file.Args, " "), "rtsp_transport") {
		t.Error("Local files should not force an RTSP transport")
	}

	stream := NewFFmpegCmd(context.Background(), "rtsp://cam/1")
	args := strings.Join(stream.Args, " ")
	if !strings.Contains(args, "-rtsp_transport tcp") {
		t.Errorf("Expected TCP transport for RTSP, got %q", args)
	}
	if !strings.HasSuffix(args, "-f image2pipe -vcodec mjpeg -") {
		t.Errorf("Expected MJPEG on stdout, got %q", args)
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err := cmd.Run(); err == nil {
		t.Fatal("Expected a non-zero exit")
	}
	if !strings.Contains(cmd.Stderr.String(), "boom") {
		t.Errorf("Expected stderr to be captured, got %q", cmd.Stderr.String())
	}
}
