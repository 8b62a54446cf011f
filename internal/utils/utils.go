package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (detector and FFmpeg logs)
// This ensures we don't lose critical crash information if a child process dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
// The process is killed if ctx is cancelled.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps child process logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 SKUSCAN ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nCHILD PROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for skuscan.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Video Probing ---

// VideoInfo is what ffprobe tells us about the first video stream.
type VideoInfo struct {
	Width  int
	Height int
	FPS    float64
	Frames int // 0 when unknown
}

type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// ProbeVideo uses ffprobe to read dimensions, frame rate and (if the container has it) the frame count.
// An error here means the file cannot be decoded as video.
func ProbeVideo(ctx context.Context, path string) (VideoInfo, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe failed: %w (%s)", err, strings.TrimSpace(cmd.Stderr.String()))
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (VideoInfo, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream found")
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
	}

	fps := ParseFrameRate(s.AvgFrameRate)
	if fps <= 0 {
		fps = ParseFrameRate(s.RFrameRate)
	}
	frames, _ := strconv.Atoi(s.NbFrames)
	return VideoInfo{Width: s.Width, Height: s.Height, FPS: fps, Frames: frames}, nil
}

// ParseFrameRate turns ffprobe's "30000/1001" or "25" into frames per second. Returns 0 on garbage.
func ParseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// CountFrames counts packets with ffprobe for the progress bar.
// It is slow on long videos and returns 0 if the count fails, allowing callers to fall back to a spinner.
func CountFrames(ctx context.Context, path string) int {
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	cmd := NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// --- 3. Video Decoding ---

// NewFFmpegRawDecoder creates a decoder that writes raw RGBA frames of the source size to Stdout.
// With realtime set, FFmpeg paces its output at the input's native frame rate.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string, realtime bool) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if realtime {
		args = append(args, "-re")
	}
	args = append(args, "-i", inputPath, "-an", "-f", "rawvideo", "-pix_fmt", "rgba", "-")
	return NewSafeCommand(ctx, "ffmpeg", args...)
}

// GenerateVideoID creates a deterministic hash for the video file
// based on its path, size, and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
