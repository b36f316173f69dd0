package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/zsiec/vorbisprobe/ogg"
	"github.com/zsiec/vorbisprobe/vorbis"
)

// StreamConfig describes one generated fixture and the verdict a probe is
// expected to reach on it.
type StreamConfig struct {
	Number      int     `json:"number"`
	Key         string  `json:"key"`
	Description string  `json:"description"`
	Channels    uint8   `json:"channels"`
	SampleRate  uint32  `json:"sampleRate"`
	DurationSec float64 `json:"durationSec"`
	Defect      string  `json:"defect,omitempty"`
	Expect      string  `json:"expect"`
	ExpectKind  string  `json:"expectKind,omitempty"`
}

type Manifest struct {
	Generated string         `json:"generated"`
	Streams   []StreamConfig `json:"streams"`
}

var streams = []StreamConfig{
	{Number: 1, Key: "stereo", Channels: 2, SampleRate: 44100, DurationSec: 30, Expect: "ok"},
	{Number: 2, Key: "mono_lowrate", Channels: 1, SampleRate: 8000, DurationSec: 20, Expect: "ok"},
	{Number: 3, Key: "surround", Channels: 6, SampleRate: 48000, DurationSec: 15, Expect: "ok"},
	{Number: 4, Key: "zero_framing", Channels: 2, SampleRate: 44100, DurationSec: 10,
		Defect: "zero-framing", Expect: "warning"},
	{Number: 5, Key: "sequence_gap", Channels: 2, SampleRate: 44100, DurationSec: 10,
		Defect: "sequence-gap", Expect: "warning"},
	{Number: 6, Key: "bad_crc", Channels: 2, SampleRate: 44100, DurationSec: 10,
		Defect: "bad-crc", Expect: "fatal", ExpectKind: "crc_mismatch"},
	{Number: 7, Key: "continued", Channels: 2, SampleRate: 44100, DurationSec: 10,
		Defect: "continued", Expect: "fatal", ExpectKind: "unsupported_continued_or_multi_packet_page"},
	{Number: 8, Key: "setup_header", Channels: 2, SampleRate: 44100, DurationSec: 10,
		Defect: "setup", Expect: "fatal", ExpectKind: "unsupported_setup_header"},
	{Number: 9, Key: "bad_blocksize", Channels: 2, SampleRate: 44100, DurationSec: 10,
		Defect: "bad-blocksize", Expect: "fatal", ExpectKind: "invalid_blocksize"},
}

const (
	serialBase = 0x5EED0000
	// packetsPerSecond sets how often an audio page is emitted.
	packetsPerSecond = 10
)

func main() {
	rng := rand.New(rand.NewSource(42))

	streamsDir := filepath.Join(findProjectRoot(), "test", "streams")
	if err := os.MkdirAll(streamsDir, 0755); err != nil {
		fatal("create streams dir: %v", err)
	}

	fmt.Println("=== vorbisprobe fixture generator ===")
	fmt.Printf("Generating %d Ogg Vorbis fixtures\n\n", len(streams))

	for i := range streams {
		sc := &streams[i]
		sc.Description = describe(*sc)

		data, err := buildStream(*sc, rng)
		if err != nil {
			fatal("stream %d (%s): %v", sc.Number, sc.Key, err)
		}
		outFile := filepath.Join(streamsDir, fmt.Sprintf("stream_%d.ogg", sc.Number))
		if err := os.WriteFile(outFile, data, 0644); err != nil {
			fatal("write %s: %v", outFile, err)
		}
		fmt.Printf("  %d %-14s %7d bytes  %s\n", sc.Number, sc.Key, len(data), sc.Description)
	}

	m := Manifest{Generated: time.Now().UTC().Format(time.RFC3339), Streams: streams}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fatal("marshal manifest: %v", err)
	}
	manifestPath := filepath.Join(streamsDir, "manifest.json")
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		fatal("write manifest: %v", err)
	}
	fmt.Printf("\nManifest written to %s\n", manifestPath)
}

func describe(sc StreamConfig) string {
	d := fmt.Sprintf("%d ch %d Hz, %.0fs", sc.Channels, sc.SampleRate, sc.DurationSec)
	if sc.Defect != "" {
		d += ", " + sc.Defect
	}
	return d + " (expect " + sc.Expect + ")"
}

// buildStream lays out identification, comments and audio packets one per
// page, then applies the configured defect.
func buildStream(sc StreamConfig, rng *rand.Rand) ([]byte, error) {
	ident := &vorbis.IdentificationHeader{
		Channels:           sc.Channels,
		SampleRate:         sc.SampleRate,
		BitrateNominal:     int32(sc.Channels) * 64000,
		BlocksizeExponents: [2]uint8{8, 11},
		Framing:            true,
	}
	if sc.Defect == "bad-blocksize" {
		ident.BlocksizeExponents = [2]uint8{11, 8}
	}
	comments := &vorbis.CommentsHeader{
		Vendor: "vorbisprobe gen-ogg",
		Comments: []string{
			"TITLE=" + sc.Key,
			fmt.Sprintf("TRACKNUMBER=%d", sc.Number),
			"ENCODER=gen-ogg",
		},
		Framing: sc.Defect != "zero-framing",
	}

	packets := [][]byte{
		vorbis.EncodeIdentification(ident),
		vorbis.EncodeComments(comments),
	}
	if sc.Defect == "setup" {
		packets = append(packets, []byte{byte(vorbis.PacketSetup), 'v', 'o', 'r', 'b', 'i', 's', 0x00})
	}

	granules := []uint64{0, 0}
	if sc.Defect == "setup" {
		granules = append(granules, 0)
	}
	samplesPerPacket := uint64(sc.SampleRate) / packetsPerSecond
	n := int(sc.DurationSec * packetsPerSecond)
	for i := 1; i <= n; i++ {
		packets = append(packets, audioPacket(rng, 64+rng.Intn(192)))
		granules = append(granules, uint64(i)*samplesPerPacket)
	}

	serial := uint32(serialBase + sc.Number)
	var buf bytes.Buffer
	seq := uint32(0)
	for i, pkt := range packets {
		var flags ogg.HeaderFlags
		switch {
		case i == 0:
			flags = ogg.FlagFirstPage
		case i == len(packets)-1:
			flags = ogg.FlagLastPage
		}
		if sc.Defect == "continued" && i == 3 {
			flags |= ogg.FlagContinued
		}
		if sc.Defect == "sequence-gap" && i == 5 {
			seq += 3
		}

		page, err := ogg.NewPage(flags, granules[i], serial, seq, pkt)
		if err != nil {
			return nil, err
		}
		enc := page.Encode()
		if sc.Defect == "bad-crc" && i == 4 {
			enc[len(enc)-1] ^= 0xFF
		}
		buf.Write(enc)
		seq++
	}
	return buf.Bytes(), nil
}

// audioPacket returns size bytes of noise with an audio type bit.
func audioPacket(rng *rand.Rand, size int) []byte {
	pkt := make([]byte, size)
	rng.Read(pkt)
	pkt[0] &^= 0x01
	return pkt
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
