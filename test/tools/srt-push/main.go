package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/vorbisprobe/ogg"
	"github.com/zsiec/vorbisprobe/vorbis"
)

type streamManifestEntry struct {
	Number int    `json:"number"`
	Key    string `json:"key"`
}

type manifest struct {
	Streams []streamManifestEntry `json:"streams"`
}

// defaultSampleRate paces streams whose identification header is unreadable.
const defaultSampleRate = 44100

func main() {
	allFlag := flag.Bool("all", false, "Push every generated fixture simultaneously")
	fileFlag := flag.String("file", "", "Single Ogg file to push")
	keyFlag := flag.String("key", "", "Stream key (default: filename without extension)")
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	onceFlag := flag.Bool("once", false, "Push the file once instead of looping")
	flag.Parse()

	if *allFlag {
		pushAll(*addrFlag, *onceFlag)
		return
	}

	filePath := *fileFlag
	if filePath == "" && flag.NArg() > 0 {
		filePath = flag.Arg(0)
	}
	if filePath == "" {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  srt-push --all                           Push all generated fixtures\n")
		fmt.Fprintf(os.Stderr, "  srt-push --file stream.ogg --key mykey   Push a single stream\n")
		os.Exit(1)
	}

	streamID := *keyFlag
	if streamID == "" {
		base := filepath.Base(filePath)
		streamID = "live/" + base[:len(base)-len(filepath.Ext(base))]
	}

	pushSingle(filePath, streamID, *addrFlag, *onceFlag)
}

func pushAll(addr string, once bool) {
	streamsDir := findStreamsDir()
	manifestPath := filepath.Join(streamsDir, "manifest.json")

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot read manifest at %s: %v\n", manifestPath, err)
		fmt.Fprintf(os.Stderr, "Run 'go run ./test/tools/gen-ogg' first.\n")
		os.Exit(1)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid manifest: %v\n", err)
		os.Exit(1)
	}
	if len(m.Streams) == 0 {
		fmt.Fprintf(os.Stderr, "No streams in manifest\n")
		os.Exit(1)
	}

	fmt.Printf("Pushing %d streams to %s\n", len(m.Streams), addr)

	var wg sync.WaitGroup
	for _, s := range m.Streams {
		file := filepath.Join(streamsDir, fmt.Sprintf("stream_%d.ogg", s.Number))
		if _, err := os.Stat(file); os.IsNotExist(err) {
			fmt.Printf("  Skipping stream %d (%s): file not found\n", s.Number, s.Key)
			continue
		}

		wg.Add(1)
		go func(file, key string, num int) {
			defer wg.Done()
			streamID := "live/" + key
			fmt.Printf("  Stream %d: %s -> %s\n", num, key, streamID)
			pushSingle(file, streamID, addr, once)
		}(file, s.Key, s.Number)

		time.Sleep(200 * time.Millisecond)
	}

	wg.Wait()
}

// timedPage is one raw page and the stream time at which it is due.
type timedPage struct {
	data []byte
	at   time.Duration
}

// splitPages cuts data into raw pages without checking checksums, so
// deliberately damaged fixtures are pushed byte for byte.
func splitPages(data []byte) ([]timedPage, error) {
	var (
		pages []timedPage
		rate  uint64 = defaultSampleRate
		last  time.Duration
	)
	for off := 0; off < len(data); {
		if len(data)-off < ogg.HeaderSize {
			return pages, fmt.Errorf("truncated page header at offset %d", off)
		}
		var h ogg.PageHeader
		h.DecodeWire(data[off : off+ogg.HeaderSize])
		if h.Magic != ogg.CapturePattern {
			return pages, fmt.Errorf("missing capture pattern at offset %d", off)
		}
		segEnd := off + ogg.HeaderSize + int(h.SegmentCount)
		if segEnd > len(data) {
			return pages, fmt.Errorf("truncated segment table at offset %d", off)
		}
		end := segEnd
		for _, lace := range data[off+ogg.HeaderSize : segEnd] {
			end += int(lace)
		}
		if end > len(data) {
			return pages, fmt.Errorf("truncated page body at offset %d", off)
		}

		if len(pages) == 0 {
			if pkt, err := vorbis.ReadPacket(data[segEnd:end]); err == nil && pkt.Identification != nil {
				rate = uint64(pkt.Identification.SampleRate)
			}
		}
		if g := h.GranulePosition; g != ^uint64(0) && rate > 0 {
			last = time.Duration(g * uint64(time.Second) / rate)
		}
		pages = append(pages, timedPage{data: data[off:end], at: last})
		off = end
	}
	if len(pages) == 0 {
		return nil, errors.New("no pages")
	}
	return pages, nil
}

func pushSingle(filePath, streamID, addr string, once bool) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		return
	}
	pages, err := splitPages(data)
	if err != nil {
		if len(pages) == 0 {
			fmt.Fprintf(os.Stderr, "[%s] %v\n", streamID, err)
			return
		}
		fmt.Fprintf(os.Stderr, "[%s] Warning: %v, pushing %d complete pages\n", streamID, err, len(pages))
	}

	fmt.Printf("File: %s (%d pages, %.1fs)\n", filePath, len(pages), pages[len(pages)-1].at.Seconds())

	for {
		fmt.Printf("[%s] Connecting to SRT %s...\n", streamID, addr)

		cfg := srt.DefaultConfig()
		cfg.StreamID = streamID

		conn, err := srt.Dial(addr, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] SRT connect failed: %v, retrying...\n", streamID, err)
			time.Sleep(time.Second)
			continue
		}

		fmt.Printf("[%s] Connected, streaming\n", streamID)
		writeErr := streamLoop(conn, pages, streamID, once)
		conn.Close()

		if writeErr == nil {
			return
		}
		fmt.Fprintf(os.Stderr, "[%s] Connection lost: %v, reconnecting...\n", streamID, writeErr)
		time.Sleep(time.Second)
	}
}

func streamLoop(conn *srt.Conn, pages []timedPage, streamID string, once bool) error {
	globalStart := time.Now()
	var offset time.Duration
	var totalBytesSent int64

	for loop := 1; ; loop++ {
		if loop > 1 {
			fmt.Printf("[%s] Loop %d complete (total sent: %.1f MB, elapsed: %s)\n",
				streamID, loop-1,
				float64(totalBytesSent)/(1024*1024),
				time.Since(globalStart).Truncate(time.Second))
		}

		for _, p := range pages {
			// Pace against the global clock so timing is continuous across
			// loop boundaries.
			if wait := pageDelay(offset+p.at, time.Since(globalStart)); wait > 0 {
				time.Sleep(wait)
			}
			if _, err := conn.Write(p.data); err != nil {
				return err
			}
			totalBytesSent += int64(len(p.data))
		}
		if once {
			return nil
		}
		offset += pages[len(pages)-1].at
	}
}

// pageDelay returns how long to wait before sending a page due at due when
// elapsed time has already passed.
func pageDelay(due, elapsed time.Duration) time.Duration {
	if due > elapsed {
		return due - elapsed
	}
	return 0
}

func findStreamsDir() string {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "getwd: %v\n", err)
		os.Exit(1)
	}
	for {
		candidate := filepath.Join(dir, "test", "streams")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Join("test", "streams")
		}
		dir = parent
	}
}
