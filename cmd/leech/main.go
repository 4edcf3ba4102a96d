// Command leech downloads a single torrent's payload from the swarm to a
// local file and exits. It never listens for inbound connections and
// never serves pieces to anyone else - a leecher, not a seeder.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/afero"

	"github.com/wyattjsimon/leech/collector"
	"github.com/wyattjsimon/leech/coordinator"
	"github.com/wyattjsimon/leech/internal/peerid"
	"github.com/wyattjsimon/leech/metainfo"
	"github.com/wyattjsimon/leech/stats"
	"github.com/wyattjsimon/leech/tracker"
)

// announcePort is the value reported to trackers in the "port" field.
// With no inbound listener, it advertises no real service, but trackers
// generally require a nonzero value.
const announcePort = 6881

func main() {
	torrentPath := flag.String("torrent", "", "path to a .torrent file (required)")
	outPath := flag.String("out", "", "output file path (defaults to the torrent's name in the current directory)")
	verbose := flag.Bool("v", false, "log protocol-level debug messages")
	flag.Parse()

	if *torrentPath == "" {
		fmt.Fprintln(os.Stderr, "leech: -torrent is required")
		flag.Usage()
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	debugLogger := log.New(io.Discard, "", log.LstdFlags)
	if *verbose {
		debugLogger.SetOutput(os.Stderr)
	}

	if err := run(*torrentPath, *outPath, logger, debugLogger); err != nil {
		logger.Fatalf("leech: %v", err)
	}
}

func run(torrentPath, outPath string, logger, debugLogger *log.Logger) error {
	f, err := os.Open(torrentPath)
	if err != nil {
		return fmt.Errorf("open torrent file: %w", err)
	}
	defer f.Close()

	mi, err := metainfo.Decode(f)
	if err != nil {
		return fmt.Errorf("decode torrent file: %w", err)
	}
	if outPath == "" {
		outPath = mi.Descriptor.Name
	}

	peerID, err := peerid.Generate()
	if err != nil {
		return fmt.Errorf("generate peer id: %w", err)
	}
	logger.Printf("infohash %s, peer id %s", hex.EncodeToString(mi.Descriptor.InfoHash[:]), hex.EncodeToString(peerID[:]))

	trackerClient := tracker.NewClient(mi.Descriptor.InfoHash, peerID, announcePort)
	endpoints, err := trackerClient.AnnounceAll(mi.Trackers, mi.Descriptor.TotalLength)
	if err != nil {
		logger.Printf("warning: some trackers failed: %v", err)
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("no peers returned by any tracker")
	}
	logger.Printf("got %d peers from %d trackers", len(endpoints), len(mi.Trackers))

	nPieces := len(mi.Descriptor.PieceHashes)
	col, err := collector.New(nPieces, mi.Descriptor.PieceLength, afero.NewOsFs(), outPath)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}

	statsTracker := stats.NewTracker()

	uiprogress.Start()
	defer uiprogress.Stop()
	bar := uiprogress.AddBar(nPieces)
	bar.AppendCompleted()
	var connected int
	bar.AppendFunc(func(b *uiprogress.Bar) string {
		return "peers: " + strconv.Itoa(connected)
	})
	bar.AppendElapsed()

	onProgress := func(p coordinator.Progress) {
		connected = p.ConnectedPeers
		bar.Set(col.CollectedCount())
	}

	co, err := coordinator.New(mi.Descriptor, peerID, col, statsTracker, debugLogger, onProgress)
	if err != nil {
		return fmt.Errorf("construct coordinator: %w", err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			statsTracker.Tick()
		}
	}()

	if err := co.Run(endpoints); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	logger.Printf("download complete: %s (%d pieces, %d bytes)", outPath, nPieces, mi.Descriptor.TotalLength)
	return nil
}
