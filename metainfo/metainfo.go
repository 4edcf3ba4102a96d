// Package metainfo decodes a .torrent file into a piecework.Descriptor
// and the list of trackers to announce to, following the teacher's
// bencode decode/re-marshal approach for computing the infohash.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"

	bencode "github.com/jackpal/bencode-go"

	"github.com/wyattjsimon/leech/piecework"
)

// File describes one file entry in a multi-file torrent.
type File struct {
	Length int
	Path   []string
}

type info struct {
	PieceLength int    `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Name        string `bencode:"name"`
	Length      int    `bencode:"length"`
	Files       []File `bencode:"files"`
}

type rawMetaInfo struct {
	Info         info       `bencode:"info"`
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
}

// MetaInfo is the decoded form of a .torrent file: the piece descriptor
// needed to drive a download, plus every tracker URL to announce to.
type MetaInfo struct {
	Descriptor *piecework.Descriptor
	Files      []File
	Announce   string
	Trackers   []string
}

// Decode reads a complete .torrent file from r. The infohash is computed
// by re-marshaling the decoded "info" sub-dictionary and hashing the
// result, not by slicing bytes out of the original input - bencode has
// no canonical byte-for-byte requirement on dict key order as decoded
// into a Go map, but jackpal/bencode-go marshals map keys in sorted
// order, matching what every well-behaved encoder produces on the wire.
func Decode(r io.ReadSeeker) (*MetaInfo, error) {
	generic, err := bencode.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("metainfo: decode: %w", err)
	}
	top, ok := generic.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("metainfo: malformed torrent file: not a dictionary")
	}
	infoDict, ok := top["info"]
	if !ok {
		return nil, fmt.Errorf("metainfo: malformed torrent file: missing info dictionary")
	}

	var infoBuf bytes.Buffer
	if err := bencode.Marshal(&infoBuf, infoDict); err != nil {
		return nil, fmt.Errorf("metainfo: re-marshal info dict: %w", err)
	}
	infoHash := sha1.Sum(infoBuf.Bytes())

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("metainfo: seek: %w", err)
	}
	var raw rawMetaInfo
	if err := bencode.Unmarshal(r, &raw); err != nil {
		return nil, fmt.Errorf("metainfo: unmarshal: %w", err)
	}

	if len(raw.Info.Pieces)%20 != 0 {
		return nil, fmt.Errorf("metainfo: pieces string length %d is not a multiple of 20", len(raw.Info.Pieces))
	}
	numPieces := len(raw.Info.Pieces) / 20
	hashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(hashes[i][:], raw.Info.Pieces[i*20:(i+1)*20])
	}

	totalLength := raw.Info.Length
	if len(raw.Info.Files) > 0 {
		totalLength = 0
		for _, f := range raw.Info.Files {
			totalLength += f.Length
		}
	}

	desc := &piecework.Descriptor{
		TotalLength: totalLength,
		PieceLength: raw.Info.PieceLength,
		Name:        raw.Info.Name,
		PieceHashes: hashes,
		InfoHash:    infoHash,
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}

	return &MetaInfo{
		Descriptor: desc,
		Files:      raw.Info.Files,
		Announce:   raw.Announce,
		Trackers:   flattenTrackers(raw.Announce, raw.AnnounceList),
	}, nil
}

// flattenTrackers collapses the announce URL followed by every tier of
// announce-list into one ordered slice with duplicates removed,
// preserving first-seen order. The announce URL is included even when an
// announce-list is present.
func flattenTrackers(announce string, tiers [][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	add(announce)
	for _, tier := range tiers {
		for _, u := range tier {
			add(u)
		}
	}
	return out
}
