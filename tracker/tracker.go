// Package tracker announces to a torrent's tracker URLs over HTTP and
// parses the compact peer list from the response, following the
// teacher's queryHTTPTracker query-building shape.
package tracker

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bencode "github.com/jackpal/bencode-go"
	"github.com/hashicorp/go-multierror"

	"github.com/wyattjsimon/leech/session"
)

const defaultNumWant = 50

// Client announces against a set of tracker URLs on behalf of one
// infohash/peerID/listening-port identity.
type Client struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Port     uint16

	HTTPClient *http.Client
}

// NewClient constructs a Client with a bounded-timeout HTTP client, the
// way the teacher's tracker would if it set one at all - the tutorial
// lineage this client descends from uses http.Get with no deadline,
// which is a liveness hazard against an unresponsive tracker.
func NewClient(infoHash, peerID [20]byte, port uint16) *Client {
	return &Client{
		InfoHash:   infoHash,
		PeerID:     peerID,
		Port:       port,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type announceResponse struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

// AnnounceAll queries every URL in trackers in order and merges their
// peer lists, deduplicated by endpoint. It succeeds as long as at least
// one tracker answers; failures from the rest are collected into a
// single *multierror.Error and returned alongside any peers obtained, so
// a caller can decide whether partial success is good enough.
func (c *Client) AnnounceAll(trackers []string, left int) ([]session.Endpoint, error) {
	seen := make(map[string]session.Endpoint)
	var errs *multierror.Error

	for _, trackerURL := range trackers {
		eps, err := c.announceOne(trackerURL, left)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", trackerURL, err))
			continue
		}
		for _, ep := range eps {
			seen[ep.String()] = ep
		}
	}

	peers := make([]session.Endpoint, 0, len(seen))
	for _, ep := range seen {
		peers = append(peers, ep)
	}
	if len(peers) == 0 && errs != nil {
		return nil, errs.ErrorOrNil()
	}
	return peers, errs.ErrorOrNil()
}

func (c *Client) announceOne(trackerURL string, left int) ([]session.Endpoint, error) {
	u, err := url.Parse(trackerURL)
	if err != nil {
		return nil, fmt.Errorf("parse tracker url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("tracker url is not absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported tracker scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("info_hash", string(c.InfoHash[:]))
	q.Set("peer_id", string(c.PeerID[:]))
	q.Set("port", strconv.Itoa(int(c.Port)))
	q.Set("uploaded", "0")
	q.Set("downloaded", "0")
	q.Set("left", strconv.Itoa(left))
	q.Set("compact", "1")
	q.Set("numwant", strconv.Itoa(defaultNumWant))
	q.Set("event", "started")
	u.RawQuery = q.Encode()

	resp, err := c.HTTPClient.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("announce: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("announce: unexpected status %s", resp.Status)
	}

	var ar announceResponse
	if err := bencode.Unmarshal(resp.Body, &ar); err != nil {
		return nil, fmt.Errorf("decode announce response: %w", err)
	}
	if ar.FailureReason != "" {
		return nil, fmt.Errorf("tracker failure: %s", ar.FailureReason)
	}

	return parseCompactPeers(ar.Peers)
}

// parseCompactPeers splits a compact peer-list string into 6-byte
// (4-byte IPv4 + 2-byte big-endian port) records.
func parseCompactPeers(peers string) ([]session.Endpoint, error) {
	const recordLen = 6
	if len(peers)%recordLen != 0 {
		return nil, fmt.Errorf("compact peer list length %d is not a multiple of %d", len(peers), recordLen)
	}
	n := len(peers) / recordLen
	out := make([]session.Endpoint, 0, n)
	for i := 0; i < n; i++ {
		off := i * recordLen
		ip := net.IPv4(peers[off], peers[off+1], peers[off+2], peers[off+3])
		port := uint16(peers[off+4])<<8 | uint16(peers[off+5])
		out = append(out, session.Endpoint{Host: ip, Port: port})
	}
	return out, nil
}
