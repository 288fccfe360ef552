// Package mediaserv serves local media files to cast endpoints. Devices
// pull the bytes themselves after receiving a media URL, so responses
// carry the Range, CORS, and DLNA headers real renderers require.
package mediaserv

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/castbridge/cast-bridge/internal/metrics"
)

// Handler serves /media/ and /subtitles/ under their allow-listed
// roots.
type Handler struct {
	MediaRoot    string
	SubtitleRoot string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		setCORS(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/media/"):
		h.serveMedia(w, r)
	case strings.HasPrefix(r.URL.Path, "/subtitles/"):
		h.serveSubtitle(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveMedia(w http.ResponseWriter, r *http.Request) {
	rel, ok := decodePath(strings.TrimPrefix(r.URL.EscapedPath(), "/media/"))
	if !ok {
		http.Error(w, "bad path encoding", http.StatusBadRequest)
		return
	}
	full, ok := resolveUnder(h.MediaRoot, rel)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	h.serveFile(w, r, full, mimeForPath(full))
}

func (h *Handler) serveSubtitle(w http.ResponseWriter, r *http.Request) {
	rel, ok := decodePath(strings.TrimPrefix(r.URL.EscapedPath(), "/subtitles/"))
	if !ok {
		http.Error(w, "bad path encoding", http.StatusBadRequest)
		return
	}
	if !strings.HasSuffix(rel, ".vtt") {
		http.NotFound(w, r)
		return
	}
	root := h.SubtitleRoot
	if root == "" {
		root = h.MediaRoot
	}
	full, ok := resolveUnder(root, rel)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	h.serveFile(w, r, full, "text/vtt; charset=utf-8")
}

// serveFile streams one file with Range support. Multi-range requests
// are answered as if no Range was sent.
func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, fullPath, mime string) {
	f, err := os.Open(fullPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		http.NotFound(w, r)
		return
	}
	size := fi.Size()

	hdr := w.Header()
	setCORS(hdr)
	hdr.Set("Accept-Ranges", "bytes")
	hdr.Set("Content-Type", mime)
	hdr.Set("transferMode.dlna.org", "Streaming")
	hdr.Set("contentFeatures.dlna.org", contentFeatures(mime))
	hdr.Set("Cache-Control", "no-cache")

	start, end, status := parseRange(r.Header.Get("Range"), size)
	switch status {
	case http.StatusRequestedRangeNotSatisfiable:
		hdr.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	case http.StatusPartialContent:
		hdr.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		hdr.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return
		}
		n, _ := io.CopyN(w, f, end-start+1)
		metrics.MediaBytesServed.Add(float64(n))
	default:
		hdr.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		n, _ := io.Copy(w, f)
		metrics.MediaBytesServed.Add(float64(n))
	}
}

// decodePath percent-decodes one URL path segment sequence. ok=false on
// malformed escapes.
func decodePath(escaped string) (string, bool) {
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return decoded, true
}

// resolveUnder normalizes rel against root and refuses anything that
// escapes it. Dot-dot segments are refused outright rather than
// normalized away.
func resolveUnder(root, rel string) (string, bool) {
	if root == "" {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", false
		}
	}
	cleaned := path.Clean("/" + rel)
	full := filepath.Join(root, filepath.FromSlash(cleaned))
	rootClean := filepath.Clean(root)
	if full != rootClean && !strings.HasPrefix(full, rootClean+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// parseRange interprets a Range header against size. The returned
// status is 206 for a satisfiable single range, 416 for an
// unsatisfiable one, and 200 otherwise (absent, non-bytes, multi-range
// or malformed headers all fall back to the full file).
func parseRange(header string, size int64) (start, end int64, status int) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, http.StatusOK
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, 0, http.StatusOK
	}
	switch {
	case first == "" && last != "":
		// suffix: last N bytes
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, http.StatusOK
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size - 1
	case first != "":
		s, err := strconv.ParseInt(first, 10, 64)
		if err != nil {
			return 0, 0, http.StatusOK
		}
		start = s
		if last == "" {
			end = size - 1
		} else {
			e, err := strconv.ParseInt(last, 10, 64)
			if err != nil {
				return 0, 0, http.StatusOK
			}
			end = e
			if end > size-1 {
				end = size - 1
			}
		}
	default:
		return 0, 0, http.StatusOK
	}
	if start > end || start >= size {
		return 0, 0, http.StatusRequestedRangeNotSatisfiable
	}
	return start, end, http.StatusPartialContent
}

func setCORS(hdr http.Header) {
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Range, Content-Type")
	hdr.Set("Access-Control-Expose-Headers", "Content-Range, Content-Length, Accept-Ranges")
}

func mimeForPath(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".ts", ".m2ts":
		return "video/mp2t"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".aac":
		return "audio/aac"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

func contentFeatures(mime string) string {
	profile := "AVC_MP4_HP_HD_AAC"
	if mime == "video/x-matroska" {
		profile = "MATROSKA"
	}
	return "DLNA.ORG_PN=" + profile + ";DLNA.ORG_FLAGS=01700000000000000000000000000000"
}
