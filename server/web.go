package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/archive"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/message"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/raster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/sog"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/splat"

	"github.com/cespare/xxhash/v2"
)

// BadRequest writes a 400 error with the formatted message and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusBadRequest, format, args...)
}

// Unauthorized writes a 401 error with the formatted message and logs it.
func Unauthorized(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusUnauthorized, format, args...)
}

func httpError(w http.ResponseWriter, r *http.Request, status int, format string, args ...interface{}) {
	errorMsg := fmt.Sprintf("%s (%s).", fmt.Sprintf(format, args...), r.URL.Path)
	lfs.Errorf("%s\n", errorMsg)
	http.Error(w, errorMsg, status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		lfs.Errorf("Unable to write JSON response: %v\n", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"generator": lfs.Generator,
		"version":   lfs.Version.String(),
		"codecs":    raster.EncoderNames(),
	})
}

// exportRequest identifies an upload and its export parameters.
type exportRequest struct {
	body       []byte
	iterations int
	codec      string
}

func (req exportRequest) key() string {
	var params [8]byte
	binary.LittleEndian.PutUint64(params[:], uint64(req.iterations))
	h := xxhash.New()
	h.Write(params[:])
	h.WriteString(req.codec)
	h.Write(req.body)
	return strconv.FormatUint(h.Sum64(), 16)
}

// badUpload marks a PLY body that could not be parsed.
type badUpload struct {
	error
}

type exportReply struct {
	bundle []byte
	result *sog.Result
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	req := exportRequest{iterations: s.cfg.Export.Iterations, codec: s.cfg.Export.Codec}
	query := r.URL.Query()
	if str := query.Get("iterations"); str != "" {
		n, err := strconv.Atoi(str)
		if err != nil || n <= 0 {
			BadRequest(w, r, "iterations must be a positive integer, got %q", str)
			return
		}
		req.iterations = n
	}
	if str := query.Get("codec"); str != "" {
		req.codec = strings.ToLower(str)
	}
	if _, err := raster.Lookup(req.codec); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}

	var err error
	req.body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes()))
	if err != nil {
		BadRequest(w, r, "unable to read PLY upload: %v", err)
		return
	}

	key := req.key()
	shared := true
	v, err := s.flight.Do(key, func() (interface{}, error) {
		shared = false
		return s.export(r.Context(), req)
	})
	if shared {
		lfs.Infof("Export request %s shared an in-flight export\n", key)
	}
	reply, _ := v.(*exportReply)

	if !shared {
		var res *sog.Result
		if reply != nil {
			res = reply.result
		}
		if perr := s.events.Publish(message.NewActivity(res, r.RemoteAddr, "http", err)); perr != nil {
			lfs.Errorf("unable to publish export activity: %v\n", perr)
		}
	}

	if err != nil {
		var bad badUpload
		switch {
		case errors.As(err, &bad), sog.KindOf(err) == sog.ValidationError:
			BadRequest(w, r, "%v", err)
		case sog.IsCancelled(err):
			httpError(w, r, http.StatusServiceUnavailable, "%v", err)
		default:
			httpError(w, r, http.StatusInternalServerError, "%v", err)
		}
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="scene.sog"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(reply.bundle)))
	w.Header().Set("X-Export-Id", reply.result.ID)
	if _, err := w.Write(reply.bundle); err != nil {
		lfs.Errorf("Unable to write bundle %s: %v\n", reply.result.ID, err)
	}
}

// export runs one export into memory.  A client disconnect cancels it at the next stage
// boundary.
func (s *Server) export(ctx context.Context, req exportRequest) (*exportReply, error) {
	set, err := splat.ReadPLY(bytes.NewReader(req.body))
	if err != nil {
		return nil, badUpload{err}
	}
	opts, err := s.cfg.ExportOptions(s.clusterer)
	if err != nil {
		return nil, err
	}
	if opts.Encoder, err = raster.Lookup(req.codec); err != nil {
		return nil, err
	}
	opts.Iterations = req.iterations
	var buf bytes.Buffer
	opts.Sink = archive.NewZip(&buf, archive.Options{})
	lfs.Infof("Exporting uploaded scene: %s\n", set)

	res, err := sog.Write(ctx, set, opts)
	if err != nil {
		return &exportReply{result: res}, err
	}
	lfs.Infof("Export %s: %d splats -> %s in %s\n", res.ID, res.Count, lfs.Bytes(int64(buf.Len())), res.Elapsed)
	return &exportReply{bundle: buf.Bytes(), result: res}, nil
}
