package web

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/vbonduro/buildtrack/internal/filestore"
	"github.com/vbonduro/buildtrack/internal/service"
)

const maxUploadSize = 50 * 1024 * 1024 // 50 MB

// allowedImageTypes is the set of MIME types accepted for uploaded photos.
// net/http.DetectContentType handles JPEG, PNG, and GIF via magic-byte
// sniffing. WebP is detected separately because the WHATWG sniff spec (and
// therefore the stdlib) does not include a WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// allowedFileTypes extends the image types with the document formats a
// phase file may be.
var allowedFileTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mimeType := http.DetectContentType(data)
	if allowedImageTypes[mimeType] {
		return mimeType, true
	}
	return "", false
}

// allowedFileMIME accepts every image type plus documents.
func allowedFileMIME(data []byte) (string, bool) {
	if m, ok := allowedImageMIME(data); ok {
		return m, true
	}
	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil || !allowedFileTypes[mediaType] {
		return "", false
	}
	return mediaType, true
}

// readUpload reads the named multipart file. It writes the error response
// itself and returns ok=false on failure.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) (data []byte, filename string, ok bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to parse form"})
		return nil, "", false
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: field + " file required"})
		return nil, "", false
	}
	defer closeWithLog(file, "upload file", s.logger)

	data, err = io.ReadAll(file)
	if err != nil {
		s.logger.Error("read upload failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to read file"})
		return nil, "", false
	}
	return data, header.Filename, true
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	data, _, ok := s.readUpload(w, r, "image")
	if !ok {
		return
	}
	mimeType, ok := allowedImageMIME(data)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unsupported image format"})
		return
	}

	photo, err := s.service.AddPhoto(r.Context(), r.PathValue("id"), r.FormValue("hint"), r.FormValue("comment"),
		service.Upload{MIMEType: mimeType, Body: bytes.NewReader(data)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := s.readUpload(w, r, "file")
	if !ok {
		return
	}
	mimeType, ok := allowedFileMIME(data)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unsupported file format"})
		return
	}

	file, err := s.service.AddFile(r.Context(), r.PathValue("id"), r.FormValue("phase"),
		service.Upload{Name: filename, MIMEType: mimeType, Body: bytes.NewReader(data)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

// handleGetFile serves an attachment only to callers who can read the
// project it belongs to.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	reader, mimeType, err := s.service.OpenFile(r.Context(), r.PathValue("id"), key)
	if errors.Is(err, filestore.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer closeWithLog(reader, "file reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write file failed", "key", key, "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
