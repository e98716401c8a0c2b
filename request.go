package gantry

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
)

// --- Request Helpers

// DecodeJSON decodes the request body into v.
func DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// UploadedFile represents a file from a multipart form
type UploadedFile struct {
	File     multipart.File
	Header   *multipart.FileHeader
	Filename string
	Size     int64
}

// Close closes the underlying file
func (u *UploadedFile) Close() error {
	return u.File.Close()
}

// ReadAll reads all bytes from the file
func (u *UploadedFile) ReadAll() ([]byte, error) {
	return io.ReadAll(u.File)
}

// ParseMultipartForm parses a multipart form with given max memory (in MB).
// Default is 32MB if maxMemoryMB is 0.
func ParseMultipartForm(r *http.Request, maxMemoryMB int64) error {
	if maxMemoryMB == 0 {
		maxMemoryMB = 32
	}
	return r.ParseMultipartForm(maxMemoryMB << 20)
}

// GetUploadedFile retrieves an uploaded file from a parsed multipart form.
func GetUploadedFile(r *http.Request, field string) (*UploadedFile, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	return &UploadedFile{
		File:     file,
		Header:   header,
		Filename: header.Filename,
		Size:     header.Size,
	}, nil
}
