package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"docchat/internal/extractor"
)

// ========== Upload Endpoint ==========

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, fmt.Sprintf("File too large (limit %d MB)", limit>>20), http.StatusRequestEntityTooLarge)
			return
		}
		jsonErr(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil || header.Filename == "" {
		jsonErr(w, "No file selected", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !extractor.AllowedFile(header.Filename) {
		jsonErr(w, "Invalid file type. Please upload PDF or DOCX files only.", http.StatusBadRequest)
		return
	}

	res, err := s.assistant.Upload(r.Context(), userID(r), header.Filename, file)
	if err != nil {
		log.Printf("Upload of %s failed: %v", header.Filename, err)
		code := http.StatusInternalServerError
		if errors.Is(err, extractor.ErrNoText) || errors.Is(err, extractor.ErrUnsupportedFormat) {
			code = http.StatusUnprocessableEntity
		}
		jsonErr(w, "Error processing file: "+err.Error(), code)
		return
	}

	jsonResp(w, map[string]interface{}{
		"success":  true,
		"message":  fmt.Sprintf("File '%s' uploaded and processed successfully! You can now ask questions about it.", res.Filename),
		"filename": res.Filename,
		"pages":    res.Pages,
		"chunks":   res.Chunks,
	})
}

