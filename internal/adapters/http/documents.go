package httpadapter

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const (
	uploadField          = "files"
	multipartMemoryBytes = 32 << 20
)

func (rt *Router) uploadDocuments(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	limit := rt.cfg.APIMaxUploadRequestBytes
	if limit > 0 {
		if r.ContentLength > limit {
			writeTooLarge(w, limit)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(w, tooLarge.Limit)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form with field 'files' is required"})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File[uploadField]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no files provided"})
		return
	}

	files := make([]domain.UploadFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unable to read file %q", header.Filename)})
			return
		}
		opened = append(opened, f)
		files = append(files, domain.UploadFile{
			Filename: header.Filename,
			MimeType: mediaType(header.Header.Get("Content-Type")),
			Size:     header.Size,
			Body:     f,
		})
	}

	result, err := rt.ingestor.UploadBatch(r.Context(), caller, files)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if rt.metrics != nil {
		var stored int64
		for _, uploaded := range result.Results {
			stored += uploaded.Size
		}
		rt.metrics.RecordBatch(metricsService, result.Total, result.Uploaded, stored)
	}
	writeJSON(w, http.StatusAccepted, result)
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": fmt.Sprintf("request body exceeds %d bytes", limit)})
}

// mediaType drops parameters such as charset from a part's Content-Type.
func mediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return raw
	}
	return parsed
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	filter, err := parseDocumentFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	docs, err := rt.reader.ListDocuments(r.Context(), caller, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

func parseDocumentFilter(r *http.Request) (domain.DocumentFilter, error) {
	q := r.URL.Query()
	filter := domain.DocumentFilter{
		ProcessingStatus: domain.ProcessingStatus(strings.TrimSpace(q.Get("processingStatus"))),
		OCRStatus:        domain.OCRStatus(strings.TrimSpace(q.Get("ocrStatus"))),
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		return filter, domain.WrapError(domain.ErrInvalidInput, "parse limit", err)
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		return filter, domain.WrapError(domain.ErrInvalidInput, "parse offset", err)
	}
	return filter, nil
}

func queryInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("expected a non-negative integer, got %q", raw)
	}
	return value, nil
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	view, err := rt.reader.GetDocument(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) triggerClassification(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	receipt, err := rt.stages.TriggerClassification(r.Context(), caller, r.PathValue("id"))
	rt.writeReceipt(w, r, domain.TaskClassify, receipt, err)
}

func (rt *Router) triggerExtraction(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	receipt, err := rt.stages.TriggerExtraction(r.Context(), caller, r.PathValue("id"))
	rt.writeReceipt(w, r, domain.TaskExtract, receipt, err)
}

func (rt *Router) writeReceipt(w http.ResponseWriter, r *http.Request, kind domain.TaskKind, receipt domain.TriggerReceipt, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordTrigger(metricsService, string(kind), receipt.Dispatched)
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (rt *Router) resetClassification(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	if err := rt.stages.ResetClassification(r.Context(), caller, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) resetExtraction(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	if err := rt.stages.ResetExtraction(r.Context(), caller, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
