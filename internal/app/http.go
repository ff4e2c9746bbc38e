package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"attest/api/internal/archive"
	"attest/api/internal/docgen"
	"attest/api/internal/editor"
	"attest/api/internal/qsearch"
	"attest/api/internal/store"
)

// maxUploadBytes caps KYC uploads read into memory.
const maxUploadBytes = 64 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "questionnaires":
		s.handleQuestionnaires(w, r, token, parts[2:])
	case "documents":
		s.handleDocuments(w, r, token, parts[2:])
	case "search":
		s.handleSearch(w, r, parts[2:])
	case "session":
		s.handleSession(w, r, token, parts[2:])
	case "kyc":
		s.handleKYC(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{"backends": map[string]any{"status": "ok"}}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["backends"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleQuestionnaires(w http.ResponseWriter, r *http.Request, token string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		questionnaires, err := s.service.Questionnaires(token)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questionnaires": questionnaires})

	case len(rest) == 1 && rest[0] == "load" && r.Method == http.MethodPost:
		var body struct {
			ParentID string `json:"parentId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		questionnaires, err := s.service.LoadQuestionnaires(r.Context(), token, body.ParentID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questionnaires": questionnaires})

	case len(rest) == 1 && r.Method == http.MethodGet:
		q, err := s.service.Questionnaire(token, rest[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)

	case len(rest) == 2 && rest[1] == "urls" && r.Method == http.MethodGet:
		urls, err := s.service.QuestionnaireURLs(r.Context(), token, rest[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, urls)

	case len(rest) == 2 && rest[1] == "archive" && r.Method == http.MethodGet:
		history, err := s.service.ArchiveHistory(rest[0], queryInt(r, "limit", 50))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": history})

	case len(rest) == 3 && rest[1] == "archive" && r.Method == http.MethodGet:
		content, err := s.service.ArchiveContent(rest[0], rest[2], docgen.DocType(r.URL.Query().Get("type")), r.URL.Query().Get("name"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"content": content})

	case len(rest) == 2 && rest[1] == "documents" && r.Method == http.MethodPost:
		s.handleGenerate(w, r, token, rest[0])

	case len(rest) >= 4 && rest[1] == "sections":
		s.handleSections(w, r, token, rest[0], rest[2:])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleSections routes the per-cell editing endpoints:
//
//	PUT  .../sections/{s}/questions/{q}/answer
//	PUT  .../sections/{s}/questions/{q}/state
//	GET  .../sections/{s}/questions/{q}
//	POST .../sections/{s}/save
func (s *HTTPServer) handleSections(w http.ResponseWriter, r *http.Request, token, questionnaireID string, rest []string) {
	section, err := strconv.Atoi(rest[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", "section index must be a number", nil)
		return
	}

	if len(rest) == 2 && rest[1] == "save" && r.Method == http.MethodPost {
		if err := s.service.SaveSection(r.Context(), token, questionnaireID, section); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": true})
		return
	}

	if len(rest) < 3 || rest[1] != "questions" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	question, err := strconv.Atoi(rest[2])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", "question index must be a number", nil)
		return
	}
	cell := editor.CellKey{QuestionnaireID: questionnaireID, Section: section, Question: question}

	switch {
	case len(rest) == 3 && r.Method == http.MethodGet:
		answer, implemented, pending, err := s.service.CellStatus(token, cell)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"answer":      answer,
			"implemented": implemented,
			"pending":     pending,
		})

	case len(rest) == 4 && rest[3] == "answer" && r.Method == http.MethodPut:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateAnswer(token, cell, body.Text); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"pending": true})

	case len(rest) == 4 && rest[3] == "state" && r.Method == http.MethodPut:
		var body struct {
			Implemented bool `json:"implemented"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateState(r.Context(), token, cell, body.Implemented); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request, token, questionnaireID string) {
	var body struct {
		Type         string         `json:"type"`
		SectionIndex *int           `json:"sectionIndex"`
		Options      docgen.Options `json:"options"`
		GeneratedBy  string         `json:"generatedBy"`
		Description  string         `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	sectionIndex := docgen.ComprehensiveSection
	if body.SectionIndex != nil {
		sectionIndex = *body.SectionIndex
	}

	result, err := s.service.GenerateDocument(r.Context(), token, GenerateRequest{
		QuestionnaireID: questionnaireID,
		Type:            docgen.DocType(body.Type),
		SectionIndex:    sectionIndex,
		Options:         body.Options,
		GeneratedBy:     body.GeneratedBy,
		Description:     body.Description,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	header := w.Header()
	header.Set("Content-Type", result.File.MimeType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.File.Filename))
	header.Set("X-Document-Id", result.Document.ID)
	header.Set("X-Document-Tier", string(result.File.Tier))
	if result.Document.URL != "" {
		header.Set("X-Document-Url", result.Document.URL)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.File.Data)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, token string, rest []string) {
	if len(rest) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	docs, err := s.service.GeneratedDocuments(r.Context(), token, queryInt(r, "limit", 20))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, rest []string) {
	if len(rest) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	response, err := s.service.SearchQuestions(qsearch.Query{
		Text:                  r.URL.Query().Get("q"),
		FilterQuestionnaireID: r.URL.Query().Get("questionnaireId"),
		Limit:                 queryInt(r, "limit", 20),
		Offset:                queryInt(r, "offset", 0),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, token string, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "flush" && r.Method == http.MethodPost:
		if err := s.service.FlushSession(token); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"flushed": true})

	case len(rest) == 0 && r.Method == http.MethodDelete:
		s.service.CloseSession(token)
		writeJSON(w, http.StatusOK, map[string]any{"closed": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleKYC(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "clients" && r.Method == http.MethodPost:
		var body struct {
			Name           string `json:"name"`
			RegistrationNo string `json:"registrationNo"`
			ContactEmail   string `json:"contactEmail"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		client, err := s.service.CreateKYCClient(r.Context(), body.Name, body.RegistrationNo, body.ContactEmail)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, clientJSON(client))

	case len(rest) == 1 && rest[0] == "clients" && r.Method == http.MethodGet:
		clients, err := s.service.ListKYCClients(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(clients))
		for _, client := range clients {
			payload = append(payload, clientJSON(client))
		}
		writeJSON(w, http.StatusOK, map[string]any{"clients": payload})

	case len(rest) == 3 && rest[0] == "clients" && rest[2] == "requests" && r.Method == http.MethodPost:
		var body struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			RequestedBy string `json:"requestedBy"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		request, err := s.service.CreateKYCRequest(r.Context(), rest[1], body.Name, body.Description, body.RequestedBy)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, requestJSON(request))

	case len(rest) == 3 && rest[0] == "clients" && rest[2] == "requests" && r.Method == http.MethodGet:
		requests, err := s.service.ListKYCRequests(r.Context(), rest[1])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(requests))
		for _, request := range requests {
			payload = append(payload, requestJSON(request))
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": payload})

	case len(rest) == 3 && rest[0] == "requests" && rest[2] == "upload" && r.Method == http.MethodPost:
		filename := r.URL.Query().Get("filename")
		if filename == "" {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "filename query parameter is required", nil)
			return
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "read upload body", nil)
			return
		}
		if len(data) > maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "uploaded file exceeds the size limit", nil)
			return
		}
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		request, err := s.service.ReceiveKYCDocument(r.Context(), rest[1], filename, data, contentType)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, requestJSON(request))

	case len(rest) == 3 && rest[0] == "requests" && rest[2] == "review" && r.Method == http.MethodPost:
		var body struct {
			Verdict    string `json:"verdict"`
			ReviewedBy string `json:"reviewedBy"`
			Note       string `json:"note"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		request, err := s.service.ReviewKYCDocument(r.Context(), rest[1], body.Verdict, body.ReviewedBy, body.Note)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, requestJSON(request))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func clientJSON(client store.Client) map[string]any {
	return map[string]any{
		"id":             client.ID,
		"name":           client.Name,
		"registrationNo": client.RegistrationNo,
		"contactEmail":   client.ContactEmail,
		"createdAt":      client.CreatedAt,
	}
}

func requestJSON(request store.DocumentRequest) map[string]any {
	return map[string]any{
		"id":          request.ID,
		"clientId":    request.ClientID,
		"name":        request.Name,
		"description": request.Description,
		"status":      request.Status,
		"fileName":    request.FileName,
		"fileSize":    request.FileSize,
		"requestedBy": request.RequestedBy,
		"reviewedBy":  request.ReviewedBy,
		"reviewNote":  request.ReviewNote,
		"updatedAt":   request.UpdatedAt,
	}
}

type requestIDKey struct{}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrInvalidTransition) {
		return http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil
	}
	if errors.Is(err, archive.ErrBadQuestionnaireID) {
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
